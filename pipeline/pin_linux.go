package pipeline

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// pin locks the calling goroutine to its OS thread and, when cpu is not negative, restricts that
// thread to a single CPU. The returned func undoes the lock.
func pin(cpu int) (func(), error) {
	runtime.LockOSThread()
	if cpu < 0 {
		return runtime.UnlockOSThread, nil
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return nil, fmt.Errorf("could not pin to cpu %d: %w", cpu, err)
	}
	// The thread's affinity is now dirty; let it exit with the goroutine.
	return func() {}, nil
}
