//go:build !linux

package pipeline

import (
	"runtime"

	"github.com/charmbracelet/log"
)

func pin(cpu int) (func(), error) {
	runtime.LockOSThread()
	if cpu >= 0 {
		log.Warnf("CPU pinning is only supported on linux, ignoring cpu %d", cpu)
	}
	return runtime.UnlockOSThread, nil
}
