package buffer

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Alignment is the minimum alignment of every Aligned buffer. Anonymous mappings are page
// aligned, which satisfies it.
const Alignment = 64

var ErrFreed = errors.New("buffer already freed")

// Aligned is a fixed capacity byte buffer backed by an anonymous memory mapping. It is allocated
// once when a pipeline starts and released once when it stops; it is never resized.
type Aligned struct {
	mem  []byte
	size int
}

// New maps a buffer of at least size bytes. The mapping is rounded up to a whole number of
// Alignment blocks so a transport may DMA into the tail safely.
func New(size int) (*Aligned, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid buffer size %d", size)
	}
	allocSize := size
	if rem := size % Alignment; rem != 0 {
		allocSize += Alignment - rem
	}
	mem, err := unix.Mmap(-1, 0, allocSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", allocSize, err)
	}
	return &Aligned{mem: mem, size: size}, nil
}

// Bytes returns the usable region of the buffer.
func (a *Aligned) Bytes() []byte {
	return a.mem[:a.size]
}

func (a *Aligned) Len() int {
	return a.size
}

// Float32s views the buffer as native-endian float32 values.
func (a *Aligned) Float32s() []float32 {
	if a.mem == nil {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&a.mem[0])), a.size/4)
}

// Int16s views the buffer as native-endian int16 values.
func (a *Aligned) Int16s() []int16 {
	if a.mem == nil {
		return nil
	}
	return unsafe.Slice((*int16)(unsafe.Pointer(&a.mem[0])), a.size/2)
}

// Int32s views the buffer as native-endian int32 values.
func (a *Aligned) Int32s() []int32 {
	if a.mem == nil {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&a.mem[0])), a.size/4)
}

// Free unmaps the buffer. Views obtained earlier must not be used afterwards.
func (a *Aligned) Free() error {
	if a.mem == nil {
		return ErrFreed
	}
	err := unix.Munmap(a.mem)
	a.mem = nil
	return err
}
