// Package fifo moves fixed size elements between processes. A producer handle only becomes usable
// once a consumer has attached and vice versa, and a read that returns fewer elements than asked
// for marks the end of the stream.
package fifo

import (
	"errors"
	"fmt"
)

var (
	ErrClosed = errors.New("fifo closed")
	ErrSize   = errors.New("invalid fifo size")
)

// Producer is the writing end of a FIFO.
type Producer interface {
	// Write blocks until count elements of elemSize bytes from buf have been queued and returns
	// the number of whole elements written.
	Write(buf []byte, elemSize, count int) (int, error)
	Close() error
}

// Consumer is the reading end of a FIFO.
type Consumer interface {
	// Read blocks until count elements of elemSize bytes are available. A return value below count
	// means the producer went away.
	Read(buf []byte, elemSize, count int) (int, error)
	Close() error
}

// Transport opens named FIFOs of a fixed total size in bytes. Both opens block until the other
// end attaches or done is closed, in which case they return ErrClosed. A nil done never fires.
type Transport interface {
	OpenProducer(done <-chan struct{}, name string, sizeBytes int) (Producer, error)
	OpenConsumer(done <-chan struct{}, name string, sizeBytes int) (Consumer, error)
}

func isDone(done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// wakeOnDone calls wake once done fires. The returned stop ends the watch.
func wakeOnDone(done <-chan struct{}, wake func()) (stop func()) {
	if done == nil {
		return func() {}
	}
	quit := make(chan struct{})
	go func() {
		select {
		case <-done:
			wake()
		case <-quit:
		}
	}()
	return func() { close(quit) }
}

func checkRequest(buf []byte, elemSize, count int) error {
	if elemSize <= 0 || count < 0 {
		return fmt.Errorf("%w: element size %d, count %d", ErrSize, elemSize, count)
	}
	if len(buf) < elemSize*count {
		return fmt.Errorf("%w: buffer holds %d bytes, need %d", ErrSize, len(buf), elemSize*count)
	}
	return nil
}

// New returns the transport registered under kind.
func New(kind string) (Transport, error) {
	switch kind {
	case "", "pipe":
		return Pipe{Mode: 0o666}, nil
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown fifo transport %q", kind)
	}
}
