package fifo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

// Pipe implements Transport on top of named POSIX FIFOs. Opening the write end blocks until a
// reader opens the same path and the other way around, which gives the attach semantics the
// pipelines rely on.
type Pipe struct {
	Mode uint32
}

func (p Pipe) ensure(name string) error {
	err := unix.Mkfifo(name, p.Mode)
	if err == nil || errors.Is(err, unix.EEXIST) {
		fi, statErr := os.Stat(name)
		if statErr != nil {
			return statErr
		}
		if fi.Mode()&os.ModeNamedPipe == 0 {
			return fmt.Errorf("%s exists and is not a named pipe", name)
		}
		return nil
	}
	return fmt.Errorf("mkfifo %s: %w", name, err)
}

// resize asks the kernel for a pipe buffer of the requested size. Failure only costs throughput.
func resize(f *os.File, sizeBytes int) {
	if sizeBytes <= 0 {
		return
	}
	got, err := unix.FcntlInt(f.Fd(), unix.F_SETPIPE_SZ, sizeBytes)
	if err != nil {
		log.Debugf("Could not resize pipe %s to %d bytes: %v", f.Name(), sizeBytes, err)
		return
	}
	log.Debugf("Pipe %s buffer is %d bytes", f.Name(), got)
}

// releaseInterval paces the attempts to free an open(2) stuck waiting for a peer.
const releaseInterval = 10 * time.Millisecond

// open performs a blocking open of one end of the FIFO. When done fires first, the opposite end
// is briefly opened non-blocking so the pending open returns, and the result is discarded.
func (p Pipe) open(done <-chan struct{}, name string, flag, opposite int) (*os.File, error) {
	if isDone(done) {
		return nil, ErrClosed
	}
	quit := make(chan struct{})
	defer close(quit)
	if done != nil {
		go func() {
			select {
			case <-done:
			case <-quit:
				return
			}
			t := time.NewTicker(releaseInterval)
			defer t.Stop()
			for {
				// A write end opened without a reader fails with ENXIO until the reader is inside open(2).
				if fd, err := unix.Open(name, opposite|unix.O_NONBLOCK|unix.O_CLOEXEC, 0); err == nil {
					unix.Close(fd)
				}
				select {
				case <-quit:
					return
				case <-t.C:
				}
			}
		}()
	}
	f, err := os.OpenFile(name, flag, 0)
	if err != nil {
		return nil, err
	}
	if isDone(done) {
		f.Close()
		return nil, ErrClosed
	}
	return f, nil
}

func (p Pipe) OpenProducer(done <-chan struct{}, name string, sizeBytes int) (Producer, error) {
	if sizeBytes <= 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrSize, sizeBytes)
	}
	if err := p.ensure(name); err != nil {
		return nil, err
	}
	log.Debugf("Waiting for a consumer on %s", name)
	f, err := p.open(done, name, os.O_WRONLY, unix.O_RDONLY)
	if errors.Is(err, ErrClosed) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("open %s for writing: %w", name, err)
	}
	resize(f, sizeBytes)
	return &pipeProducer{f: f}, nil
}

func (p Pipe) OpenConsumer(done <-chan struct{}, name string, sizeBytes int) (Consumer, error) {
	if sizeBytes <= 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrSize, sizeBytes)
	}
	if err := p.ensure(name); err != nil {
		return nil, err
	}
	log.Debugf("Waiting for a producer on %s", name)
	f, err := p.open(done, name, os.O_RDONLY, unix.O_WRONLY)
	if errors.Is(err, ErrClosed) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("open %s for reading: %w", name, err)
	}
	resize(f, sizeBytes)
	return &pipeConsumer{f: f}, nil
}

type pipeProducer struct {
	f *os.File
}

func (p *pipeProducer) Write(buf []byte, elemSize, count int) (int, error) {
	if err := checkRequest(buf, elemSize, count); err != nil {
		return 0, err
	}
	n, err := p.f.Write(buf[:elemSize*count])
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			err = ErrClosed
		}
		return n / elemSize, err
	}
	return count, nil
}

func (p *pipeProducer) Close() error {
	return p.f.Close()
}

type pipeConsumer struct {
	f *os.File
}

func (c *pipeConsumer) Read(buf []byte, elemSize, count int) (int, error) {
	if err := checkRequest(buf, elemSize, count); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(c.f, buf[:elemSize*count])
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n / elemSize, nil
	}
	if err != nil {
		if errors.Is(err, os.ErrClosed) {
			err = ErrClosed
		}
		return n / elemSize, err
	}
	return count, nil
}

func (c *pipeConsumer) Close() error {
	return c.f.Close()
}
