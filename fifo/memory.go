package fifo

import (
	"fmt"
	"sync"
)

// Memory is an in-process Transport. FIFOs are bounded byte rings looked up by name, with the same
// attach and end-of-stream behaviour as the named pipe transport.
type Memory struct {
	mu    sync.Mutex
	fifos map[string]*memFifo
}

func NewMemory() *Memory {
	return &Memory{fifos: make(map[string]*memFifo)}
}

type memFifo struct {
	mu       sync.Mutex
	cond     *sync.Cond
	data     []byte
	readPos  int
	size     int
	producer bool
	consumer bool
	wClosed  bool
	rClosed  bool
}

func (m *Memory) lookup(name string, sizeBytes int) (*memFifo, error) {
	if sizeBytes <= 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrSize, sizeBytes)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.fifos[name]
	if !ok {
		f = &memFifo{data: make([]byte, sizeBytes)}
		f.cond = sync.NewCond(&f.mu)
		m.fifos[name] = f
	}
	return f, nil
}

func (m *Memory) release(name string, f *memFifo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fifos[name] == f {
		delete(m.fifos, name)
	}
}

func (f *memFifo) broadcast() {
	f.mu.Lock()
	f.cond.Broadcast()
	f.mu.Unlock()
}

// attach marks one end as present and waits for the other. f.mu must be held. On cancel the mark
// is withdrawn and an unused fifo is dropped from the registry.
func (m *Memory) attach(done <-chan struct{}, name string, f *memFifo, self, peer *bool) error {
	*self = true
	f.cond.Broadcast()
	for !*peer {
		if isDone(done) {
			*self = false
			if !f.producer && !f.consumer {
				m.release(name, f)
			}
			return ErrClosed
		}
		f.cond.Wait()
	}
	return nil
}

// OpenProducer blocks until a consumer attaches to name.
func (m *Memory) OpenProducer(done <-chan struct{}, name string, sizeBytes int) (Producer, error) {
	f, err := m.lookup(name, sizeBytes)
	if err != nil {
		return nil, err
	}
	stop := wakeOnDone(done, f.broadcast)
	defer stop()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.producer {
		return nil, fmt.Errorf("fifo %s already has a producer", name)
	}
	if err := m.attach(done, name, f, &f.producer, &f.consumer); err != nil {
		return nil, err
	}
	return &memProducer{m: m, name: name, f: f}, nil
}

// OpenConsumer blocks until a producer attaches to name.
func (m *Memory) OpenConsumer(done <-chan struct{}, name string, sizeBytes int) (Consumer, error) {
	f, err := m.lookup(name, sizeBytes)
	if err != nil {
		return nil, err
	}
	stop := wakeOnDone(done, f.broadcast)
	defer stop()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumer {
		return nil, fmt.Errorf("fifo %s already has a consumer", name)
	}
	if err := m.attach(done, name, f, &f.consumer, &f.producer); err != nil {
		return nil, err
	}
	return &memConsumer{m: m, name: name, f: f}, nil
}

type memProducer struct {
	m    *Memory
	name string
	f    *memFifo
}

func (p *memProducer) Write(buf []byte, elemSize, count int) (int, error) {
	if err := checkRequest(buf, elemSize, count); err != nil {
		return 0, err
	}
	f := p.f
	f.mu.Lock()
	defer f.mu.Unlock()

	src := buf[:elemSize*count]
	written := 0
	for written < len(src) {
		for f.size == len(f.data) && !f.rClosed && !f.wClosed {
			f.cond.Wait()
		}
		if f.rClosed || f.wClosed {
			return written / elemSize, ErrClosed
		}
		writePos := (f.readPos + f.size) % len(f.data)
		n := min(len(f.data)-f.size, len(f.data)-writePos, len(src)-written)
		copy(f.data[writePos:writePos+n], src[written:written+n])
		f.size += n
		written += n
		f.cond.Broadcast()
	}
	return count, nil
}

func (p *memProducer) Close() error {
	f := p.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.wClosed {
		return ErrClosed
	}
	f.wClosed = true
	f.cond.Broadcast()
	if f.rClosed {
		p.m.release(p.name, f)
	}
	return nil
}

type memConsumer struct {
	m    *Memory
	name string
	f    *memFifo
}

func (c *memConsumer) Read(buf []byte, elemSize, count int) (int, error) {
	if err := checkRequest(buf, elemSize, count); err != nil {
		return 0, err
	}
	f := c.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rClosed {
		return 0, ErrClosed
	}

	dst := buf[:elemSize*count]
	read := 0
	for read < len(dst) {
		for f.size == 0 && !f.wClosed && !f.rClosed {
			f.cond.Wait()
		}
		if f.rClosed {
			return read / elemSize, ErrClosed
		}
		if f.size == 0 {
			// Producer gone and nothing left: end of stream.
			return read / elemSize, nil
		}
		n := min(f.size, len(f.data)-f.readPos, len(dst)-read)
		copy(dst[read:read+n], f.data[f.readPos:f.readPos+n])
		f.readPos = (f.readPos + n) % len(f.data)
		f.size -= n
		read += n
		f.cond.Broadcast()
	}
	return count, nil
}

func (c *memConsumer) Close() error {
	f := c.f
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rClosed {
		return ErrClosed
	}
	f.rClosed = true
	f.cond.Broadcast()
	if f.wClosed {
		c.m.release(c.name, f)
	}
	return nil
}
