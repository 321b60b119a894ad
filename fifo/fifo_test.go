package fifo

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openPair attaches a producer and consumer on name concurrently.
func openPair(t *testing.T, tr Transport, name string, size int) (Producer, Consumer) {
	t.Helper()
	var (
		wg   sync.WaitGroup
		prod Producer
		perr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		prod, perr = tr.OpenProducer(nil, name, size)
	}()
	cons, err := tr.OpenConsumer(nil, name, size)
	require.NoError(t, err)
	wg.Wait()
	require.NoError(t, perr)
	return prod, cons
}

func streamCounter(t *testing.T, tr Transport, name string) {
	const (
		elem   = 16
		blocks = 200
	)
	prod, cons := openPair(t, tr, name, elem*4)

	go func() {
		buf := make([]byte, elem)
		for i := range blocks {
			binary.LittleEndian.PutUint64(buf, uint64(i))
			n, err := prod.Write(buf, elem, 1)
			assert.NoError(t, err)
			assert.Equal(t, 1, n)
		}
		assert.NoError(t, prod.Close())
	}()

	buf := make([]byte, elem)
	got := 0
	for {
		n, err := cons.Read(buf, elem, 1)
		require.NoError(t, err)
		if n != 1 {
			break
		}
		assert.Equal(t, uint64(got), binary.LittleEndian.Uint64(buf))
		got++
	}
	assert.Equal(t, blocks, got)
	assert.NoError(t, cons.Close())
}

func TestMemoryStreamsInOrder(t *testing.T) {
	streamCounter(t, NewMemory(), "counter")
}

func TestPipeStreamsInOrder(t *testing.T) {
	streamCounter(t, Pipe{Mode: 0o600}, filepath.Join(t.TempDir(), "counter.pipe"))
}

func TestMemoryProducerWaitsForConsumer(t *testing.T) {
	m := NewMemory()
	opened := make(chan Producer)
	go func() {
		p, err := m.OpenProducer(nil, "late", 64)
		assert.NoError(t, err)
		opened <- p
	}()

	select {
	case <-opened:
		t.Fatal("producer opened without a consumer")
	case <-time.After(50 * time.Millisecond):
	}

	c, err := m.OpenConsumer(nil, "late", 64)
	require.NoError(t, err)
	p := <-opened
	require.NotNil(t, p)
	assert.NoError(t, p.Close())
	assert.NoError(t, c.Close())
}

// openReleasedByDone starts open, checks it is still waiting for a peer, then closes done and
// expects ErrClosed.
func openReleasedByDone(t *testing.T, open func(done <-chan struct{}) error) {
	t.Helper()
	done := make(chan struct{})
	result := make(chan error, 1)
	go func() { result <- open(done) }()

	select {
	case err := <-result:
		t.Fatalf("open returned without a peer: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(done)
	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("open still waiting after done was closed")
	}
}

func TestOpenReleasedByDone(t *testing.T) {
	transports := map[string]func(t *testing.T) (Transport, string){
		"memory": func(t *testing.T) (Transport, string) { return NewMemory(), "lonely" },
		"pipe": func(t *testing.T) (Transport, string) {
			return Pipe{Mode: 0o600}, filepath.Join(t.TempDir(), "lonely.pipe")
		},
	}
	for kind, newTransport := range transports {
		t.Run(kind+" producer", func(t *testing.T) {
			tr, name := newTransport(t)
			openReleasedByDone(t, func(done <-chan struct{}) error {
				_, err := tr.OpenProducer(done, name, 64)
				return err
			})
			// A later pair still attaches normally.
			prod, cons := openPair(t, tr, name, 64)
			assert.NoError(t, prod.Close())
			assert.NoError(t, cons.Close())
		})
		t.Run(kind+" consumer", func(t *testing.T) {
			tr, name := newTransport(t)
			openReleasedByDone(t, func(done <-chan struct{}) error {
				_, err := tr.OpenConsumer(done, name, 64)
				return err
			})
			prod, cons := openPair(t, tr, name, 64)
			assert.NoError(t, prod.Close())
			assert.NoError(t, cons.Close())
		})
		t.Run(kind+" already done", func(t *testing.T) {
			tr, name := newTransport(t)
			done := make(chan struct{})
			close(done)
			_, err := tr.OpenProducer(done, name, 64)
			assert.ErrorIs(t, err, ErrClosed)
			_, err = tr.OpenConsumer(done, name, 64)
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestMemoryBackpressure(t *testing.T) {
	m := NewMemory()
	prod, cons := openPair(t, m, "bp", 8)

	buf := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	n, err := prod.Write(buf, 4, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	written := make(chan struct{})
	go func() {
		_, err := prod.Write([]byte{9, 9, 9, 9}, 4, 1)
		assert.NoError(t, err)
		close(written)
	}()

	select {
	case <-written:
		t.Fatal("write into a full fifo did not block")
	case <-time.After(50 * time.Millisecond):
	}

	out := make([]byte, 4)
	n, err = cons.Read(out, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte{1, 2, 3, 4}, out)
	<-written
}

func TestMemoryShortReadIsEndOfStream(t *testing.T) {
	m := NewMemory()
	prod, cons := openPair(t, m, "eos", 64)

	_, err := prod.Write([]byte{1, 2, 3, 4, 5, 6}, 6, 1)
	require.NoError(t, err)
	require.NoError(t, prod.Close())

	buf := make([]byte, 8)
	n, err := cons.Read(buf, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = cons.Read(buf, 4, 1)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryWriteAfterConsumerClose(t *testing.T) {
	m := NewMemory()
	prod, cons := openPair(t, m, "gone", 16)
	require.NoError(t, cons.Close())

	_, err := prod.Write([]byte{1, 2, 3, 4}, 4, 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryNameReusableAfterClose(t *testing.T) {
	m := NewMemory()
	prod, cons := openPair(t, m, "again", 16)
	require.NoError(t, prod.Close())
	require.NoError(t, cons.Close())

	prod, cons = openPair(t, m, "again", 16)
	assert.NoError(t, prod.Close())
	assert.NoError(t, cons.Close())
}

func TestRequestValidation(t *testing.T) {
	m := NewMemory()
	prod, cons := openPair(t, m, "bad", 16)
	defer prod.Close()
	defer cons.Close()

	_, err := prod.Write(make([]byte, 3), 4, 1)
	assert.ErrorIs(t, err, ErrSize)
	_, err = cons.Read(make([]byte, 4), 0, 1)
	assert.ErrorIs(t, err, ErrSize)
	_, err = m.OpenProducer(nil, "zero", 0)
	assert.ErrorIs(t, err, ErrSize)
}

func TestPipeRejectsRegularFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(name, nil, 0o600))
	_, err := Pipe{Mode: 0o600}.OpenProducer(nil, name, 64)
	assert.Error(t, err)
}

func TestNewTransport(t *testing.T) {
	tr, err := New("pipe")
	require.NoError(t, err)
	assert.IsType(t, Pipe{}, tr)

	tr, err = New("memory")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, tr)

	_, err = New("carrier-pigeon")
	assert.Error(t, err)
}
