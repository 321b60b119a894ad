package pipeline

import (
	"sync"
	"sync/atomic"
)

// Token is the stop flag shared by every pipeline of a run. It is checked once per streaming
// iteration and can be raised from any goroutine, including a signal handler.
type Token struct {
	stop atomic.Bool
	once sync.Once
	done chan struct{}

	mu  sync.Mutex
	err error
}

func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel raises the flag. A non-nil err is recorded if no earlier error was; a nil err is a plain
// stop request.
func (t *Token) Cancel(err error) {
	if err != nil {
		t.mu.Lock()
		if t.err == nil {
			t.err = err
		}
		t.mu.Unlock()
	}
	t.stop.Store(true)
	t.once.Do(func() { close(t.done) })
}

func (t *Token) Cancelled() bool {
	return t.stop.Load()
}

// Done is closed on the first Cancel.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

// Err returns the first fatal error passed to Cancel.
func (t *Token) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
