package pipeline

import (
	"fmt"
	"sync/atomic"
	"time"
)

type State int32

const (
	Idle State = iota
	Configuring
	Streaming
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configuring:
		return "configuring"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Stats are updated by the pipeline goroutine and read by anyone.
type Stats struct {
	name      string
	state     atomic.Int32
	blocks    atomic.Uint64
	transfers atomic.Uint64
	tokens    atomic.Uint64
	started   atomic.Int64
}

// Snapshot is a consistent enough copy of Stats for display.
type Snapshot struct {
	Name      string
	State     State
	Blocks    uint64
	Transfers uint64
	Tokens    uint64
	Uptime    time.Duration
}

func NewStats(name string) *Stats {
	return &Stats{name: name}
}

func (s *Stats) setState(st State) {
	if st == Streaming {
		s.started.Store(time.Now().UnixNano())
	}
	s.state.Store(int32(st))
}

func (s *Stats) State() State {
	return State(s.state.Load())
}

func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Name:      s.name,
		State:     s.State(),
		Blocks:    s.blocks.Load(),
		Transfers: s.transfers.Load(),
		Tokens:    s.tokens.Load(),
	}
	if started := s.started.Load(); started != 0 {
		snap.Uptime = time.Since(time.Unix(0, started))
	}
	return snap
}

func (s Snapshot) String() string {
	return fmt.Sprintf("[%s] %s: %d blocks, %d hardware transfers, %d tokens in %s",
		s.Name, s.State, s.Blocks, s.Transfers, s.Tokens, s.Uptime.Round(time.Millisecond))
}
