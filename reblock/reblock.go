// Package reblock bridges two framings of the same ordered sample stream. A source buffer of one
// block length is drained into a destination buffer of another, handing the destination off every
// time it fills. No sample is reordered, dropped or duplicated, and neither block length needs to
// be a multiple of the other.
package reblock

import (
	"errors"
	"fmt"
)

var ErrBlockLen = errors.New("block length must be positive")

// MoveFunc copies n samples from source position src to destination position dst, transforming
// them on the way.
type MoveFunc func(src, dst, n int)

// HandoffFunc is called with a full destination buffer. The destination cursor is reset once it
// returns without error.
type HandoffFunc func() error

// State is the only mutable state carried between refills.
type State struct {
	Source      int
	Destination int
}

type Engine struct {
	srcLen int
	dstLen int
	state  State
}

func New(srcLen, dstLen int) (*Engine, error) {
	if srcLen <= 0 || dstLen <= 0 {
		return nil, fmt.Errorf("%w: source %d, destination %d", ErrBlockLen, srcLen, dstLen)
	}
	return &Engine{srcLen: srcLen, dstLen: dstLen}, nil
}

// Drain is the number of samples moved in one step.
func Drain(sourceRemaining, destRemaining int) int {
	return min(sourceRemaining, destRemaining)
}

// Feed consumes one freshly refilled source buffer. It may hand off the destination several times
// or not at all. A handoff error aborts the feed with the cursors left where they were.
func (e *Engine) Feed(move MoveFunc, handoff HandoffFunc) error {
	e.state.Source = 0
	for e.state.Source < e.srcLen {
		n := Drain(e.srcLen-e.state.Source, e.dstLen-e.state.Destination)
		move(e.state.Source, e.state.Destination, n)
		e.state.Source += n
		e.state.Destination += n

		if e.state.Destination == e.dstLen {
			if err := handoff(); err != nil {
				return err
			}
			e.state.Destination = 0
		}
	}
	return nil
}

// State returns the current cursor positions.
func (e *Engine) State() State {
	return e.state
}

// Pending is the number of samples waiting in the destination buffer.
func (e *Engine) Pending() int {
	return e.state.Destination
}

// Reset returns both cursors to the start of their buffers.
func (e *Engine) Reset() {
	e.state = State{}
}
