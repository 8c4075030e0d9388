package worker

import (
	"errors"
	"fmt"
)

var ErrProtocolViolation = errors.New("worker: protocol violation")

// State is the worker's position in the job protocol.
type State int

const (
	StateIdle State = iota
	StateReady
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Barrier defers terminal handling until AllSent has been received and every
// accepted item has been processed. It is not safe for concurrent use; the
// worker's message loop is its only owner.
//
//	Idle --Start--> Ready --Accept--> Ready
//	Ready --Seal[processed == accepted]--> Done
//	Ready --Seal[processed < accepted]--> Draining
//	Draining --Complete[processed == accepted]--> Done
type Barrier struct {
	state     State
	accepted  int
	processed int
}

func (b *Barrier) State() State   { return b.state }
func (b *Barrier) Accepted() int  { return b.accepted }
func (b *Barrier) Processed() int { return b.processed }

// Outstanding is the number of accepted items not yet processed.
func (b *Barrier) Outstanding() int { return b.accepted - b.processed }

// Start marks the worker ready to accept items.
func (b *Barrier) Start() error {
	if b.state != StateIdle {
		return violation("start", b.state)
	}
	b.state = StateReady
	return nil
}

// Accept records a Process message.
func (b *Barrier) Accept() error {
	if b.state != StateReady {
		return violation("process", b.state)
	}
	b.accepted++
	return nil
}

// Complete records that one accepted item has been processed, successfully
// or not. It reports whether this completion released the barrier.
func (b *Barrier) Complete() (bool, error) {
	if b.state != StateReady && b.state != StateDraining {
		return false, violation("complete", b.state)
	}
	if b.processed >= b.accepted {
		return false, fmt.Errorf("%w: completion without an outstanding item (accepted=%d)", ErrProtocolViolation, b.accepted)
	}
	b.processed++
	if b.state == StateDraining && b.processed == b.accepted {
		b.state = StateDone
		return true, nil
	}
	return false, nil
}

// Seal records AllSent. It reports whether terminal handling may proceed
// immediately; otherwise the barrier is armed until the last Complete.
func (b *Barrier) Seal() (bool, error) {
	if b.state != StateReady {
		return false, violation("allSent", b.state)
	}
	if b.processed == b.accepted {
		b.state = StateDone
		return true, nil
	}
	b.state = StateDraining
	return false, nil
}

func violation(event string, s State) error {
	return fmt.Errorf("%w: %s while %s", ErrProtocolViolation, event, s)
}
