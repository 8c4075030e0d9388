// Package protocol defines the messages exchanged between a job orchestrator
// and its worker, their JSON wire form, and the in-process duplex pipe that
// carries them.
//
// Direction of each variant:
//
//	worker -> orchestrator: Started, Result, Failed, Progress, Done
//	orchestrator -> worker: Process, AllSent
//	either direction:       Log
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"

	"swapijob/internal/core/domain"
)

// Kind is the wire tag of a message variant.
type Kind string

const (
	KindStarted  Kind = "started"
	KindProcess  Kind = "process"
	KindAllSent  Kind = "allSent"
	KindResult   Kind = "result"
	KindFailed   Kind = "failed"
	KindProgress Kind = "progress"
	KindLog      Kind = "log"
	KindDone     Kind = "done"
)

// Message is implemented only by the variants in this package.
type Message interface {
	Kind() Kind
	message()
}

// Started is the first message a worker sends. It has no payload.
type Started struct{}

// Process hands one fetched person to the worker. Total is the number of
// items the orchestrator was asked for, when known.
type Process struct {
	Item  domain.Person
	Total Total
}

// AllSent tells the worker that no further Process messages will follow.
type AllSent struct{}

// Result carries one processed person back to the orchestrator.
type Result struct {
	Item domain.ProcessedPerson
}

// Failed reports an accepted item whose transform returned an error.
// The item still counts as processed.
type Failed struct {
	ID     int
	Reason string
}

// Progress reports how many accepted items have been processed so far.
type Progress struct {
	Done  int
	Total Total
}

// Log is diagnostic only.
type Log struct {
	Text string
	Data any
}

// Done is the worker's terminal message.
type Done struct{}

func (Started) Kind() Kind  { return KindStarted }
func (Process) Kind() Kind  { return KindProcess }
func (AllSent) Kind() Kind  { return KindAllSent }
func (Result) Kind() Kind   { return KindResult }
func (Failed) Kind() Kind   { return KindFailed }
func (Progress) Kind() Kind { return KindProgress }
func (Log) Kind() Kind      { return KindLog }
func (Done) Kind() Kind     { return KindDone }

func (Started) message()  {}
func (Process) message()  {}
func (AllSent) message()  {}
func (Result) message()   {}
func (Failed) message()   {}
func (Progress) message() {}
func (Log) message()      {}
func (Done) message()     {}

const unknownTotal = "unknown"

// Total is an item count that may be unknown. The zero value is unknown.
type Total struct {
	n int
}

// KnownTotal returns a known total. Non-positive counts are treated as unknown.
func KnownTotal(n int) Total {
	if n <= 0 {
		return Total{}
	}
	return Total{n: n}
}

// Value returns the total and whether it is known.
func (t Total) Value() (int, bool) { return t.n, t.n > 0 }

func (t Total) String() string {
	if t.n <= 0 {
		return unknownTotal
	}
	return strconv.Itoa(t.n)
}

func (t Total) MarshalJSON() ([]byte, error) {
	if t.n <= 0 {
		return json.Marshal(unknownTotal)
	}
	return json.Marshal(t.n)
}

func (t *Total) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*t = KnownTotal(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("total: %w", err)
	}
	if s != unknownTotal {
		return fmt.Errorf("total: unexpected value %q", s)
	}
	*t = Total{}
	return nil
}
