package pipeline

import (
	"fmt"
	"slices"
	"time"
)

// State is a step of one query's lifecycle.
type State string

const (
	StateReceived         State = "received"
	StateLanguageResolved State = "language_resolved"
	StateEmbedded         State = "embedded"
	StateRetrieved        State = "retrieved"
	StateFused            State = "fused"
	StateCompleted        State = "completed"
	// StateDegraded means the dense path was lost; the query carries on
	// with sparse retrieval.
	StateDegraded State = "degraded"
	StateFailed   State = "failed"
)

var edges = map[State][]State{
	StateReceived:         {StateLanguageResolved, StateDegraded, StateFailed},
	StateLanguageResolved: {StateEmbedded, StateDegraded, StateFailed},
	StateEmbedded:         {StateRetrieved, StateDegraded, StateFailed},
	StateDegraded:         {StateRetrieved, StateFailed},
	StateRetrieved:        {StateFused, StateFailed},
	StateFused:            {StateCompleted, StateFailed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(edges[s]) == 0
}

// Transition is one recorded state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// QueryContext is the per-query state machine. It is owned by a single
// goroutine and never shared between queries.
type QueryContext struct {
	ID       string
	Language string
	// Detected is true when Language came from the detector.
	Detected bool

	state    State
	degraded bool
	history  []Transition
	now      func() time.Time
}

func newQueryContext(id string, now func() time.Time) *QueryContext {
	return &QueryContext{ID: id, state: StateReceived, now: now}
}

func (q *QueryContext) State() State { return q.state }

// Degraded reports whether the query passed through StateDegraded.
func (q *QueryContext) Degraded() bool { return q.degraded }

// History returns the transitions taken so far, oldest first.
func (q *QueryContext) History() []Transition { return slices.Clone(q.history) }

// Advance moves to the next state if the edge exists.
func (q *QueryContext) Advance(to State, reason string) error {
	if !slices.Contains(edges[q.state], to) {
		return fmt.Errorf("query %s: illegal transition %s -> %s", q.ID, q.state, to)
	}
	q.history = append(q.history, Transition{From: q.state, To: to, At: q.now(), Reason: reason})
	q.state = to
	if to == StateDegraded {
		q.degraded = true
	}
	return nil
}

// Path lists the states visited, starting with StateReceived.
func (q *QueryContext) Path() []State {
	out := make([]State, 0, len(q.history)+1)
	out = append(out, StateReceived)
	for _, t := range q.history {
		out = append(out, t.To)
	}
	return out
}
