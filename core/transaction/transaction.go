// Package transaction tracks the lifecycle of the transaction a session is
// running, as coordinator or as participant.
package transaction

import "strconv"

// State is the in-memory state of a transaction on one node.
type State int

const (
	StateIdle      State = iota // no operation seen yet
	StateRunning                // accesses are being executed
	StatePrepared               // voted yes and waiting for the outcome
	StateCommitted              // commit decided
	StateAborted                // an abort reply was produced
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePrepared:
		return "prepared"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Terminal reports whether s ends the transaction.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateAborted
}

// Record is the state of one transaction. The zero value is idle. A Record is
// owned by a single session goroutine.
type Record struct {
	ID    uint64
	State State
}

// Begin starts transaction id, discarding any finished one.
func (r *Record) Begin(id uint64) {
	r.ID = id
	r.State = StateRunning
}

// Touch marks an idle record running. Accesses without a preceding BEGIN
// open the transaction implicitly.
func (r *Record) Touch(id uint64) {
	if r.State == StateIdle || r.State.Terminal() {
		r.Begin(id)
	}
}

// Prepare records a yes vote. It is a no-op once the outcome is known.
func (r *Record) Prepare() {
	if !r.State.Terminal() {
		r.State = StatePrepared
	}
}

// Commit records a commit decision.
func (r *Record) Commit() { r.State = StateCommitted }

// Abort records an abort.
func (r *Record) Abort() { r.State = StateAborted }
