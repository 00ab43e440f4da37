// Package querylog records the data accesses a node performed for one
// transaction, tagged with the policy version each ran under, so they can be
// re-authorized later.
package querylog

import (
	"errors"
	"fmt"

	"github.com/sushant-115/policytxn/core/policy"
	"github.com/sushant-115/policytxn/core/protocol"
)

// ErrDuplicate is returned when a (transaction, sequence) pair is appended twice.
var ErrDuplicate = errors.New("duplicate query log entry")

// Entry is one logged access.
type Entry struct {
	Kind    protocol.OpKind
	TxnID   uint64
	Seq     uint64
	Version policy.Version
}

type key struct {
	txn uint64
	seq uint64
}

// Log is append-only and owned by a single session; it is not safe for
// concurrent use.
type Log struct {
	entries []Entry
	seen    map[key]struct{}
}

// New returns an empty Log.
func New() *Log {
	return &Log{seen: make(map[key]struct{})}
}

// Append adds e at the end of the log.
func (l *Log) Append(e Entry) error {
	k := key{txn: e.TxnID, seq: e.Seq}
	if _, ok := l.seen[k]; ok {
		return fmt.Errorf("%w: txn %d seq %d", ErrDuplicate, e.TxnID, e.Seq)
	}
	l.seen[k] = struct{}{}
	l.entries = append(l.entries, e)
	return nil
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Entries returns a copy of the log in append order.
func (l *Log) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

// Reauthorize walks the log in append order and re-runs check for every entry
// not already recorded at v. A passing entry is re-tagged with v; the walk
// stops at the first failure and reports false. Entries already at v are
// never re-checked, so repeating the call with the same v is free.
func (l *Log) Reauthorize(v policy.Version, check func() bool) bool {
	for i := range l.entries {
		if l.entries[i].Version == v {
			continue
		}
		if !check() {
			return false
		}
		l.entries[i].Version = v
	}
	return true
}
