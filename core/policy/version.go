// Package policy holds the policy version primitives shared by every node and
// the Policy Version Authority that owns the global counter.
package policy

import (
	"strconv"

	"go.uber.org/atomic"
)

// Version is a policy version number. Zero means "not bound yet".
type Version uint64

// Unbound is the zero Version.
const Unbound Version = 0

func (v Version) String() string {
	return strconv.FormatUint(uint64(v), 10)
}

// ParseVersion parses a decimal policy version.
func ParseVersion(s string) (Version, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return Unbound, err
	}
	return Version(n), nil
}

// Min returns the smaller of a and b.
func Min(a, b Version) Version {
	if a < b {
		return a
	}
	return b
}

// Counter is a policy version that can only move forward. It is safe for
// concurrent use; a racing writer holding a stale value can never pull it
// backwards.
type Counter struct {
	v *atomic.Uint64
}

// NewCounter returns a Counter starting at initial.
func NewCounter(initial Version) *Counter {
	return &Counter{v: atomic.NewUint64(uint64(initial))}
}

// Load returns the current value.
func (c *Counter) Load() Version {
	return Version(c.v.Load())
}

// Advance raises the counter to v if v is newer and returns the value the
// counter holds afterwards.
func (c *Counter) Advance(v Version) Version {
	for {
		cur := c.v.Load()
		if uint64(v) <= cur {
			return Version(cur)
		}
		if c.v.CompareAndSwap(cur, uint64(v)) {
			return v
		}
	}
}

// Increment bumps the counter by one and returns the new value.
func (c *Counter) Increment() Version {
	return Version(c.v.Inc())
}
