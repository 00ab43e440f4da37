// Package simtime switches simulated latency between wall-clock sleeps and
// pure bookkeeping.
package simtime

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/atomic"
)

// Mode is the process-wide run mode.
type Mode int

const (
	// Real blocks the caller for every simulated delay.
	Real Mode = iota
	// Logical only accumulates simulated delays.
	Logical
)

func (m Mode) String() string {
	if m == Logical {
		return "logical"
	}
	return "real"
}

// ParseMode accepts "real" or "logical".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "real", "":
		return Real, nil
	case "logical":
		return Logical, nil
	default:
		return Real, fmt.Errorf("unknown sleep mode %q", s)
	}
}

// Sleeper stands in for I/O latency and work duration. Implementations are
// safe for concurrent use.
type Sleeper interface {
	Sleep(d time.Duration)
	// Elapsed is the total simulated time consumed so far.
	Elapsed() time.Duration
	Mode() Mode
}

// New returns a fresh Sleeper for mode.
func New(mode Mode) Sleeper {
	return &sleeper{mode: mode, total: atomic.NewDuration(0)}
}

type sleeper struct {
	mode  Mode
	total *atomic.Duration
}

func (s *sleeper) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	s.total.Add(d)
	if s.mode == Real {
		time.Sleep(d)
	}
}

func (s *sleeper) Elapsed() time.Duration {
	return s.total.Load()
}

func (s *sleeper) Mode() Mode {
	return s.mode
}
