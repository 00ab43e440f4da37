package policy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// PushMode selects how a session's forced policy push is carried out.
type PushMode int

const (
	// PushNone never pushes.
	PushNone PushMode = iota
	// PushOne bumps the global version and notifies a single node.
	PushOne
	// PushAll bumps the global version and notifies every node.
	PushAll
	// PushSilent bumps the global version without notifying anybody.
	PushSilent
)

func (m PushMode) String() string {
	switch m {
	case PushNone:
		return "none"
	case PushOne:
		return "one"
	case PushAll:
		return "all"
	case PushSilent:
		return "silent"
	default:
		return "PushMode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Valid reports whether m is one of the known push modes.
func (m PushMode) Valid() bool {
	return m >= PushNone && m <= PushSilent
}

// Authority is the Policy Version Authority as seen by a node.
type Authority interface {
	// Current returns the authority's global policy version.
	Current(ctx context.Context) (Version, error)
	// RequestPush asks the authority to advance and/or broadcast its version
	// according to mode. target is only meaningful for PushOne.
	RequestPush(ctx context.Context, mode PushMode, target int) (Version, error)
}

// Notifier delivers a policy version to a node.
type Notifier interface {
	Notify(ctx context.Context, nodeID int, v Version) error
}

// Local is an in-process Authority. It owns the global counter and is what
// the authority server exposes over the wire.
type Local struct {
	counter  *Counter
	notifier Notifier
	nodes    []int
	logger   *zap.Logger
}

// NewLocal creates an authority starting at initial. nodes is the set of node
// ids a PushAll broadcast reaches; notifier may be nil when pushes are never
// delivered.
func NewLocal(initial Version, notifier Notifier, nodes []int, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{
		counter:  NewCounter(initial),
		notifier: notifier,
		nodes:    append([]int(nil), nodes...),
		logger:   logger,
	}
}

// Current implements Authority.
func (a *Local) Current(ctx context.Context) (Version, error) {
	return a.counter.Load(), nil
}

// Bump advances the global version by one.
func (a *Local) Bump() Version {
	v := a.counter.Increment()
	a.logger.Debug("Policy version bumped", zap.Stringer("version", v))
	return v
}

// Set raises the global version to v. Lower values are ignored.
func (a *Local) Set(v Version) Version {
	return a.counter.Advance(v)
}

// RequestPush implements Authority.
func (a *Local) RequestPush(ctx context.Context, mode PushMode, target int) (Version, error) {
	switch mode {
	case PushNone:
		return a.counter.Load(), nil
	case PushSilent:
		return a.Bump(), nil
	case PushOne:
		v := a.Bump()
		return v, a.notify(ctx, target, v)
	case PushAll:
		v := a.Bump()
		var errs []error
		for _, id := range a.nodes {
			if err := a.notify(ctx, id, v); err != nil {
				errs = append(errs, err)
			}
		}
		return v, errors.Join(errs...)
	default:
		return a.counter.Load(), fmt.Errorf("unknown push mode %d", int(mode))
	}
}

func (a *Local) notify(ctx context.Context, nodeID int, v Version) error {
	if a.notifier == nil {
		return nil
	}
	if err := a.notifier.Notify(ctx, nodeID, v); err != nil {
		a.logger.Warn("Failed to push policy version", zap.Int("nodeID", nodeID), zap.Stringer("version", v), zap.Error(err))
		return fmt.Errorf("push version %s to node %d: %w", v, nodeID, err)
	}
	a.logger.Info("Pushed policy version", zap.Int("nodeID", nodeID), zap.Stringer("version", v))
	return nil
}

// Run bumps the global version every interval until ctx is done. A
// non-positive interval returns immediately.
func (a *Local) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Bump()
		}
	}
}
