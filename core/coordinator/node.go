// Package coordinator is the transaction coordination engine. A Node holds
// the state shared by every session of one process; a Session runs one
// transaction connection through its operation groups and, on commit, drives
// the configured validation protocol across the peers it contacted.
package coordinator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/sushant-115/policytxn/core/auth"
	"github.com/sushant-115/policytxn/core/policy"
	"github.com/sushant-115/policytxn/core/protocol"
	"github.com/sushant-115/policytxn/core/simtime"
	internaltelemetry "github.com/sushant-115/policytxn/internal/telemetry"
	"github.com/sushant-115/policytxn/pkg/connection"
)

// Latency is the simulated cost of data access and of one network round trip.
type Latency struct {
	Read    time.Duration
	Write   time.Duration
	Network time.Duration
}

// Options configures a Node.
type Options struct {
	ID        int
	Authority policy.Authority
	Checker   auth.Checker
	Dialer    connection.Dialer
	Params    protocol.Parameters
	SleepMode simtime.Mode
	Latency   Latency
	// InitialFloor seeds the locally cached policy version. Zero means 1.
	InitialFloor policy.Version
	// PeerTimeout bounds each exchange with a peer; zero disables it.
	PeerTimeout time.Duration

	Logger  *zap.Logger
	Metrics *internaltelemetry.EngineMetrics
	Tracer  trace.Tracer
}

// Node is the process-wide engine state. Only the policy floor and the
// parameters are mutable, both through atomics.
type Node struct {
	id        int
	authority policy.Authority
	checker   auth.Checker
	dial      connection.Dialer
	sleepMode simtime.Mode
	latency   Latency
	timeout   time.Duration

	floor  *policy.Counter
	params atomic.Value

	logger  *zap.Logger
	metrics *internaltelemetry.EngineMetrics
	tracer  trace.Tracer

	killOnce sync.Once
	killed   chan struct{}
}

// NewNode validates opts and returns a Node.
func NewNode(opts Options) (*Node, error) {
	if opts.Authority == nil {
		return nil, errors.New("coordinator: authority is required")
	}
	if opts.Checker == nil {
		return nil, errors.New("coordinator: checker is required")
	}
	if opts.Dialer == nil {
		return nil, errors.New("coordinator: dialer is required")
	}
	if !opts.Params.PushMode.Valid() {
		return nil, fmt.Errorf("coordinator: invalid push mode %d", int(opts.Params.PushMode))
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		m, err := internaltelemetry.NewEngineMetrics(noop.NewMeterProvider().Meter(""))
		if err != nil {
			return nil, err
		}
		opts.Metrics = m
	}
	if opts.Tracer == nil {
		opts.Tracer = nooptrace.NewTracerProvider().Tracer("")
	}
	if opts.InitialFloor == policy.Unbound {
		opts.InitialFloor = 1
	}

	n := &Node{
		id:        opts.ID,
		authority: opts.Authority,
		checker:   opts.Checker,
		dial:      opts.Dialer,
		sleepMode: opts.SleepMode,
		latency:   opts.Latency,
		timeout:   opts.PeerTimeout,
		floor:     policy.NewCounter(opts.InitialFloor),
		logger:    opts.Logger.With(zap.Int("nodeID", opts.ID)),
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		killed:    make(chan struct{}),
	}
	n.params.Store(opts.Params)
	return n, nil
}

// ID returns the node id.
func (n *Node) ID() int { return n.id }

// Parameters returns the protocol parameters new sessions start with.
func (n *Node) Parameters() protocol.Parameters {
	return n.params.Load().(protocol.Parameters)
}

// SetParameters replaces the protocol parameters for future sessions.
func (n *Node) SetParameters(p protocol.Parameters) {
	n.params.Store(p)
	n.logger.Info("Parameters updated",
		zap.Stringer("proof", p.Proof),
		zap.Stringer("validationMode", p.ValidationMode),
		zap.Stringer("pushMode", p.PushMode))
}

// Floor returns the locally cached policy version.
func (n *Node) Floor() policy.Version {
	return n.floor.Load()
}

// UpdateFloor raises the cached policy version to v if v is newer.
func (n *Node) UpdateFloor(v policy.Version) policy.Version {
	return n.floor.Advance(v)
}

// Kill requests process-wide shutdown. It is idempotent.
func (n *Node) Kill() {
	n.killOnce.Do(func() {
		n.logger.Info("Shutdown requested")
		close(n.killed)
	})
}

// Killed is closed once a KILL control message has been received.
func (n *Node) Killed() <-chan struct{} {
	return n.killed
}

// Serve runs one session over conn until the session terminates or the peer
// hangs up. conn is closed on return.
func (n *Node) Serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := "pipe"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}
	s := n.NewSession(remote)
	defer s.Close(ctx)

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.logger.Warn("Error reading from client", zap.Error(err))
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		reply, done, err := s.Handle(ctx, line)
		if err != nil {
			s.logger.Warn("Closing session on bad input", zap.String("payload", line), zap.Error(err))
			return
		}
		if _, err := conn.Write([]byte(reply + "\n")); err != nil {
			s.logger.Warn("Error writing reply", zap.Error(err))
			return
		}
		if done {
			return
		}
	}
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
