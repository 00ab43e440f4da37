package coordinator

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sushant-115/policytxn/core/policy"
	"github.com/sushant-115/policytxn/core/protocol"
	"github.com/sushant-115/policytxn/core/querylog"
	"github.com/sushant-115/policytxn/core/simtime"
	"github.com/sushant-115/policytxn/core/transaction"
	"github.com/sushant-115/policytxn/pkg/connection"
)

const noRandomPeer = -1

// Session is one inbound connection, i.e. one transaction. It plays the
// coordinator role for operations it routes and the participant role for
// operations routed to it. A Session is driven by a single goroutine.
type Session struct {
	id      string
	node    *Node
	params  protocol.Parameters
	sleeper simtime.Sleeper
	bound   *policy.Counter
	log     *querylog.Log
	pool    *connection.Pool
	logger  *zap.Logger
	txn     transaction.Record

	pushed     bool
	randomPeer int
	groups     int
	closed     bool
}

// NewSession opens a session with a snapshot of the node's parameters.
func (n *Node) NewSession(remote string) *Session {
	id := uuid.New().String()
	logger := n.logger.With(zap.String("sessionID", id), zap.String("remote", remote))
	s := &Session{
		id:         id,
		node:       n,
		params:     n.Parameters(),
		sleeper:    simtime.New(n.sleepMode),
		bound:      policy.NewCounter(policy.Unbound),
		log:        querylog.New(),
		pool:       connection.NewPool(n.dial, n.timeout, logger),
		logger:     logger,
		randomPeer: noRandomPeer,
	}
	ctx := context.Background()
	n.metrics.SessionsStarted.Add(ctx, 1)
	n.metrics.ActiveSessions.Add(ctx, 1)
	logger.Debug("Session opened", zap.Stringer("validationMode", s.params.ValidationMode))
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// BoundVersion returns the policy version this transaction is bound to.
func (s *Session) BoundVersion() policy.Version { return s.bound.Load() }

// Txn returns the state of the session's transaction.
func (s *Session) Txn() transaction.Record { return s.txn }

// QueryLog returns a copy of the session's query log.
func (s *Session) QueryLog() []querylog.Entry { return s.log.Entries() }

// Handle processes one payload and returns its reply. done means the session
// is over. A non-nil error means the payload was malformed; the caller must
// drop the connection.
func (s *Session) Handle(ctx context.Context, payload string) (reply string, done bool, err error) {
	msg, err := protocol.ParseMessage(payload)
	if err != nil {
		return "", true, err
	}
	if msg.Control != nil {
		return s.handleControl(ctx, *msg.Control), true, nil
	}
	reply, done, err = s.runGroup(ctx, msg.Group)
	s.groups++
	s.node.metrics.GroupsProcessed.Add(ctx, 1)
	return reply, done, err
}

// runGroup executes ops in order. The first failing reply ends the group and
// becomes its reply; otherwise the last reply produced wins.
func (s *Session) runGroup(ctx context.Context, group []protocol.Operation) (string, bool, error) {
	reply := ""
	for _, op := range group {
		r, done, err := s.execute(ctx, op)
		if err != nil {
			return "", true, err
		}
		if r != "" {
			reply = r
		}
		if done {
			return reply, true, nil
		}
		if r != "" && protocol.ParseReply(r).Failed() {
			return r, false, nil
		}
	}
	if reply == "" {
		reply = protocol.ReplyAck
	}
	return reply, false, nil
}

func (s *Session) execute(ctx context.Context, op protocol.Operation) (string, bool, error) {
	if op.Kind.IsAccess() {
		r, err := s.access(ctx, op)
		return r, false, err
	}
	switch op.Kind {
	case protocol.OpBegin:
		s.txn.Begin(op.TxnID)
		s.logger.Debug("Transaction begins", zap.Uint64("txn", op.TxnID))
		return "", false, nil
	case protocol.OpRunAuths:
		return protocol.Truth(s.reauthorize(op.Version)), false, nil
	case protocol.OpGetVersion:
		return protocol.VersionReply(s.bound.Load()), false, nil
	case protocol.OpPrepareToCommit:
		r := s.prepare(ctx, op)
		if yes := protocol.ParseReply(r); yes.Status == protocol.StatusYes && yes.Arg(0) != protocol.StatusFalse {
			s.txn.Prepare()
		}
		return r, false, nil
	case protocol.OpCommit:
		return s.commit(ctx, op.TxnID), false, nil
	case protocol.OpSetRandomPeer:
		s.randomPeer = op.Node
		return "", false, nil
	case protocol.OpSleep:
		s.sleeper.Sleep(millis(op.Millis))
		return "", false, nil
	case protocol.OpExit:
		return s.fin(), true, nil
	}
	return "", true, nil
}

func (s *Session) handleControl(ctx context.Context, c protocol.Control) string {
	switch c.Kind {
	case protocol.ControlDone:
		return s.fin()
	case protocol.ControlKill:
		s.node.Kill()
		return protocol.ReplyAck
	case protocol.ControlPolicyUpdate:
		v := s.node.UpdateFloor(c.Version)
		s.logger.Info("Policy floor updated", zap.Stringer("offered", c.Version), zap.Stringer("floor", v))
		return protocol.Ack(v)
	case protocol.ControlParameters:
		s.node.SetParameters(c.Params)
	}
	return protocol.ReplyAck
}

// access runs a READ or WRITE, locally or by routing it to its owner.
func (s *Session) access(ctx context.Context, op protocol.Operation) (string, error) {
	if !op.Kind.IsPassed() && op.Node != s.node.id {
		return s.forward(ctx, op), nil
	}
	if s.bound.Load() == policy.Unbound {
		if err := s.bind(ctx); err != nil {
			s.logger.Warn("Failed to bind policy version", zap.Error(err))
			return protocol.ReplyFail, nil
		}
	}
	if s.params.ValidationMode.IsView() && s.groups == 0 && !s.peersAgree(ctx) {
		return s.abort(ctx, protocol.ReasonTxnConsistency), nil
	}
	if !s.node.checker.LocalAuth(s.sleeper) {
		return s.abort(ctx, protocol.ReasonLocalPolicy), nil
	}
	if op.Kind.IsWrite() {
		s.sleeper.Sleep(s.node.latency.Write)
	} else {
		s.sleeper.Sleep(s.node.latency.Read)
	}
	v := s.bound.Load()
	if err := s.log.Append(querylog.Entry{Kind: op.Kind, TxnID: op.TxnID, Seq: op.Seq, Version: v}); err != nil {
		return "", err
	}
	s.txn.Touch(op.TxnID)
	return protocol.Ack(v), nil
}

// bind fixes the transaction's policy version on first use: the cached floor
// for local validation, the authority's version for global validation.
func (s *Session) bind(ctx context.Context) error {
	v := s.node.Floor()
	if s.params.ValidationMode.IsGlobal() {
		cur, err := s.node.authority.Current(ctx)
		if err != nil {
			return err
		}
		v = cur
	}
	s.bound.Advance(v)
	s.logger.Debug("Bound policy version", zap.Stringer("version", s.bound.Load()))
	return nil
}

// peersAgree asks every pooled peer for its bound version. Unreachable or
// still unbound peers are skipped.
func (s *Session) peersAgree(ctx context.Context) bool {
	own := s.bound.Load()
	get := protocol.Operation{Kind: protocol.OpGetVersion}.String()
	for _, peer := range s.pool.Peers() {
		reply, err := s.send(ctx, peer, get)
		if err != nil {
			continue
		}
		v, ok := protocol.ParseReply(reply).Version()
		if !ok || v == policy.Unbound {
			continue
		}
		if v != own {
			s.logger.Info("Peer bound a different policy version",
				zap.Int("peer", peer.NodeID), zap.Stringer("peerVersion", v), zap.Stringer("version", own))
			return false
		}
	}
	return true
}

// forward routes op to its owning node and relays the reply.
func (s *Session) forward(ctx context.Context, op protocol.Operation) string {
	peer, created, err := s.pool.Get(ctx, op.Node)
	if err != nil {
		s.node.metrics.TransportFailure.Add(ctx, 1)
		s.logger.Warn("Failed to reach owning node", zap.Int("peer", op.Node), zap.Error(err))
		return protocol.ReplyFail
	}
	if created {
		s.maybeForcePush(ctx, op.Node)
	}
	reply, err := s.send(ctx, peer, op.Passed().String())
	if err != nil {
		return protocol.ReplyFail
	}
	if s.params.Proof == protocol.Incremental && !s.matchesBound(reply) {
		return s.abort(ctx, protocol.ReasonTxnConsistency)
	}
	return reply
}

// matchesBound reports whether an ACK carries this session's version. Replies
// without a version, and an unbound session, always match.
func (s *Session) matchesBound(reply string) bool {
	r := protocol.ParseReply(reply)
	if r.Status != protocol.StatusAck {
		return true
	}
	v, ok := r.Version()
	own := s.bound.Load()
	if !ok || own == policy.Unbound {
		return true
	}
	return v == own
}

// maybeForcePush triggers the configured forced policy push, at most once per
// session, when a new peer is first contacted.
func (s *Session) maybeForcePush(ctx context.Context, peer int) {
	mode := s.params.PushMode
	if s.pushed || mode == policy.PushNone {
		return
	}
	if mode == policy.PushOne && s.randomPeer != noRandomPeer && peer != s.randomPeer {
		return
	}
	s.pushed = true
	v, err := s.node.authority.RequestPush(ctx, mode, peer)
	s.node.metrics.PolicyPushes.Add(ctx, 1)
	if err != nil {
		s.logger.Warn("Forced policy push failed", zap.Stringer("mode", mode), zap.Int("peer", peer), zap.Error(err))
		return
	}
	s.logger.Info("Forced policy push", zap.Stringer("mode", mode), zap.Int("peer", peer), zap.Stringer("version", v))
}

func (s *Session) send(ctx context.Context, peer *connection.PeerConn, payload string) (string, error) {
	s.sleeper.Sleep(s.node.latency.Network)
	reply, err := peer.Send(ctx, payload)
	if err != nil {
		s.node.metrics.TransportFailure.Add(ctx, 1)
		s.logger.Warn("Peer exchange failed", zap.Int("peer", peer.NodeID), zap.String("payload", payload), zap.Error(err))
	}
	return reply, err
}

func (s *Session) reauthorize(v policy.Version) bool {
	return s.log.Reauthorize(v, func() bool {
		return s.node.checker.LocalAuth(s.sleeper)
	})
}

func (s *Session) abort(ctx context.Context, reason string) string {
	s.txn.Abort()
	s.node.metrics.RecordAbort(ctx, reason)
	s.logger.Info("Abort", zap.String("reason", reason))
	return protocol.Abort(reason)
}

func (s *Session) fin() string {
	return protocol.Fin(s.sleeper.Elapsed(), s.sleeper.Mode() == simtime.Logical)
}

// Close releases every pooled peer. It is idempotent.
func (s *Session) Close(ctx context.Context) {
	if s.closed {
		return
	}
	s.closed = true
	s.pool.Release(ctx)
	s.node.metrics.ActiveSessions.Add(ctx, -1)
	s.logger.Debug("Session closed",
		zap.Stringer("txnState", s.txn.State),
		zap.Int("groups", s.groups),
		zap.Int("logEntries", s.log.Len()),
		zap.Duration("simulated", s.sleeper.Elapsed()))
}
