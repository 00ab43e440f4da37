package coordinator

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sushant-115/policytxn/core/policy"
	"github.com/sushant-115/policytxn/core/protocol"
)

type vote struct {
	peer  int
	reply protocol.Reply
	err   error
}

// commit runs the configured validation protocol over every pooled peer,
// with this session counted as a participant too.
func (s *Session) commit(ctx context.Context, txnID uint64) string {
	mode := s.params.ValidationMode
	ctx, span := s.node.tracer.Start(ctx, "coordinator.commit", trace.WithAttributes(
		attribute.Int64("txn.id", int64(txnID)),
		attribute.String("txn.mode", mode.String()),
		attribute.Int("txn.participants", s.pool.Len()+1),
	))
	defer span.End()
	start := time.Now()

	var reply string
	switch lost := s.pool.Lost(); {
	case len(lost) > 0:
		s.logger.Warn("Participant links broke before commit", zap.Ints("peers", lost))
		reply = s.abort(ctx, protocol.ReasonPTCNo)
	case mode == protocol.TwoPhaseOnly:
		reply = s.commitTwoPhase(ctx)
	case mode.IsView():
		reply = s.commitView(ctx, mode == protocol.ViewRelaxed)
	case mode.IsGlobal():
		reply = s.commitGlobal(ctx, mode == protocol.GlobalRelaxed)
	default:
		reply = s.abort(ctx, protocol.ReasonUnknownMode)
	}

	s.node.metrics.RecordCommitDuration(ctx, mode.String(), time.Since(start))
	if reply == protocol.ReplyCommit {
		s.txn.Commit()
		s.node.metrics.Commits.Add(ctx, 1)
	} else {
		span.SetStatus(codes.Error, reply)
	}
	s.logger.Info("Commit decided",
		zap.Uint64("txn", txnID),
		zap.Stringer("mode", mode),
		zap.Int("peers", s.pool.Len()),
		zap.String("outcome", reply))
	return reply
}

// commitTwoPhase commits iff every participant passes its integrity check.
// Policy versions are not looked at.
func (s *Session) commitTwoPhase(ctx context.Context) string {
	if !s.node.checker.Integrity(s.sleeper) {
		return s.abort(ctx, protocol.ReasonPTCNo)
	}
	for _, v := range s.broadcast(ctx, protocol.Operation{Kind: protocol.OpPrepareToCommit}.String()) {
		if v.err != nil || v.reply.Status != protocol.StatusYes {
			return s.abort(ctx, protocol.ReasonPTCNo)
		}
	}
	return protocol.ReplyCommit
}

// commitView makes participants agree on a version among themselves, then
// re-authorizes everybody against it.
func (s *Session) commitView(ctx context.Context, relaxed bool) string {
	if !s.node.checker.Integrity(s.sleeper) {
		return s.abort(ctx, protocol.ReasonPTCNo)
	}
	var versions []policy.Version
	if own := s.bound.Load(); own != policy.Unbound {
		versions = append(versions, own)
	}
	for _, v := range s.broadcast(ctx, protocol.Operation{Kind: protocol.OpPrepareToCommit}.String()) {
		if v.err != nil || v.reply.Status != protocol.StatusYes {
			return s.abort(ctx, protocol.ReasonPTCNo)
		}
		if pv, ok := v.reply.Version(); ok && pv != policy.Unbound {
			versions = append(versions, pv)
		}
	}

	common, ok := CommonVersion(versions, relaxed)
	if !ok {
		s.logger.Info("Participants disagree on policy version", zap.Any("versions", versions))
		return s.abort(ctx, protocol.ReasonViewConsistency)
	}
	return s.reauthorizeAll(ctx, common)
}

// commitGlobal checks everybody against the authority's current version.
func (s *Session) commitGlobal(ctx context.Context, relaxed bool) string {
	global, err := s.node.authority.Current(ctx)
	if err != nil {
		s.logger.Warn("Failed to fetch global version", zap.Error(err))
		return s.abort(ctx, protocol.ReasonGlobalConsistency)
	}
	target, ok := s.alignToGlobal(ctx, global, relaxed)
	if !ok {
		return s.abort(ctx, protocol.ReasonGlobalConsistency)
	}
	if !s.node.checker.Integrity(s.sleeper) {
		return s.abort(ctx, protocol.ReasonPTCNo)
	}
	if !s.reauthorize(target) {
		return s.abort(ctx, protocol.ReasonLocalAuth)
	}

	ptc := protocol.Operation{Kind: protocol.OpPrepareToCommit, Version: global, HasVersion: true}.String()
	for _, v := range s.broadcast(ctx, ptc) {
		if v.err != nil {
			return s.abort(ctx, protocol.ReasonPTCNo)
		}
		switch v.reply.String() {
		case protocol.ReplyYesTrue:
		case protocol.ReplyYesFalse:
			return s.abort(ctx, protocol.ReasonPTCFalse)
		default:
			return s.abort(ctx, protocol.ReasonPTCNo)
		}
	}
	return protocol.ReplyCommit
}

// reauthorizeAll re-runs authorization for the local log and then on every
// peer against v.
func (s *Session) reauthorizeAll(ctx context.Context, v policy.Version) string {
	if !s.reauthorize(v) {
		return s.abort(ctx, protocol.ReasonLocalAuth)
	}
	run := protocol.Operation{Kind: protocol.OpRunAuths, Version: v, HasVersion: true}.String()
	for _, vt := range s.broadcast(ctx, run) {
		if vt.err != nil {
			return s.abort(ctx, protocol.ReasonPTCNo)
		}
		if vt.reply.Status != protocol.StatusTrue {
			return s.abort(ctx, protocol.ReasonPTCFalse)
		}
	}
	return protocol.ReplyCommit
}

// broadcast sends payload to every pooled peer concurrently and returns the
// replies in pool order. The first transport failure cancels the rest.
func (s *Session) broadcast(ctx context.Context, payload string) []vote {
	peers := s.pool.Peers()
	votes := make([]vote, len(peers))
	g, gctx := errgroup.WithContext(ctx)
	for i, peer := range peers {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				votes[i] = vote{peer: peer.NodeID, err: err}
				return err
			}
			reply, err := s.send(gctx, peer, payload)
			votes[i] = vote{peer: peer.NodeID, reply: protocol.ParseReply(reply), err: err}
			return err
		})
	}
	g.Wait()
	return votes
}

// CommonVersion picks the version all participants re-authorize against.
// Strict mode requires every version to be equal. Relaxed mode takes the
// smallest one. No versions at all yields Unbound.
func CommonVersion(versions []policy.Version, relaxed bool) (policy.Version, bool) {
	if len(versions) == 0 {
		return policy.Unbound, true
	}
	sorted := append([]policy.Version(nil), versions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	if !relaxed && sorted[0] != sorted[len(sorted)-1] {
		return policy.Unbound, false
	}
	return sorted[0], true
}
