package coordinator

import (
	"context"

	"go.uber.org/zap"

	"github.com/sushant-115/policytxn/core/policy"
	"github.com/sushant-115/policytxn/core/protocol"
)

// prepare answers PTC in the participant role.
func (s *Session) prepare(ctx context.Context, op protocol.Operation) string {
	mode := s.params.ValidationMode
	switch {
	case mode == protocol.TwoPhaseOnly:
		if !s.node.checker.Integrity(s.sleeper) {
			return protocol.ReplyNo
		}
		return protocol.ReplyYes
	case mode.IsView():
		if !s.node.checker.Integrity(s.sleeper) {
			return protocol.ReplyNo
		}
		return protocol.YesVersion(s.bound.Load())
	case mode.IsGlobal():
		if !op.HasVersion {
			s.logger.Warn("PTC without a global version under global validation")
			return protocol.ReplyNo
		}
		target, ok := s.alignToGlobal(ctx, op.Version, mode == protocol.GlobalRelaxed)
		if !ok {
			return protocol.ReplyNo
		}
		if !s.node.checker.Integrity(s.sleeper) {
			return protocol.ReplyNoFalse
		}
		if !s.reauthorize(target) {
			return protocol.ReplyYesFalse
		}
		return protocol.ReplyYesTrue
	}
	return protocol.ReplyNo
}

// alignToGlobal returns the version to re-authorize against when the
// authority's version is global. An unbound session adopts global. A session
// bound elsewhere fails unless relaxed, in which case it re-fetches the
// authority's version, clamped to global so a bump racing the commit cannot
// carry it past what the coordinator saw.
func (s *Session) alignToGlobal(ctx context.Context, global policy.Version, relaxed bool) (policy.Version, bool) {
	own := s.bound.Load()
	switch {
	case own == policy.Unbound:
		s.bound.Advance(global)
		return global, true
	case own == global:
		return global, true
	case !relaxed:
		s.logger.Info("Bound version differs from global version",
			zap.Stringer("version", own), zap.Stringer("global", global))
		return policy.Unbound, false
	}
	cur, err := s.node.authority.Current(ctx)
	if err != nil {
		s.logger.Warn("Failed to re-fetch global version", zap.Error(err))
		return policy.Unbound, false
	}
	target := policy.Min(cur, global)
	s.bound.Advance(target)
	s.logger.Debug("Re-aligned to global version",
		zap.Stringer("version", own), zap.Stringer("global", global), zap.Stringer("target", target))
	return target, true
}
