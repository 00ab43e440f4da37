package internaltelemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds the metric instruments of the coordination engine.
type EngineMetrics struct {
	SessionsStarted  metric.Int64Counter
	ActiveSessions   metric.Int64UpDownCounter
	GroupsProcessed  metric.Int64Counter
	Commits          metric.Int64Counter
	Aborts           metric.Int64Counter
	CommitLatency    metric.Int64Histogram
	PolicyPushes     metric.Int64Counter
	TransportFailure metric.Int64Counter
}

// NewEngineMetrics creates and registers the engine metrics on meter.
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	var err error

	if m.SessionsStarted, err = meter.Int64Counter(
		"policytxn.sessions.started_total",
		metric.WithDescription("Sessions accepted by the node."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.ActiveSessions, err = meter.Int64UpDownCounter(
		"policytxn.sessions.active",
		metric.WithDescription("Sessions currently open."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.GroupsProcessed, err = meter.Int64Counter(
		"policytxn.groups.processed_total",
		metric.WithDescription("Operation groups executed."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.Commits, err = meter.Int64Counter(
		"policytxn.txn.committed_total",
		metric.WithDescription("Transactions committed by this coordinator."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.Aborts, err = meter.Int64Counter(
		"policytxn.txn.aborted_total",
		metric.WithDescription("Aborts issued, by reason."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.CommitLatency, err = meter.Int64Histogram(
		"policytxn.txn.commit.duration",
		metric.WithDescription("Wall-clock time of the commit protocol."),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.PolicyPushes, err = meter.Int64Counter(
		"policytxn.policy.forced_pushes_total",
		metric.WithDescription("Forced policy pushes requested by sessions."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.TransportFailure, err = meter.Int64Counter(
		"policytxn.peer.transport_failures_total",
		metric.WithDescription("Failed exchanges with peer nodes."),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordAbort counts one abort with its reason.
func (m *EngineMetrics) RecordAbort(ctx context.Context, reason string) {
	m.Aborts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordCommitDuration records how long a commit protocol run took.
func (m *EngineMetrics) RecordCommitDuration(ctx context.Context, mode string, d time.Duration) {
	m.CommitLatency.Record(ctx, d.Milliseconds(), metric.WithAttributes(attribute.String("mode", mode)))
}
