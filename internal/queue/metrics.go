package queue

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of the queue counters
const meterName = "github.com/cuongbtq/profile-queue/internal/queue"

// counter is an OTel counter that also keeps a local total for Stats
type counter struct {
	inst  metric.Int64Counter
	total atomic.Uint64
}

func (c *counter) inc(ctx context.Context) {
	c.inst.Add(ctx, 1)
	c.total.Add(1)
}

func (c *counter) load() uint64 {
	return c.total.Load()
}

// Metrics counts queue events since process start
type Metrics struct {
	enqueued       counter
	deduplicated   counter
	claimed        counter
	claimConflicts counter
	completed      counter
	retried        counter
	failed         counter
	reclaimed      counter
	leaseRenewals  counter
	paused         counter
	resumed        counter
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	Enqueued       uint64 `json:"enqueued"`
	Deduplicated   uint64 `json:"deduplicated"`
	Claimed        uint64 `json:"claimed"`
	ClaimConflicts uint64 `json:"claim_conflicts"`
	Completed      uint64 `json:"completed"`
	Retried        uint64 `json:"retried"`
	Failed         uint64 `json:"failed"`
	Reclaimed      uint64 `json:"reclaimed"`
	LeaseRenewals  uint64 `json:"lease_renewals"`
	Paused         uint64 `json:"paused"`
	Resumed        uint64 `json:"resumed"`
}

// NewMetrics creates the counters on the global OTel MeterProvider. Without a
// configured provider the instruments are noops and only Snapshot counts.
func NewMetrics() *Metrics {
	return NewMetricsWithMeter(otel.Meter(meterName))
}

// NewMetricsWithMeter creates the counters on meter
func NewMetricsWithMeter(meter metric.Meter) *Metrics {
	m := &Metrics{}
	for _, c := range []struct {
		target *counter
		name   string
		desc   string
	}{
		{&m.enqueued, "profile_queue_jobs_enqueued", "Jobs admitted"},
		{&m.deduplicated, "profile_queue_jobs_deduplicated", "Enqueue requests covered by an existing job"},
		{&m.claimed, "profile_queue_jobs_claimed", "Jobs moved to PROCESSING"},
		{&m.claimConflicts, "profile_queue_claim_conflicts", "Claims lost to another scheduler"},
		{&m.completed, "profile_queue_jobs_completed", "Jobs completed"},
		{&m.retried, "profile_queue_jobs_retried", "Failed attempts returned to PENDING"},
		{&m.failed, "profile_queue_jobs_failed", "Jobs failed permanently"},
		{&m.reclaimed, "profile_queue_jobs_reclaimed", "Expired leases reclaimed by the sweeper"},
		{&m.leaseRenewals, "profile_queue_lease_renewals", "Leases extended by a running worker"},
		{&m.paused, "profile_queue_jobs_paused", "Jobs paused"},
		{&m.resumed, "profile_queue_jobs_resumed", "Jobs resumed"},
	} {
		inst, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		_ = err // the API hands back a noop instrument on error
		c.target.inst = inst
	}
	return m
}

func (m *Metrics) incEnqueued(ctx context.Context)       { m.enqueued.inc(ctx) }
func (m *Metrics) incDeduplicated(ctx context.Context)   { m.deduplicated.inc(ctx) }
func (m *Metrics) incClaimed(ctx context.Context)        { m.claimed.inc(ctx) }
func (m *Metrics) incClaimConflicts(ctx context.Context) { m.claimConflicts.inc(ctx) }
func (m *Metrics) incCompleted(ctx context.Context)      { m.completed.inc(ctx) }
func (m *Metrics) incRetried(ctx context.Context)        { m.retried.inc(ctx) }
func (m *Metrics) incFailed(ctx context.Context)         { m.failed.inc(ctx) }
func (m *Metrics) incReclaimed(ctx context.Context)      { m.reclaimed.inc(ctx) }
func (m *Metrics) incLeaseRenewals(ctx context.Context)  { m.leaseRenewals.inc(ctx) }
func (m *Metrics) incPaused(ctx context.Context)         { m.paused.inc(ctx) }
func (m *Metrics) incResumed(ctx context.Context)        { m.resumed.inc(ctx) }

// Snapshot reads all counters
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Enqueued:       m.enqueued.load(),
		Deduplicated:   m.deduplicated.load(),
		Claimed:        m.claimed.load(),
		ClaimConflicts: m.claimConflicts.load(),
		Completed:      m.completed.load(),
		Retried:        m.retried.load(),
		Failed:         m.failed.load(),
		Reclaimed:      m.reclaimed.load(),
		LeaseRenewals:  m.leaseRenewals.load(),
		Paused:         m.paused.load(),
		Resumed:        m.resumed.load(),
	}
}
