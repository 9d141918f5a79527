package funk

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// See the metric package for a Prometheus implementation.
type MetricsCollector interface {
	// RecordPrepare is called after each Prepare.
	RecordPrepare(duration time.Duration, err error)

	// RecordPublish is called after each Publish. published is the number
	// of transactions that became canonical.
	RecordPublish(published int, duration time.Duration, err error)

	// RecordCancel is called after each Cancel, CancelSiblings and
	// CancelChildren. cancelled is the number of transactions discarded.
	RecordCancel(cancelled int, duration time.Duration, err error)

	// RecordInsert is called after each record Insert.
	RecordInsert(duration time.Duration, err error)

	// RecordRemove is called after each record Remove.
	RecordRemove(duration time.Duration, err error)

	// RecordVerify is called after each Verify.
	RecordVerify(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordPrepare(time.Duration, error)      {}
func (NoopMetricsCollector) RecordPublish(int, time.Duration, error) {}
func (NoopMetricsCollector) RecordCancel(int, time.Duration, error)  {}
func (NoopMetricsCollector) RecordInsert(time.Duration, error)       {}
func (NoopMetricsCollector) RecordRemove(time.Duration, error)       {}
func (NoopMetricsCollector) RecordVerify(time.Duration, error)       {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	PrepareCount  atomic.Int64
	PrepareErrors atomic.Int64
	PublishCount  atomic.Int64
	PublishErrors atomic.Int64
	PublishedTxns atomic.Int64
	PublishNanos  atomic.Int64
	CancelCount   atomic.Int64
	CancelErrors  atomic.Int64
	CancelledTxns atomic.Int64
	InsertCount   atomic.Int64
	InsertErrors  atomic.Int64
	RemoveCount   atomic.Int64
	RemoveErrors  atomic.Int64
	VerifyCount   atomic.Int64
	VerifyErrors  atomic.Int64
	VerifyNanos   atomic.Int64
}

// RecordPrepare implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPrepare(_ time.Duration, err error) {
	b.PrepareCount.Add(1)
	if err != nil {
		b.PrepareErrors.Add(1)
	}
}

// RecordPublish implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPublish(published int, duration time.Duration, err error) {
	b.PublishCount.Add(1)
	b.PublishedTxns.Add(int64(published))
	b.PublishNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PublishErrors.Add(1)
	}
}

// RecordCancel implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCancel(cancelled int, _ time.Duration, err error) {
	b.CancelCount.Add(1)
	b.CancelledTxns.Add(int64(cancelled))
	if err != nil {
		b.CancelErrors.Add(1)
	}
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(_ time.Duration, err error) {
	b.InsertCount.Add(1)
	if err != nil {
		b.InsertErrors.Add(1)
	}
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(_ time.Duration, err error) {
	b.RemoveCount.Add(1)
	if err != nil {
		b.RemoveErrors.Add(1)
	}
}

// RecordVerify implements MetricsCollector.
func (b *BasicMetricsCollector) RecordVerify(duration time.Duration, err error) {
	b.VerifyCount.Add(1)
	b.VerifyNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.VerifyErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		PrepareCount:    b.PrepareCount.Load(),
		PrepareErrors:   b.PrepareErrors.Load(),
		PublishCount:    b.PublishCount.Load(),
		PublishErrors:   b.PublishErrors.Load(),
		PublishedTxns:   b.PublishedTxns.Load(),
		PublishAvgNanos: avg(b.PublishNanos.Load(), b.PublishCount.Load()),
		CancelCount:     b.CancelCount.Load(),
		CancelErrors:    b.CancelErrors.Load(),
		CancelledTxns:   b.CancelledTxns.Load(),
		InsertCount:     b.InsertCount.Load(),
		InsertErrors:    b.InsertErrors.Load(),
		RemoveCount:     b.RemoveCount.Load(),
		RemoveErrors:    b.RemoveErrors.Load(),
		VerifyCount:     b.VerifyCount.Load(),
		VerifyErrors:    b.VerifyErrors.Load(),
		VerifyAvgNanos:  avg(b.VerifyNanos.Load(), b.VerifyCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	PrepareCount    int64
	PrepareErrors   int64
	PublishCount    int64
	PublishErrors   int64
	PublishedTxns   int64
	PublishAvgNanos int64
	CancelCount     int64
	CancelErrors    int64
	CancelledTxns   int64
	InsertCount     int64
	InsertErrors    int64
	RemoveCount     int64
	RemoveErrors    int64
	VerifyCount     int64
	VerifyErrors    int64
	VerifyAvgNanos  int64
}
