package funk

import "time"

// RootFrozenPolicy decides when the canonical state rejects record
// mutations.
type RootFrozenPolicy uint32

const (
	// RootFrozenWithChildren freezes the canonical state while it has any
	// in-preparation child, exactly like a transaction.
	RootFrozenWithChildren RootFrozenPolicy = iota

	// RootFrozenDuringPublish freezes the canonical state only while a
	// publish is applying records to it. Erasing a canonical record then
	// also drops the branch tombstones that pointed at it.
	RootFrozenDuringPublish
)

func (p RootFrozenPolicy) String() string {
	switch p {
	case RootFrozenWithChildren:
		return "with-children"
	case RootFrozenDuringPublish:
		return "during-publish"
	default:
		return "unknown"
	}
}

// DefaultWarnInterval is the minimum spacing of verbose usage-error warnings.
const DefaultWarnInterval = time.Second

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	verbose          bool
	warnInterval     time.Duration
	policy           RootFrozenPolicy
}

// Option configures New, Join and Delete.
type Option func(*options)

// WithMetricsCollector sets the metrics collector.
//
// If nil is passed, metrics collection is disabled.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger sets the logger.
//
// If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithVerbose enables warnings for rejected operations. Warnings are
// throttled to one per interval (DefaultWarnInterval if interval <= 0).
func WithVerbose(verbose bool, interval time.Duration) Option {
	return func(o *options) {
		o.verbose = verbose
		if interval > 0 {
			o.warnInterval = interval
		}
	}
}

// WithRootFrozenPolicy selects the canonical-state freezing policy. It only
// has an effect on New; joined stores use the policy stored at creation.
func WithRootFrozenPolicy(p RootFrozenPolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		warnInterval:     DefaultWarnInterval,
		policy:           RootFrozenWithChildren,
	}
	for _, fn := range optFns {
		fn(&o)
	}
	return o
}
