// Package producer turns the ordered outcome of consensus into a running hash
// chained block stream. SyncProducer does all work on the calling goroutine,
// PipelinedProducer schedules it on a worker pool while preserving order.
package producer

import (
	"fmt"
	"strings"

	"github.com/onflow/flow-blockstream/model/stream"
)

// WriteFailurePolicy decides what a producer does when a writer fails to
// persist or close a block.
type WriteFailurePolicy int

const (
	// FailFast halts the producer. Every later call fails with a
	// ProducerHaltedError carrying the writer failure.
	FailFast WriteFailurePolicy = iota
	// LogAndContinue logs the failure and keeps going. The running hash chain
	// then covers items the persisted block does not contain.
	LogAndContinue
)

func (p WriteFailurePolicy) String() string {
	switch p {
	case FailFast:
		return "fail-fast"
	case LogAndContinue:
		return "log-and-continue"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// ParseWriteFailurePolicy parses the String form of a policy.
func ParseWriteFailurePolicy(s string) (WriteFailurePolicy, error) {
	switch strings.ToLower(s) {
	case "fail-fast", "failfast":
		return FailFast, nil
	case "log-and-continue", "logandcontinue":
		return LogAndContinue, nil
	default:
		return 0, fmt.Errorf("unknown write failure policy %q", s)
	}
}

type config struct {
	historyDepth int
	policy       WriteFailurePolicy
}

func defaultConfig() config {
	return config{
		historyDepth: stream.DefaultHistoryDepth,
		policy:       FailFast,
	}
}

type Option func(*config)

// WithHistoryDepth sets how many running hashes are kept, including the
// current one. Depths below stream.DefaultHistoryDepth are raised to it, as
// NMinus3RunningHash needs four hashes.
func WithHistoryDepth(depth int) Option {
	return func(c *config) {
		if depth < stream.DefaultHistoryDepth {
			depth = stream.DefaultHistoryDepth
		}
		c.historyDepth = depth
	}
}

func WithWriteFailurePolicy(policy WriteFailurePolicy) Option {
	return func(c *config) {
		c.policy = policy
	}
}
