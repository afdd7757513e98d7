package dhcpsvc

import (
	"context"
	"time"
)

// Request results reported to [Metrics].
const (
	ResultReply   = "reply"
	ResultNoReply = "no_reply"
	ResultDrop    = "drop"
	ResultError   = "error"
)

// Metrics is the interface for collecting the statistics of the service.
type Metrics interface {
	// ObserveRequest records a processed message of type msgType with the
	// given result, see [ResultReply] and others.
	ObserveRequest(ctx context.Context, family, msgType, result string, dur time.Duration)

	// IncrementStatus records the status of a processed identity
	// association.
	IncrementStatus(ctx context.Context, family, status string)

	// IncrementQueueOverflow records a message dropped because the request
	// queue is full.
	IncrementQueueOverflow(ctx context.Context, family string)

	// IncrementDDNS records the result of a DNS update, op is one of
	// "fwd_add", "fwd_delete", "rev_add", and "rev_delete".
	IncrementDDNS(ctx context.Context, op string, ok bool)

	// AddExpired records the leases moved out by the expiry reaper.
	AddExpired(ctx context.Context, n int)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// ObserveRequest implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) ObserveRequest(_ context.Context, _, _, _ string, _ time.Duration) {}

// IncrementStatus implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncrementStatus(_ context.Context, _, _ string) {}

// IncrementQueueOverflow implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncrementQueueOverflow(_ context.Context, _ string) {}

// IncrementDDNS implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncrementDDNS(_ context.Context, _ string, _ bool) {}

// AddExpired implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) AddExpired(_ context.Context, _ int) {}
