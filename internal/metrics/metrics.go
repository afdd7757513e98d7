// Package metrics contains the Prometheus metrics of AdGuard DHCP and the HTTP
// handler exposing them.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpsvc"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is the default namespace of the metrics.
const Namespace = "adguard_dhcp"

// Subsystems of the metrics.
const (
	subsystemServer = "server"
	subsystemLeases = "leases"
	subsystemDDNS   = "ddns"
)

// DHCP is the Prometheus-based implementation of the [dhcpsvc.Metrics]
// interface.
type DHCP struct {
	// requests is the counter of processed messages by address family, message
	// type, and result.
	requests *prometheus.CounterVec

	// duration is the histogram of the processing time of messages by address
	// family.
	duration *prometheus.HistogramVec

	// statuses is the counter of processed identity associations by address
	// family and status.
	statuses *prometheus.CounterVec

	// overflows is the counter of messages dropped because of a full request
	// queue.
	overflows *prometheus.CounterVec

	// ddnsUpdates is the counter of DNS updates by operation and result.
	ddnsUpdates *prometheus.CounterVec

	// expired is the counter of leases moved out by the expiry reaper.
	expired prometheus.Counter
}

// NewDHCP registers the DHCP metrics in reg under namespace and returns them.
// reg must not be nil.
func NewDHCP(namespace string, reg prometheus.Registerer) (m *DHCP, err error) {
	m = &DHCP{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemServer,
			Name:      "requests_total",
			Help:      "The number of processed DHCP messages by family, type, and result.",
		}, []string{"family", "type", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemServer,
			Name:      "request_duration_seconds",
			Help:      "The time spent processing DHCP messages.",
			// From 0.25ms to 8 seconds.
			Buckets: prometheus.ExponentialBuckets(0.00025, 2, 16),
		}, []string{"family"}),
		statuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLeases,
			Name:      "ia_status_total",
			Help:      "The number of processed identity associations by family and status.",
		}, []string{"family", "status"}),
		overflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemServer,
			Name:      "queue_overflows_total",
			Help:      "The number of messages dropped because the request queue was full.",
		}, []string{"family"}),
		ddnsUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemDDNS,
			Name:      "updates_total",
			Help:      "The number of DNS updates by operation and result.",
		}, []string{"op", "result"}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemLeases,
			Name:      "expired_total",
			Help:      "The number of leases moved out by the expiry reaper.",
		}),
	}

	var errs []error
	for _, c := range []prometheus.Collector{
		m.requests,
		m.duration,
		m.statuses,
		m.overflows,
		m.ddnsUpdates,
		m.expired,
	} {
		err = reg.Register(c)
		if err != nil {
			errs = append(errs, err)
		}
	}

	if err = errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("registering dhcp metrics: %w", err)
	}

	return m, nil
}

// type check
var _ dhcpsvc.Metrics = (*DHCP)(nil)

// ObserveRequest implements the [dhcpsvc.Metrics] interface for *DHCP.
func (m *DHCP) ObserveRequest(
	_ context.Context,
	family string,
	msgType string,
	result string,
	dur time.Duration,
) {
	m.requests.WithLabelValues(family, msgType, result).Inc()
	m.duration.WithLabelValues(family).Observe(dur.Seconds())
}

// IncrementStatus implements the [dhcpsvc.Metrics] interface for *DHCP.
func (m *DHCP) IncrementStatus(_ context.Context, family, status string) {
	m.statuses.WithLabelValues(family, status).Inc()
}

// IncrementQueueOverflow implements the [dhcpsvc.Metrics] interface for *DHCP.
func (m *DHCP) IncrementQueueOverflow(_ context.Context, family string) {
	m.overflows.WithLabelValues(family).Inc()
}

// IncrementDDNS implements the [dhcpsvc.Metrics] interface for *DHCP.
func (m *DHCP) IncrementDDNS(_ context.Context, op string, ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}

	m.ddnsUpdates.WithLabelValues(op, result).Inc()
}

// AddExpired implements the [dhcpsvc.Metrics] interface for *DHCP.
func (m *DHCP) AddExpired(_ context.Context, n int) {
	m.expired.Add(float64(n))
}
