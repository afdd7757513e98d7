package binding

import (
	"fmt"
	"math"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
)

// Policy is the set of server policies affecting bindings.  A Policy is never
// changed after construction, link-level overrides are separate copies.
type Policy struct {
	// PreferredLifetime is the preferred lifetime of IA_NA and IA_TA
	// addresses.
	PreferredLifetime time.Duration

	// ValidLifetime is the valid lifetime of IA_NA and IA_TA addresses.  It
	// must not be less than PreferredLifetime.
	ValidLifetime time.Duration

	// PDPreferredLifetime is the preferred lifetime of delegated prefixes.
	PDPreferredLifetime time.Duration

	// PDValidLifetime is the valid lifetime of delegated prefixes.  It must not
	// be less than PDPreferredLifetime.
	PDValidLifetime time.Duration

	// V4LeaseTime is the lease time of DHCPv4 addresses.
	V4LeaseTime time.Duration

	// OfferExpiration is the time an advertised address is held for the client
	// before it may be given to another one.
	OfferExpiration time.Duration

	// DeclineQuarantine is the time a declined address is kept out of
	// allocation.  If zero, declined addresses are deleted at once.
	DeclineQuarantine time.Duration

	// ReaperPeriod is the interval between the scans for expired leases.
	ReaperPeriod time.Duration

	// T1Ratio is the fraction of the preferred lifetime after which the
	// client contacts the server to renew.
	T1Ratio float64

	// T2Ratio is the fraction of the preferred lifetime after which the
	// client contacts any server to rebind.  It must not be less than
	// T1Ratio.
	T2Ratio float64

	// DeleteOldBindings makes the reaper delete expired leases instead of
	// marking them expired.
	DeleteOldBindings bool

	// VerifyUnknownRebind makes the server answer a Rebind for an unknown
	// binding with zero lifetimes for the addresses not appropriate for the
	// link.  Otherwise, such Rebind messages are dropped.
	VerifyUnknownRebind bool

	// SendRequestedOptionsOnly makes the server send only the configured
	// options requested by the client.
	SendRequestedOptionsOnly bool
}

// DefaultPolicy returns the policy with default values.
func DefaultPolicy() (p *Policy) {
	return &Policy{
		PreferredLifetime:   1 * time.Hour,
		ValidLifetime:       1 * time.Hour,
		PDPreferredLifetime: 1 * time.Hour,
		PDValidLifetime:     1 * time.Hour,
		V4LeaseTime:         1 * time.Hour,
		OfferExpiration:     12 * time.Second,
		DeclineQuarantine:   0,
		ReaperPeriod:        1 * time.Minute,
		T1Ratio:             0.5,
		T2Ratio:             0.8,
	}
}

// type check
var _ validate.Interface = (*Policy)(nil)

// Validate implements the [validate.Interface] interface for *Policy.
func (p *Policy) Validate() (err error) {
	if p == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotNegative("DeclineQuarantine", p.DeclineQuarantine),
	}

	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{name: "PreferredLifetime", val: p.PreferredLifetime},
		{name: "PDPreferredLifetime", val: p.PDPreferredLifetime},
		{name: "V4LeaseTime", val: p.V4LeaseTime},
		{name: "OfferExpiration", val: p.OfferExpiration},
		{name: "ReaperPeriod", val: p.ReaperPeriod},
	} {
		if d.val <= 0 {
			errs = append(errs, fmt.Errorf("%s: %w: %s", d.name, errors.ErrNotPositive, d.val))
		}
	}

	if p.ValidLifetime < p.PreferredLifetime {
		errs = append(errs, fmt.Errorf(
			"ValidLifetime %s is less than PreferredLifetime %s",
			p.ValidLifetime,
			p.PreferredLifetime,
		))
	}

	if p.PDValidLifetime < p.PDPreferredLifetime {
		errs = append(errs, fmt.Errorf(
			"PDValidLifetime %s is less than PDPreferredLifetime %s",
			p.PDValidLifetime,
			p.PDPreferredLifetime,
		))
	}

	if p.T1Ratio < 0 || p.T2Ratio < p.T1Ratio || p.T2Ratio > 1 {
		errs = append(errs, fmt.Errorf(
			"T1Ratio %g and T2Ratio %g must satisfy 0 <= T1 <= T2 <= 1",
			p.T1Ratio,
			p.T2Ratio,
		))
	}

	return errors.Join(errs...)
}

// Timers returns the T1 and T2 times for an identity association with the
// given shortest preferred lifetime.
func (p *Policy) Timers(preferred time.Duration) (t1, t2 time.Duration) {
	if preferred <= 0 {
		return 0, 0
	}

	t1 = time.Duration(math.Round(float64(preferred) * p.T1Ratio)).Truncate(time.Second)
	t2 = time.Duration(math.Round(float64(preferred) * p.T2Ratio)).Truncate(time.Second)

	return t1, t2
}
