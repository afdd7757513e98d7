package configmgr

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/binding"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/validate"
)

// Policy keys available in the configuration.
const (
	policyPreferredLifetime        = "ia.preferred_lifetime"
	policyValidLifetime            = "ia.valid_lifetime"
	policyT1Ratio                  = "ia.t1_ratio"
	policyT2Ratio                  = "ia.t2_ratio"
	policyPDPreferredLifetime      = "pd.preferred_lifetime"
	policyPDValidLifetime          = "pd.valid_lifetime"
	policyV4LeaseTime              = "v4.lease_time"
	policyOfferExpiration          = "binding.offer_expiration"
	policyDeclineQuarantine        = "binding.decline_quarantine"
	policyReaperPeriod             = "binding.reaper_period"
	policyDeleteOldBindings        = "binding.delete_old_bindings"
	policyVerifyUnknownRebind      = "dhcp.verify_unknown_rebind"
	policySendRequestedOptionsOnly = "dhcp.send_requested_options_only"
)

// policySetter parses the value of a policy key into p.
type policySetter func(p *binding.Policy, val string) (err error)

// durationSetter returns a setter of the duration field returned by field.
func durationSetter(field func(p *binding.Policy) (d *time.Duration)) (s policySetter) {
	return func(p *binding.Policy, val string) (err error) {
		*field(p), err = time.ParseDuration(val)

		return err
	}
}

// ratioSetter returns a setter of the ratio field returned by field.
func ratioSetter(field func(p *binding.Policy) (r *float64)) (s policySetter) {
	return func(p *binding.Policy, val string) (err error) {
		*field(p), err = strconv.ParseFloat(val, 64)

		return err
	}
}

// boolSetter returns a setter of the flag returned by field.
func boolSetter(field func(p *binding.Policy) (b *bool)) (s policySetter) {
	return func(p *binding.Policy, val string) (err error) {
		*field(p), err = strconv.ParseBool(val)

		return err
	}
}

// policySetters maps the policy keys to their setters.
var policySetters = map[string]policySetter{
	policyPreferredLifetime: durationSetter(func(p *binding.Policy) (d *time.Duration) {
		return &p.PreferredLifetime
	}),
	policyValidLifetime: durationSetter(func(p *binding.Policy) (d *time.Duration) {
		return &p.ValidLifetime
	}),
	policyT1Ratio: ratioSetter(func(p *binding.Policy) (r *float64) {
		return &p.T1Ratio
	}),
	policyT2Ratio: ratioSetter(func(p *binding.Policy) (r *float64) {
		return &p.T2Ratio
	}),
	policyPDPreferredLifetime: durationSetter(func(p *binding.Policy) (d *time.Duration) {
		return &p.PDPreferredLifetime
	}),
	policyPDValidLifetime: durationSetter(func(p *binding.Policy) (d *time.Duration) {
		return &p.PDValidLifetime
	}),
	policyV4LeaseTime: durationSetter(func(p *binding.Policy) (d *time.Duration) {
		return &p.V4LeaseTime
	}),
	policyOfferExpiration: durationSetter(func(p *binding.Policy) (d *time.Duration) {
		return &p.OfferExpiration
	}),
	policyDeclineQuarantine: durationSetter(func(p *binding.Policy) (d *time.Duration) {
		return &p.DeclineQuarantine
	}),
	policyReaperPeriod: durationSetter(func(p *binding.Policy) (d *time.Duration) {
		return &p.ReaperPeriod
	}),
	policyDeleteOldBindings: boolSetter(func(p *binding.Policy) (b *bool) {
		return &p.DeleteOldBindings
	}),
	policyVerifyUnknownRebind: boolSetter(func(p *binding.Policy) (b *bool) {
		return &p.VerifyUnknownRebind
	}),
	policySendRequestedOptionsOnly: boolSetter(func(p *binding.Policy) (b *bool) {
		return &p.SendRequestedOptionsOnly
	}),
}

// policies is the on-disk key-value form of the server policies.  Keys absent
// from the map keep their values from the parent policy.
type policies map[string]string

// apply returns a copy of base with the values from ps.  The result is not
// validated.
func (ps policies) apply(base *binding.Policy) (p *binding.Policy, err error) {
	clone := *base
	p = &clone

	var errs []error
	for _, k := range slices.Sorted(maps.Keys(ps)) {
		set, ok := policySetters[k]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %q", errors.ErrBadEnumValue, k))

			continue
		}

		err = set(p, ps[k])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
		}
	}

	return p, errors.Join(errs...)
}

// type check
var _ validate.Interface = policies(nil)

// Validate implements the [validate.Interface] interface for policies.  The
// values are checked against the default policy.
func (ps policies) Validate() (err error) {
	p, err := ps.apply(binding.DefaultPolicy())
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return err
	}

	return p.Validate()
}
