package jsonfile

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
)

// dataVersion is the current version of the stored leases structure.
const dataVersion = 1

// dataLeases is the structure of the stored leases.
type dataLeases struct {
	// Leases is the list containing stored leases.
	Leases []*dbLease `json:"leases"`

	// Version is the current version of the structure.
	Version int `json:"version"`
}

// dbLease is the structure of a stored lease.
type dbLease struct {
	Start        string     `json:"start,omitempty"`
	PreferredEnd string     `json:"preferred_end,omitempty"`
	ValidEnd     string     `json:"valid_end,omitempty"`
	IP           netip.Addr `json:"ip"`
	DUID         string     `json:"duid"`
	FQDN         string     `json:"fqdn,omitempty"`
	IAType       string     `json:"ia_type"`
	State        string     `json:"state"`
	IAID         uint32     `json:"iaid"`
	PrefixLen    uint8      `json:"prefix_len,omitempty"`
}

// formatTime returns the stored form of t.  Zero time is stored as an empty
// string.
func formatTime(t time.Time) (s string) {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses the stored form of a time value.
func parseTime(s string) (t time.Time, err error) {
	if s == "" {
		return time.Time{}, nil
	}

	return time.Parse(time.RFC3339Nano, s)
}

// toDBLease converts *lease.Lease to *dbLease.
func toDBLease(l *lease.Lease) (dl *dbLease) {
	return &dbLease{
		Start:        formatTime(l.StartTime),
		PreferredEnd: formatTime(l.PreferredEndTime),
		ValidEnd:     formatTime(l.ValidEndTime),
		IP:           l.IP,
		DUID:         hex.EncodeToString(l.DUID),
		FQDN:         l.FQDN,
		IAType:       l.IAType.String(),
		State:        l.State.String(),
		IAID:         l.IAID,
		PrefixLen:    l.PrefixLen,
	}
}

// toInternal converts dl to *lease.Lease.
func (dl *dbLease) toInternal() (l *lease.Lease, err error) {
	duid, err := hex.DecodeString(dl.DUID)
	if err != nil {
		return nil, fmt.Errorf("parsing duid: %w", err)
	}

	iaType, err := lease.ParseIAType(dl.IAType)
	if err != nil {
		return nil, err
	}

	state, err := lease.ParseState(dl.State)
	if err != nil {
		return nil, err
	}

	l = &lease.Lease{
		IP:        dl.IP,
		DUID:      duid,
		FQDN:      dl.FQDN,
		IAID:      dl.IAID,
		PrefixLen: dl.PrefixLen,
		IAType:    iaType,
		State:     state,
	}

	for _, f := range []struct {
		dst *time.Time
		val string
	}{{
		dst: &l.StartTime,
		val: dl.Start,
	}, {
		dst: &l.PreferredEndTime,
		val: dl.PreferredEnd,
	}, {
		dst: &l.ValidEndTime,
		val: dl.ValidEnd,
	}} {
		*f.dst, err = parseTime(f.val)
		if err != nil {
			return nil, fmt.Errorf("parsing time: %w", err)
		}
	}

	return l, nil
}
