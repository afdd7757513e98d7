// Package dhcpopt contains the typed option model shared by DHCPv4 and DHCPv6
// messages along with the TLV codec for option streams.
package dhcpopt

import (
	"slices"
)

// Value is the typed payload of a DHCP option.
type Value interface {
	// Len returns the length of the encoded payload in bytes.
	Len() (n int)

	// Append appends the encoded payload to b and returns the result.
	Append(b []byte) (res []byte)
}

// Option is a single DHCP option.
type Option struct {
	// Value is the payload of the option.  It must not be nil.
	Value Value

	// Code is the option code.  DHCPv4 codes must fit into a single byte.
	Code uint16
}

// Options is an ordered list of options.  The order of the list is the order
// of options on the wire, so repeated codes, like several IA_NA options, are
// kept as is.
type Options []Option

// Get returns the value of the first option with the given code.
func (opts Options) Get(code uint16) (v Value, ok bool) {
	i := slices.IndexFunc(opts, func(o Option) (found bool) { return o.Code == code })
	if i < 0 {
		return nil, false
	}

	return opts[i].Value, true
}

// GetAll returns the values of all options with the given code in the wire
// order.
func (opts Options) GetAll(code uint16) (vals []Value) {
	for _, o := range opts {
		if o.Code == code {
			vals = append(vals, o.Value)
		}
	}

	return vals
}

// Has returns true if opts contains an option with the given code.
func (opts Options) Has(code uint16) (ok bool) {
	_, ok = opts.Get(code)

	return ok
}

// Set replaces the value of the first option with the given code and removes
// all other options with it.  If there is no such option, Set appends it.
func (opts *Options) Set(code uint16, v Value) {
	i := slices.IndexFunc(*opts, func(o Option) (found bool) { return o.Code == code })
	if i < 0 {
		*opts = append(*opts, Option{Code: code, Value: v})

		return
	}

	(*opts)[i].Value = v
	tail := slices.DeleteFunc((*opts)[i+1:], func(o Option) (del bool) { return o.Code == code })
	*opts = (*opts)[:i+1+len(tail)]
}

// Add appends an option with the given code, keeping existing ones.
func (opts *Options) Add(code uint16, v Value) {
	*opts = append(*opts, Option{Code: code, Value: v})
}

// Del removes all options with the given code.
func (opts *Options) Del(code uint16) {
	*opts = slices.DeleteFunc(*opts, func(o Option) (del bool) { return o.Code == code })
}

// Clone returns a shallow copy of opts.  Values are shared.
func (opts Options) Clone() (clone Options) {
	return slices.Clone(opts)
}
