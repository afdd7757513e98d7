package dhcpsvc

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/binding"
	"github.com/AdguardTeam/AdGuardDHCP/internal/ddns"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp4"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcp6"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpopt"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/AdguardTeam/golibs/validate"
)

// DDNS submits the updates of the client names.  *ddns.Dispatcher is the main
// implementation.
type DDNS interface {
	// Submit starts the job.  It must not block for long.
	Submit(ctx context.Context, j *ddns.Job)
}

// type check
var _ DDNS = (*ddns.Dispatcher)(nil)

// Config is the configuration for the DHCP service.
type Config struct {
	// Logger is used to log the DHCP events.  It must not be nil.
	Logger *slog.Logger

	// Bindings is the manager of the client bindings.  It must not be nil.
	Bindings *binding.Manager

	// Metrics is used for the collection of the statistics.  It must not be
	// nil.
	Metrics Metrics

	// DDNS submits the updates of the client names.  If nil, the updates are
	// disabled.
	DDNS DDNS

	// V6 is the configuration of DHCPv6.  If nil, DHCPv6 is disabled.
	V6 *V6Config

	// V4 is the configuration of DHCPv4.  If nil, DHCPv4 is disabled.
	V4 *V4Config

	// DomainName is appended to the partial names of the clients.  If empty,
	// partial names are ignored.
	DomainName string

	// Links are the served links.  It must not be empty and the links must
	// be the ones the bindings manager is configured with.
	Links []*Link

	// RequestTimeout is the timeout for processing a single message.  It
	// must be positive.
	RequestTimeout time.Duration

	// Workers is the number of goroutines processing the messages.  It must
	// be positive.
	Workers int

	// QueueSize is the number of messages waiting for a free worker.
	// Messages received when the queue is full are dropped.  It must be
	// positive.
	QueueSize int

	// RapidCommit enables the two-message exchange for the clients that
	// request it.
	RapidCommit bool
}

// type check
var _ validate.Interface = (*Config)(nil)

// Validate implements the [validate.Interface] interface for *Config.
func (conf *Config) Validate() (err error) {
	if conf == nil {
		return errors.ErrNoValue
	}

	errs := []error{
		validate.NotNil("Logger", conf.Logger),
		validate.NotNil("Bindings", conf.Bindings),
		validate.NotNilInterface("Metrics", conf.Metrics),
		validate.NotNegative("Workers", conf.Workers),
		validate.NotNegative("QueueSize", conf.QueueSize),
	}

	if conf.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("RequestTimeout: %w: %s", errors.ErrNotPositive, conf.RequestTimeout))
	}

	if conf.Workers == 0 {
		errs = append(errs, fmt.Errorf("Workers: %w", errors.ErrNotPositive))
	}

	if conf.QueueSize == 0 {
		errs = append(errs, fmt.Errorf("QueueSize: %w", errors.ErrNotPositive))
	}

	if conf.DomainName != "" {
		err = netutil.ValidateDomainName(conf.DomainName)
		if err != nil {
			errs = append(errs, fmt.Errorf("DomainName: %w", err))
		}
	}

	if conf.V6 == nil && conf.V4 == nil {
		errs = append(errs, fmt.Errorf("V6 and V4: %w", errors.ErrNoValue))
	}

	if conf.V6 != nil {
		errs = validate.Append(errs, "V6", conf.V6)
	}

	if conf.V4 != nil {
		errs = validate.Append(errs, "V4", conf.V4)
	}

	if len(conf.Links) == 0 {
		errs = append(errs, fmt.Errorf("Links: %w", errors.ErrEmptyValue))
	}

	for i, l := range conf.Links {
		errs = validate.Append(errs, fmt.Sprintf("Links[%d]", i), l)
	}

	return errors.Join(errs...)
}

// V6Config is the configuration of DHCPv6.
type V6Config struct {
	// Decoder decodes the received packets.  It must not be nil.
	Decoder *dhcp6.Decoder

	// ServerDUID is the DUID of the server.  It must not be empty.
	ServerDUID []byte

	// Options are sent to all clients.  The options of a link override them.
	Options dhcpopt.Options

	// Interfaces are the names of the network interfaces to listen on.
	Interfaces []string
}

// type check
var _ validate.Interface = (*V6Config)(nil)

// Validate implements the [validate.Interface] interface for *V6Config.
func (conf *V6Config) Validate() (err error) {
	if conf == nil {
		return errors.ErrNoValue
	}

	return errors.Join(
		validate.NotNil("Decoder", conf.Decoder),
		validate.NotEmptySlice("ServerDUID", conf.ServerDUID),
		errors.Annotate(dhcpopt.ValidateOptions(dhcpopt.FormatV6, conf.Options), "Options: %w"),
	)
}

// V4Config is the configuration of DHCPv4.
type V4Config struct {
	// Decoder decodes the received packets.  It must not be nil.
	Decoder *dhcp4.Decoder

	// Options are sent to all clients.  The options of a link override them.
	Options dhcpopt.Options

	// Interfaces are the names of the network interfaces to listen on.
	Interfaces []string
}

// type check
var _ validate.Interface = (*V4Config)(nil)

// Validate implements the [validate.Interface] interface for *V4Config.
func (conf *V4Config) Validate() (err error) {
	if conf == nil {
		return errors.ErrNoValue
	}

	return errors.Join(
		validate.NotNil("Decoder", conf.Decoder),
		errors.Annotate(dhcpopt.ValidateOptions(dhcpopt.FormatV4, conf.Options), "Options: %w"),
	)
}

// Link is a network link served by the service.
type Link struct {
	*binding.Link

	// Interface is the name of the network interface the link is directly
	// attached to.  It's empty for the links only reachable through relay
	// agents.
	Interface string

	// Options6 are the DHCPv6 options sent to the clients on the link.
	Options6 dhcpopt.Options

	// Options4 are the DHCPv4 options sent to the clients on the link.
	Options4 dhcpopt.Options

	// ServerIP4 is the address of the server on the link used as the DHCPv4
	// server identifier.  It must be set for IPv4 links.
	ServerIP4 netip.Addr
}

// type check
var _ validate.Interface = (*Link)(nil)

// Validate implements the [validate.Interface] interface for *Link.
func (l *Link) Validate() (err error) {
	switch {
	case l == nil:
		return errors.ErrNoValue
	case l.Link == nil:
		return fmt.Errorf("Link: %w", errors.ErrNoValue)
	case !l.Subnet.IsValid():
		return fmt.Errorf("Subnet: %w", errors.ErrNoValue)
	}

	if !l.Subnet.Addr().Is4() {
		return errors.Annotate(dhcpopt.ValidateOptions(dhcpopt.FormatV6, l.Options6), "Options6: %w")
	}

	var errs []error
	if !l.ServerIP4.Is4() {
		errs = append(errs, fmt.Errorf("ServerIP4: %w", errors.ErrNoValue))
	}

	err = dhcpopt.ValidateOptions(dhcpopt.FormatV4, l.Options4)
	if err != nil {
		errs = append(errs, fmt.Errorf("Options4: %w", err))
	}

	return errors.Join(errs...)
}

// links returns the links of the given family.
func links(all []*Link, is4 bool) (res []*Link) {
	return slices.DeleteFunc(slices.Clone(all), func(l *Link) (del bool) {
		return l.Subnet.Addr().Is4() != is4
	})
}
