// Package dhcpsvc contains the DHCPv6 and DHCPv4 message processors and the
// service serving them over the network.
package dhcpsvc

import (
	"context"

	"github.com/AdguardTeam/AdGuardDHCP/internal/agh"
)

const (
	// keyInterface is the key for logging the network interface name.
	keyInterface = "iface"

	// keyFamily is the key for logging the handled address family.
	keyFamily = "family"

	// keyMsgType is the key for logging the type of a handled message.
	keyMsgType = "msg_type"

	// keyPeer is the key for logging the address of the sender.
	keyPeer = "peer"

	// keyXID is the key for logging the transaction ID.
	keyXID = "xid"
)

// Address families.
const (
	familyV4 = "v4"
	familyV6 = "v6"
)

// Interface is a DHCP service.
type Interface interface {
	agh.ServiceWithConfig[*Config]
}

// Empty is an [Interface] implementation that does nothing.
type Empty struct{}

// type check
var _ Interface = Empty{}

// Start implements the [Interface] interface for Empty.
func (Empty) Start(_ context.Context) (err error) { return nil }

// Shutdown implements the [Interface] interface for Empty.
func (Empty) Shutdown(_ context.Context) (err error) { return nil }

// Config implements the [Interface] interface for Empty.
func (Empty) Config() (conf *Config) { return nil }
