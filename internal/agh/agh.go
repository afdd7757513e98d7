// Package agh contains common entities and interfaces of AdGuard DHCP.
package agh

import (
	"context"

	"github.com/AdguardTeam/golibs/service"
)

// ServiceWithConfig is an extension of the [service.Interface] interface for
// services that can return their configuration.
type ServiceWithConfig[ConfigType any] interface {
	service.Interface

	// Config returns a deep clone of the configuration of the service.
	Config() (c ConfigType)
}

// EmptyServiceWithConfig is a ServiceWithConfig that does nothing.  Its Config
// method returns Conf.
type EmptyServiceWithConfig[ConfigType any] struct {
	Conf ConfigType
}

// type check
var _ ServiceWithConfig[struct{}] = (*EmptyServiceWithConfig[struct{}])(nil)

// Start implements the [ServiceWithConfig] interface for
// *EmptyServiceWithConfig.
func (s *EmptyServiceWithConfig[_]) Start(_ context.Context) (err error) { return nil }

// Shutdown implements the [ServiceWithConfig] interface for
// *EmptyServiceWithConfig.
func (s *EmptyServiceWithConfig[_]) Shutdown(_ context.Context) (err error) { return nil }

// Config implements the [ServiceWithConfig] interface for
// *EmptyServiceWithConfig.
func (s *EmptyServiceWithConfig[ConfigType]) Config() (conf ConfigType) {
	return s.Conf
}
