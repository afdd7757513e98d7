package aghtest

import (
	"context"

	"github.com/AdguardTeam/AdGuardDHCP/internal/agh"
	"github.com/AdguardTeam/AdGuardDHCP/internal/aghos"
	"github.com/AdguardTeam/AdGuardDHCP/internal/ddns"
	"github.com/AdguardTeam/golibs/service"
)

// Interface Mocks
//
// Keep entities in this file in alphabetic order.

// Module adguard-dhcp

// Package aghos

// FSWatcher is a fake [aghos.FSWatcher] implementation for tests.
type FSWatcher struct {
	OnStart    func(ctx context.Context) (err error)
	OnShutdown func(ctx context.Context) (err error)
	OnEvents   func() (e <-chan aghos.Event)
	OnAdd      func(name string) (err error)
}

// type check
var _ aghos.FSWatcher = (*FSWatcher)(nil)

// Start implements the [aghos.FSWatcher] interface for *FSWatcher.
func (w *FSWatcher) Start(ctx context.Context) (err error) {
	return w.OnStart(ctx)
}

// Shutdown implements the [aghos.FSWatcher] interface for *FSWatcher.
func (w *FSWatcher) Shutdown(ctx context.Context) (err error) {
	return w.OnShutdown(ctx)
}

// Events implements the [aghos.FSWatcher] interface for *FSWatcher.
func (w *FSWatcher) Events() (e <-chan aghos.Event) {
	return w.OnEvents()
}

// Add implements the [aghos.FSWatcher] interface for *FSWatcher.
func (w *FSWatcher) Add(name string) (err error) {
	return w.OnAdd(name)
}

// Package agh

// ServiceWithConfig is a fake [agh.ServiceWithConfig] implementation for tests.
type ServiceWithConfig[ConfigType any] struct {
	OnStart    func(ctx context.Context) (err error)
	OnShutdown func(ctx context.Context) (err error)
	OnConfig   func() (c ConfigType)
}

// type check
var _ agh.ServiceWithConfig[struct{}] = (*ServiceWithConfig[struct{}])(nil)

// Start implements the [agh.ServiceWithConfig] interface for
// *ServiceWithConfig.
func (s *ServiceWithConfig[_]) Start(ctx context.Context) (err error) {
	return s.OnStart(ctx)
}

// Shutdown implements the [agh.ServiceWithConfig] interface for
// *ServiceWithConfig.
func (s *ServiceWithConfig[_]) Shutdown(ctx context.Context) (err error) {
	return s.OnShutdown(ctx)
}

// Config implements the [agh.ServiceWithConfig] interface for
// *ServiceWithConfig.
func (s *ServiceWithConfig[ConfigType]) Config() (c ConfigType) {
	return s.OnConfig()
}

// Package ddns

// Sender is a fake [ddns.Sender] implementation for tests.
type Sender struct {
	OnSendAdd    func(ctx context.Context, up *ddns.Update, cb *ddns.Callbacks) (err error)
	OnSendDelete func(ctx context.Context, up *ddns.Update, cb *ddns.Callbacks) (err error)
}

// type check
var _ ddns.Sender = (*Sender)(nil)

// SendAdd implements the [ddns.Sender] interface for *Sender.
func (s *Sender) SendAdd(ctx context.Context, up *ddns.Update, cb *ddns.Callbacks) (err error) {
	return s.OnSendAdd(ctx, up, cb)
}

// SendDelete implements the [ddns.Sender] interface for *Sender.
func (s *Sender) SendDelete(
	ctx context.Context,
	up *ddns.Update,
	cb *ddns.Callbacks,
) (err error) {
	return s.OnSendDelete(ctx, up, cb)
}

// Module golibs

// Package service

// RefreshableService is a fake implementation of both [service.Interface] and
// [service.Refresher] for tests.
type RefreshableService struct {
	OnStart    func(ctx context.Context) (err error)
	OnShutdown func(ctx context.Context) (err error)
	OnRefresh  func(ctx context.Context) (err error)
}

// type check
var (
	_ service.Interface = (*RefreshableService)(nil)
	_ service.Refresher = (*RefreshableService)(nil)
)

// Start implements the [service.Interface] interface for *RefreshableService.
func (s *RefreshableService) Start(ctx context.Context) (err error) {
	return s.OnStart(ctx)
}

// Shutdown implements the [service.Interface] interface for
// *RefreshableService.
func (s *RefreshableService) Shutdown(ctx context.Context) (err error) {
	return s.OnShutdown(ctx)
}

// Refresh implements the [service.Refresher] interface for
// *RefreshableService.
func (s *RefreshableService) Refresh(ctx context.Context) (err error) {
	return s.OnRefresh(ctx)
}
