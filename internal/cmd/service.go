package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"github.com/AdguardTeam/AdGuardDHCP/internal/aghos"
	"github.com/AdguardTeam/AdGuardDHCP/internal/configmgr"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/google/renameio/v2/maybe"
)

// serviceMgr manages AdGuard DHCP services.
type serviceMgr struct {
	// confMgrMu protects confMgr.
	confMgrMu *sync.RWMutex

	confMgr     *configmgr.Manager
	confMgrConf *configmgr.Config
	logger      *slog.Logger
	pidFilePath string
}

// serviceMgrConfig contains service manager configuration parameters.
type serviceMgrConfig struct {
	// confMgrConf is the configuration manager config, it must not be nil.
	confMgrConf *configmgr.Config

	// logger is the logger used to log services activity, it must not be nil.
	logger *slog.Logger

	// pidFilePath is the path to the file where to store the PID, if any.
	pidFilePath string
}

// newServiceMgr creates a new *serviceMgr.
func newServiceMgr(ctx context.Context, conf *serviceMgrConfig) (s *serviceMgr, err error) {
	confMgr, err := configmgr.New(ctx, conf.confMgrConf)
	if err != nil {
		return nil, fmt.Errorf("creating config manager: %w", err)
	}

	return &serviceMgr{
		confMgr:     confMgr,
		confMgrMu:   &sync.RWMutex{},
		confMgrConf: conf.confMgrConf,
		logger:      conf.logger,
		pidFilePath: conf.pidFilePath,
	}, nil
}

// type check
var _ service.Interface = (*serviceMgr)(nil)

// Start implements the [service.Interface] interface for *serviceMgr.
func (s *serviceMgr) Start(ctx context.Context) (err error) {
	s.writePID(ctx)

	s.confMgrMu.RLock()
	defer s.confMgrMu.RUnlock()

	err = s.confMgr.Metrics().Start(ctx)
	if err != nil {
		return fmt.Errorf("starting metrics: %w", err)
	}

	err = s.confMgr.DHCP().Start(ctx)
	if err != nil {
		return fmt.Errorf("starting dhcpsvc: %w", err)
	}

	return nil
}

// writePID writes the PID to the file.  Any errors are reported to log.
func (s *serviceMgr) writePID(ctx context.Context) {
	if s.pidFilePath == "" {
		return
	}

	pid := os.Getpid()
	data := strconv.AppendInt(nil, int64(pid), 10)
	data = append(data, '\n')

	err := maybe.WriteFile(s.pidFilePath, data, aghos.DefaultPermFile)
	if err != nil {
		s.logger.ErrorContext(ctx, "writing pidfile", slogutil.KeyError, err)

		return
	}

	s.logger.DebugContext(ctx, "wrote pid", "file", s.pidFilePath, "pid", pid)
}

// Shutdown implements the [service.Interface] interface for *serviceMgr.  It
// also closes the lease store, so the manager must be refreshed before being
// started again.
func (s *serviceMgr) Shutdown(ctx context.Context) (err error) {
	err = s.shutdownServices(ctx)
	s.removePID(ctx)

	return err
}

// shutdownServices shuts the services down and releases the resources of the
// current configuration.
func (s *serviceMgr) shutdownServices(ctx context.Context) (err error) {
	s.confMgrMu.RLock()
	defer s.confMgrMu.RUnlock()

	var errs []error

	err = s.confMgr.DHCP().Shutdown(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("shutting down dhcpsvc: %w", err))
	}

	err = s.confMgr.Metrics().Shutdown(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("shutting down metrics: %w", err))
	}

	err = s.confMgr.Close(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("closing config manager: %w", err))
	}

	return errors.Join(errs...)
}

// removePID removes the PID file.  Any errors are reported to log.
func (s *serviceMgr) removePID(ctx context.Context) {
	if s.pidFilePath == "" {
		return
	}

	err := os.Remove(s.pidFilePath)
	if err != nil {
		s.logger.ErrorContext(ctx, "removing pidfile", slogutil.KeyError, err)

		return
	}

	s.logger.DebugContext(ctx, "removed pidfile", "file", s.pidFilePath)
}

// type check
var _ service.Refresher = (*serviceMgr)(nil)

// Refresh implements the [service.Refresher] interface for *serviceMgr.  It
// rereads the configuration file and restarts the services.  If the new
// configuration is invalid, the services keep running with the current one.
func (s *serviceMgr) Refresh(ctx context.Context) (err error) {
	s.logger.InfoContext(ctx, "reconfiguring started")

	err = configmgr.Validate(s.confMgrConf.FileName)
	if err != nil {
		return fmt.Errorf("new configuration is not applied: %w", err)
	}

	err = s.shutdownServices(ctx)
	if err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeoutStart)
	defer cancel()

	err = s.updConfMgr(ctx)
	if err != nil {
		return fmt.Errorf("updating configuration manager: %w", err)
	}

	err = s.Start(ctx)
	if err != nil {
		return fmt.Errorf("restarting services: %w", err)
	}

	s.logger.InfoContext(ctx, "reconfiguring finished")

	return nil
}

// updConfMgr updates the configuration manager.
func (s *serviceMgr) updConfMgr(ctx context.Context) (err error) {
	confMgr, err := configmgr.New(ctx, s.confMgrConf)
	if err != nil {
		return fmt.Errorf("creating config manager: %w", err)
	}

	s.confMgrMu.Lock()
	defer s.confMgrMu.Unlock()

	s.confMgr = confMgr

	return nil
}
