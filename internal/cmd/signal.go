package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/AdguardTeam/AdGuardDHCP/internal/aghos"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/service"
)

// refreshableService is a service that can reload its configuration.
type refreshableService interface {
	service.Interface
	service.Refresher
}

// signalHandlerConfig contains the configuration of a signal handler.
type signalHandlerConfig struct {
	// logger is used for logging the operation of the handler.  It must not
	// be nil.
	logger *slog.Logger

	// svc is reconfigured on SIGHUP and changes of confFile, and shut down
	// on the shutdown signals.  It must not be nil.
	svc refreshableService

	// watcher tracks the changes of the configuration file.  It must not be
	// nil.
	watcher aghos.FSWatcher

	// confFile is the path to the configuration file.
	confFile string
}

// signalHandler processes incoming signals and the changes of the
// configuration file.
type signalHandler struct {
	logger   *slog.Logger
	svc      refreshableService
	watcher  aghos.FSWatcher
	signals  chan os.Signal
	confFile string
}

// newSignalHandler returns a new signalHandler subscribed to the shutdown and
// reconfiguration signals.  c must not be nil.
func newSignalHandler(c *signalHandlerConfig) (h *signalHandler) {
	h = &signalHandler{
		logger:   c.logger,
		svc:      c.svc,
		watcher:  c.watcher,
		signals:  make(chan os.Signal, 1),
		confFile: c.confFile,
	}

	aghos.NotifyShutdownSignal(h.signals)
	aghos.NotifyReconfigureSignal(h.signals)

	return h
}

// handle processes OS signals and configuration file changes until a shutdown
// signal is received.  It returns the exit status.
func (h *signalHandler) handle(ctx context.Context) (status int) {
	defer slogutil.RecoverAndLog(ctx, h.logger)

	events := h.watchConf(ctx)
	for {
		select {
		case sig := <-h.signals:
			h.logger.InfoContext(ctx, "received signal", "signal", sig)

			switch {
			case aghos.IsReconfigureSignal(sig):
				h.reconfigure(ctx)
			case aghos.IsShutdownSignal(sig):
				return h.shutdown(ctx)
			default:
				// Go on.
			}
		case _, ok := <-events:
			if !ok {
				events = nil

				continue
			}

			h.logger.InfoContext(ctx, "configuration file changed", "file", h.confFile)
			h.reconfigure(ctx)
		}
	}
}

// watchConf starts watching the configuration file and returns the channel of
// its changes.  The channel is nil if the file can't be watched.
func (h *signalHandler) watchConf(ctx context.Context) (events <-chan aghos.Event) {
	err := h.watcher.Start(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "starting file watcher", slogutil.KeyError, err)

		return nil
	}

	err = h.watcher.Add(h.confFile)
	if err != nil {
		h.logger.WarnContext(ctx, "watching configuration file", slogutil.KeyError, err)

		return nil
	}

	return h.watcher.Events()
}

// reconfigure rereads the configuration file and restarts the services.
// Errors are reported to log.
func (h *signalHandler) reconfigure(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeoutStart)
	defer cancel()

	err := h.svc.Refresh(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "reconfiguring", slogutil.KeyError, err)
	}
}

// shutdown gracefully shuts down the services and the file watcher.
func (h *signalHandler) shutdown(ctx context.Context) (status int) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeoutShutdown)
	defer cancel()

	status = osutil.ExitCodeSuccess

	h.logger.InfoContext(ctx, "shutting down services")

	err := h.svc.Shutdown(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "shutting down services", slogutil.KeyError, err)
		status = osutil.ExitCodeFailure
	}

	err = h.watcher.Shutdown(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "shutting down file watcher", slogutil.KeyError, err)
		status = osutil.ExitCodeFailure
	}

	h.logger.InfoContext(ctx, "exiting", "status", status)

	return status
}
