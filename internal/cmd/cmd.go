// Package cmd is the AdGuard DHCP entry point.  It assembles the configuration
// file manager, sets up signal processing logic, and so on.
package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/aghos"
	"github.com/AdguardTeam/AdGuardDHCP/internal/configmgr"
	"github.com/AdguardTeam/AdGuardDHCP/internal/version"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
)

// Main is the entry point of AdGuard DHCP.
func Main() {
	ctx := context.Background()

	cmdName := os.Args[0]
	opts, err := parseOptions(cmdName, os.Args[1:])
	exitCode, needExit := processOptions(opts, cmdName, err)
	if needExit {
		os.Exit(exitCode)
	}

	baseLogger, err := newBaseLogger(opts)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "configuring logger: %s\n", err)

		os.Exit(osutil.ExitCodeArgumentError)
	}

	logger := baseLogger.With(slogutil.KeyPrefix, "cmd")
	defer slogutil.RecoverAndExit(ctx, logger, osutil.ExitCodeFailure)

	logger.InfoContext(ctx, "starting adguard dhcp", "version", version.Version(), "pid", os.Getpid())

	if opts.workDir != "" {
		logger.InfoContext(ctx, "changing working directory", "dir", opts.workDir)
		err = os.Chdir(opts.workDir)
		check(err)
	}

	isAdmin, err := aghos.HaveAdminRights()
	if err != nil {
		logger.WarnContext(ctx, "checking administrator rights", slogutil.KeyError, err)
	} else if !isAdmin {
		logger.WarnContext(ctx, "not running with administrator rights; binding dhcp ports may fail")
	}

	startCtx, startCancel := context.WithTimeout(ctx, defaultTimeoutStart)
	defer startCancel()

	svcMgr, err := newServiceMgr(startCtx, &serviceMgrConfig{
		confMgrConf: &configmgr.Config{
			BaseLogger: baseLogger,
			Logger:     baseLogger.With(slogutil.KeyPrefix, "configmgr"),
			FileName:   opts.confFile,
		},
		logger:      baseLogger.With(slogutil.KeyPrefix, "servicemgr"),
		pidFilePath: opts.pidFile,
	})
	check(err)

	err = svcMgr.Start(startCtx)
	check(err)

	watcher, err := aghos.NewOSWritesWatcher(baseLogger.With(slogutil.KeyPrefix, "fswatcher"))
	check(err)

	sigHdlr := newSignalHandler(&signalHandlerConfig{
		logger:   baseLogger.With(slogutil.KeyPrefix, "sighdlr"),
		svc:      svcMgr,
		watcher:  watcher,
		confFile: opts.confFile,
	})

	os.Exit(sigHdlr.handle(ctx))
}

// Timeouts of the service operations.
const (
	defaultTimeoutStart    = 1 * time.Minute
	defaultTimeoutShutdown = 10 * time.Second
)

// check is a simple error-checking helper.  It must only be used within Main.
func check(err error) {
	if err != nil {
		panic(err)
	}
}
