package cmd

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/natefinch/lumberjack.v2"
)

func TestParseOptions(t *testing.T) {
	testCases := []struct {
		want    *options
		name    string
		args    []string
		wantErr bool
	}{{
		want: &options{
			confFile:  "AdGuardDHCP.yaml",
			logFile:   "stdout",
			logFormat: "adguard_legacy",
		},
		name:    "defaults",
		args:    nil,
		wantErr: false,
	}, {
		want: &options{
			confFile:  "/etc/dhcp.yaml",
			logFile:   "stderr",
			logFormat: "json",
			pidFile:   "/run/dhcp.pid",
			verbose:   true,
		},
		name: "long_and_short",
		args: []string{
			"-c", "/etc/dhcp.yaml",
			"--logfile=stderr",
			"--log-format=json",
			"--pidfile", "/run/dhcp.pid",
			"-v",
		},
		wantErr: false,
	}, {
		want: &options{
			confFile:  "AdGuardDHCP.yaml",
			logFile:   "stdout",
			logFormat: "adguard_legacy",
			pidFile:   "dhcp.pid",
			reload:    true,
		},
		name:    "reload",
		args:    []string{"--reload", "--pidfile=dhcp.pid"},
		wantErr: false,
	}, {
		want:    nil,
		name:    "unknown_flag",
		args:    []string{"--unknown"},
		wantErr: true,
	}, {
		want:    nil,
		name:    "extra_args",
		args:    []string{"serve"},
		wantErr: true,
	}}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			opts, err := parseOptions("AdGuardDHCP", tc.args)
			if tc.wantErr {
				assert.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, opts)
		})
	}
}

func TestProcessOptions(t *testing.T) {
	t.Run("parse_error", func(t *testing.T) {
		code, needExit := processOptions(nil, "AdGuardDHCP", assert.AnError)
		assert.True(t, needExit)
		assert.Equal(t, osutil.ExitCodeArgumentError, code)
	})

	t.Run("run", func(t *testing.T) {
		_, needExit := processOptions(&options{}, "AdGuardDHCP", nil)
		assert.False(t, needExit)
	})

	t.Run("check_config_missing", func(t *testing.T) {
		opts := &options{
			confFile:    filepath.Join(t.TempDir(), "none.yaml"),
			checkConfig: true,
		}

		code, needExit := processOptions(opts, "AdGuardDHCP", nil)
		assert.True(t, needExit)
		assert.Equal(t, osutil.ExitCodeFailure, code)
	})
}

func TestSendReload(t *testing.T) {
	t.Run("no_pidfile", func(t *testing.T) {
		testutil.AssertErrorMsg(t, "--reload requires --pidfile", sendReload(""))
	})

	t.Run("missing", func(t *testing.T) {
		err := sendReload(filepath.Join(t.TempDir(), "none.pid"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("bad_pid", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "dhcp.pid")
		err := os.WriteFile(pidFile, []byte("not a pid\n"), 0o600)
		require.NoError(t, err)

		assert.Error(t, sendReload(pidFile))
	})
}

func TestParseLogFormat(t *testing.T) {
	for _, name := range []string{"adguard_legacy", "default", "json", "text"} {
		f, err := parseLogFormat(name)
		require.NoError(t, err)

		assert.Equal(t, slogutil.Format(name), f)
	}

	_, err := parseLogFormat("xml")
	testutil.AssertErrorMsg(t, `unsupported format "xml"`, err)
}

func TestLogOutput(t *testing.T) {
	assert.Equal(t, io.Writer(os.Stdout), logOutput(""))
	assert.Equal(t, io.Writer(os.Stdout), logOutput(logFileStdout))
	assert.Equal(t, io.Writer(os.Stderr), logOutput(logFileStderr))

	lj := testutil.RequireTypeAssert[*lumberjack.Logger](t, logOutput("dhcp.log"))
	assert.Equal(t, "dhcp.log", lj.Filename)
}
