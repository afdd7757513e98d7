package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Special values of the log file option.
const (
	logFileStdout = "stdout"
	logFileStderr = "stderr"
)

// Rotation parameters of the log file.
const (
	logMaxSizeMB  = 100
	logMaxBackups = 3
	logMaxAgeDays = 30
)

// newBaseLogger returns the logger configured by the command-line options.
func newBaseLogger(opts *options) (l *slog.Logger, err error) {
	format, err := parseLogFormat(opts.logFormat)
	if err != nil {
		return nil, fmt.Errorf("log format: %w", err)
	}

	lvl := slog.LevelInfo
	if opts.verbose {
		lvl = slog.LevelDebug
	}

	return slogutil.New(&slogutil.Config{
		Output:       logOutput(opts.logFile),
		Format:       format,
		Level:        lvl,
		AddTimestamp: true,
	}), nil
}

// parseLogFormat returns the log format by its name.
func parseLogFormat(name string) (f slogutil.Format, err error) {
	switch f = slogutil.Format(name); f {
	case
		slogutil.FormatAdGuardLegacy,
		slogutil.FormatDefault,
		slogutil.FormatJSON,
		slogutil.FormatText:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format %q", name)
	}
}

// logOutput returns the writer for the log file option.  Files are rotated
// when they grow too large.
func logOutput(logFile string) (w io.Writer) {
	switch logFile {
	case "", logFileStdout:
		return os.Stdout
	case logFileStderr:
		return os.Stderr
	default:
		return &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
			LocalTime:  true,
		}
	}
}
