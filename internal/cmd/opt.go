package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/AdguardTeam/AdGuardDHCP/internal/aghos"
	"github.com/AdguardTeam/AdGuardDHCP/internal/configmgr"
	"github.com/AdguardTeam/AdGuardDHCP/internal/version"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/osutil"
)

// options contains all command-line options for the AdGuardDHCP(.exe) binary.
type options struct {
	// confFile is the path to the configuration file.
	confFile string

	// logFile is the path to the log file.  Special values:
	//
	//   - "stdout":  Write to stdout (the default).
	//   - "stderr":  Write to stderr.
	logFile string

	// logFormat is the format of the log entries, see [slogutil.Format].
	logFormat string

	// pidFile is the path to the file where to store the PID.
	pidFile string

	// workDir is the path to the working directory.  It is applied before all
	// other configuration is read, so all relative paths are relative to it.
	workDir string

	// checkConfig, if true, instructs AdGuard DHCP to check the configuration
	// file, optionally print an error message to stdout, and exit with a
	// corresponding exit code.
	checkConfig bool

	// help, if true, instructs AdGuard DHCP to print the command-line option
	// help message and quit with a successful exit-code.
	help bool

	// reload, if true, instructs AdGuard DHCP to send the reconfiguration
	// signal to the running instance, which PID is stored in pidFile.
	reload bool

	// verbose, if true, instructs AdGuard DHCP to enable verbose logging.
	verbose bool

	// version, if true, instructs AdGuard DHCP to print the version to stdout
	// and quit with a successful exit-code.  If verbose is also true, print a
	// more detailed version description.
	version bool
}

// Indexes to help with the [commandLineOptions] initialization.
const (
	confFileIdx = iota
	logFileIdx
	logFormatIdx
	pidFileIdx
	workDirIdx
	checkConfigIdx
	helpIdx
	reloadIdx
	verboseIdx
	versionIdx
)

// commandLineOption contains information about a command-line option: its long
// and, if there is one, short forms, the value type, the description, and the
// default value.
type commandLineOption struct {
	defaultValue any
	description  string
	long         string
	short        string
	valueType    string
}

// commandLineOptions are all command-line options currently supported by
// AdGuard DHCP.
var commandLineOptions = []*commandLineOption{
	confFileIdx: {
		defaultValue: "AdGuardDHCP.yaml",
		description:  "Path to the config file.",
		long:         "config",
		short:        "c",
		valueType:    "path",
	},

	logFileIdx: {
		defaultValue: "stdout",
		description:  `Path to log file.  Special values include "stdout" and "stderr".`,
		long:         "logfile",
		short:        "l",
		valueType:    "path",
	},

	logFormatIdx: {
		defaultValue: "adguard_legacy",
		description:  `Format of the log entries: "adguard_legacy", "default", "json", or "text".`,
		long:         "log-format",
		short:        "",
		valueType:    "format",
	},

	pidFileIdx: {
		defaultValue: "",
		description:  "Path to the file where to store the PID.",
		long:         "pidfile",
		short:        "",
		valueType:    "path",
	},

	workDirIdx: {
		defaultValue: "",
		description: `Path to the working directory.  ` +
			`It is applied before all other configuration is read, ` +
			`so all relative paths are relative to it.`,
		long:      "work-dir",
		short:     "w",
		valueType: "path",
	},

	checkConfigIdx: {
		defaultValue: false,
		description:  "Check configuration, print errors to stdout, and quit.",
		long:         "check-config",
		short:        "",
		valueType:    "",
	},

	helpIdx: {
		defaultValue: false,
		description:  "Print this help message and quit.",
		long:         "help",
		short:        "h",
		valueType:    "",
	},

	reloadIdx: {
		defaultValue: false,
		description:  "Make the instance with the PID from --pidfile reload the configuration and quit.",
		long:         "reload",
		short:        "",
		valueType:    "",
	},

	verboseIdx: {
		defaultValue: false,
		description:  "Enable verbose logging.",
		long:         "verbose",
		short:        "v",
		valueType:    "",
	},

	versionIdx: {
		defaultValue: false,
		description: `Print the version to stdout and quit.  ` +
			`Print a more detailed version description with -v.`,
		long:      "version",
		short:     "",
		valueType: "",
	},
}

// parseOptions parses the command-line options for AdGuardDHCP.
func parseOptions(cmdName string, args []string) (opts *options, err error) {
	flags := flag.NewFlagSet(cmdName, flag.ContinueOnError)

	opts = &options{}
	for i, fieldPtr := range []any{
		confFileIdx:    &opts.confFile,
		logFileIdx:     &opts.logFile,
		logFormatIdx:   &opts.logFormat,
		pidFileIdx:     &opts.pidFile,
		workDirIdx:     &opts.workDir,
		checkConfigIdx: &opts.checkConfig,
		helpIdx:        &opts.help,
		reloadIdx:      &opts.reload,
		verboseIdx:     &opts.verbose,
		versionIdx:     &opts.version,
	} {
		addOption(flags, fieldPtr, commandLineOptions[i])
	}

	flags.Usage = func() { usage(cmdName, os.Stderr) }

	err = flags.Parse(args)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	if flags.NArg() > 0 {
		usage(cmdName, os.Stderr)

		return nil, fmt.Errorf("unexpected arguments: %q", flags.Args())
	}

	return opts, nil
}

// addOption adds the command-line option described by o to flags using fieldPtr
// as the pointer to the value.
func addOption(flags *flag.FlagSet, fieldPtr any, o *commandLineOption) {
	switch fieldPtr := fieldPtr.(type) {
	case *string:
		flags.StringVar(fieldPtr, o.long, o.defaultValue.(string), o.description)
		if o.short != "" {
			flags.StringVar(fieldPtr, o.short, o.defaultValue.(string), o.description)
		}
	case *bool:
		flags.BoolVar(fieldPtr, o.long, o.defaultValue.(bool), o.description)
		if o.short != "" {
			flags.BoolVar(fieldPtr, o.short, o.defaultValue.(bool), o.description)
		}
	default:
		panic(fmt.Errorf("unexpected field pointer type %T", fieldPtr))
	}
}

// usage prints a usage message similar to the one printed by package flag but
// taking long vs. short versions into account as well as using more informative
// value hints.
func usage(cmdName string, output io.Writer) {
	options := slices.Clone(commandLineOptions)
	slices.SortStableFunc(options, func(a, b *commandLineOption) (res int) {
		return strings.Compare(a.long, b.long)
	})

	b := &strings.Builder{}
	_, _ = fmt.Fprintf(b, "Usage of %s:\n", cmdName)

	for _, o := range options {
		writeUsageLine(b, o)

		// Use four spaces before the tab to trigger good alignment for both 4-
		// and 8-space tab stops.
		if shouldIncludeDefault(o.defaultValue) {
			_, _ = fmt.Fprintf(b, "    \t%s  (Default value: %q)\n", o.description, o.defaultValue)
		} else {
			_, _ = fmt.Fprintf(b, "    \t%s\n", o.description)
		}
	}

	_, _ = io.WriteString(output, b.String())
}

// shouldIncludeDefault returns true if this default value should be printed.
func shouldIncludeDefault(v any) (ok bool) {
	switch v := v.(type) {
	case bool:
		return v
	case string:
		return v != ""
	default:
		return v == nil
	}
}

// writeUsageLine writes the usage line for the provided command-line option.
func writeUsageLine(b *strings.Builder, o *commandLineOption) {
	if o.short == "" {
		if o.valueType == "" {
			_, _ = fmt.Fprintf(b, "  --%s\n", o.long)
		} else {
			_, _ = fmt.Fprintf(b, "  --%s=%s\n", o.long, o.valueType)
		}

		return
	}

	if o.valueType == "" {
		_, _ = fmt.Fprintf(b, "  --%s/-%s\n", o.long, o.short)
	} else {
		_, _ = fmt.Fprintf(b, "  --%[1]s=%[3]s/-%[2]s %[3]s\n", o.long, o.short, o.valueType)
	}
}

// processOptions decides if AdGuard DHCP should exit depending on the results
// of command-line option parsing.
func processOptions(
	opts *options,
	cmdName string,
	parseErr error,
) (exitCode int, needExit bool) {
	if parseErr != nil {
		// Assume that usage has already been printed.
		return osutil.ExitCodeArgumentError, true
	}

	switch {
	case opts.help:
		usage(cmdName, os.Stdout)

		return osutil.ExitCodeSuccess, true
	case opts.version:
		return printVersion(opts.verbose), true
	case opts.checkConfig:
		err := configmgr.Validate(opts.confFile)
		if err != nil {
			_, _ = io.WriteString(os.Stdout, err.Error()+"\n")

			return osutil.ExitCodeFailure, true
		}

		return osutil.ExitCodeSuccess, true
	case opts.reload:
		err := sendReload(opts.pidFile)
		if err != nil {
			_, _ = io.WriteString(os.Stderr, err.Error()+"\n")

			return osutil.ExitCodeFailure, true
		}

		return osutil.ExitCodeSuccess, true
	default:
		return 0, false
	}
}

// printVersion prints the version to stdout and returns the exit code.
func printVersion(verbose bool) (exitCode int) {
	if !verbose {
		_, _ = fmt.Printf("AdGuard DHCP %s\n", version.Version())

		return osutil.ExitCodeSuccess
	}

	err := version.WriteVerbose(os.Stdout, configmgr.SchemaVersion)
	if err != nil {
		return osutil.ExitCodeFailure
	}

	return osutil.ExitCodeSuccess
}

// sendReload sends the reconfiguration signal to the process which PID is
// stored in the file pidFile.
func sendReload(pidFile string) (err error) {
	if pidFile == "" {
		return errors.Error("--reload requires --pidfile")
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		return fmt.Errorf("reading pidfile: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("parsing pidfile: %w", err)
	}

	err = aghos.SendReconfigureSignal(pid)
	if err != nil {
		return fmt.Errorf("sending reload signal to pid %d: %w", pid, err)
	}

	return nil
}
