// Package version contains AdGuard DHCP version information.
package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/AdguardTeam/golibs/stringutil"
)

// Channel constants.
const (
	ChannelDevelopment = "development"
	ChannelRelease     = "release"
)

// These are set by the linker.  Only export them through getters, since they
// must not be changed at runtime.
var (
	channel    string = ChannelDevelopment
	version    string = "v0.0.0"
	committime string
)

// Channel returns the current AdGuard DHCP release channel.
func Channel() (v string) {
	return channel
}

// Version returns the AdGuard DHCP build version.
func Version() (v string) {
	return version
}

// Full returns the full current version of AdGuard DHCP.
func Full() (v string) {
	return "AdGuard DHCP, version " + version
}

// fmtModule returns formatted information about module.  The result looks like:
//
//	github.com/Username/module@v1.2.3 (sum: someHASHSUM=)
func fmtModule(m *debug.Module) (formatted string) {
	if m == nil {
		return ""
	}

	if repl := m.Replace; repl != nil {
		return fmtModule(repl)
	}

	b := &strings.Builder{}

	stringutil.WriteToBuilder(b, m.Path)
	if ver := m.Version; ver != "" {
		sep := "@"
		if ver == "(devel)" {
			sep = " "
		}

		stringutil.WriteToBuilder(b, sep, ver)
	}

	if sum := m.Sum; sum != "" {
		stringutil.WriteToBuilder(b, " (sum: ", sum, ")")
	}

	return b.String()
}

// WriteVerbose writes the build information to w.  Output example:
//
//	AdGuard DHCP
//	Version: v0.1.0
//	Schema version: 1
//	Channel: development
//	Go version: go1.24.5
//	Commit time: 2025-07-01 12:00:00 +0000 UTC
//	GOOS: linux
//	GOARCH: amd64
//	Race: false
//	Dependencies:
//		...
func WriteVerbose(w io.Writer, schemaVersion int) (err error) {
	b := &strings.Builder{}

	const nl = "\n"
	stringutil.WriteToBuilder(b, "AdGuard DHCP", nl)
	stringutil.WriteToBuilder(b, "Version: ", version, nl)
	stringutil.WriteToBuilder(b, "Schema version: ", strconv.Itoa(schemaVersion), nl)
	stringutil.WriteToBuilder(b, "Channel: ", channel, nl)
	stringutil.WriteToBuilder(b, "Go version: ", runtime.Version(), nl)

	writeCommitTime(b)

	stringutil.WriteToBuilder(b, "GOOS: ", runtime.GOOS, nl)
	stringutil.WriteToBuilder(b, "GOARCH: ", runtime.GOARCH, nl)

	info, ok := debug.ReadBuildInfo()
	if ok {
		writeBuildInfo(b, info)
	}

	_, err = io.WriteString(w, b.String())

	return err
}

// writeBuildInfo writes the race detector flag and the dependencies from
// info.
func writeBuildInfo(b *strings.Builder, info *debug.BuildInfo) {
	race := false
	for _, s := range info.Settings {
		if s.Key == "-race" {
			race, _ = strconv.ParseBool(s.Value)
		}
	}

	stringutil.WriteToBuilder(b, "Race: ", strconv.FormatBool(race), "\n")

	if len(info.Deps) == 0 {
		return
	}

	stringutil.WriteToBuilder(b, "Dependencies:\n")
	for _, dep := range info.Deps {
		if depStr := fmtModule(dep); depStr != "" {
			stringutil.WriteToBuilder(b, "\t", depStr, "\n")
		}
	}
}

// writeCommitTime writes the commit time set by the linker, if any.
func writeCommitTime(b *strings.Builder) {
	if committime == "" {
		return
	}

	sec, err := strconv.ParseInt(committime, 10, 64)
	if err != nil {
		stringutil.WriteToBuilder(b, "Commit time: ", fmt.Sprintf("parse error: %s", err), "\n")
	} else {
		stringutil.WriteToBuilder(b, "Commit time: ", time.Unix(sec, 0).UTC().String(), "\n")
	}
}
