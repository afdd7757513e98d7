// Package aghtest contains utilities for testing.
package aghtest

import (
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Timeout is the common timeout for tests.
const Timeout = 1 * time.Second

// Logger is the common logger for tests.  It discards all output.
var Logger = slogutil.NewDiscardLogger()
