package configmgr

import (
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/timeutil"
	"golang.org/x/exp/constraints"
)

// errNoConf is returned when a required configuration section is missing.
const errNoConf errors.Error = "configuration not found"

// numberOrDuration is the constraint for integer types along with
// timeutil.Duration.
type numberOrDuration interface {
	constraints.Integer | timeutil.Duration
}

// newErrNotPositive returns an error about the value that must be positive but
// isn't.  prop is the name of the property to mention in the error message.
func newErrNotPositive[T numberOrDuration](prop string, v T) (err error) {
	return fmt.Errorf("%s: %w, got %v", prop, errors.ErrNotPositive, v)
}

// newErrBadEnum returns an error about the value that isn't one of the
// allowed ones.
func newErrBadEnum(prop, v string) (err error) {
	return fmt.Errorf("%s: %w: %q", prop, errors.ErrBadEnumValue, v)
}
