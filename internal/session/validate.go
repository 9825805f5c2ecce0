package session

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidName is returned for profile names and app ids that cannot be
// used as a directory or file name.
var ErrInvalidName = errors.New("invalid name")

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks a profile name or app id. Both end up in paths under
// the profile directory.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("%w %q: use 1-64 of a-z, 0-9, '-' and '_'", ErrInvalidName, name)
	}
	return nil
}
