package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOr parses an optional config duration such as "15s" or "2m".
// Empty or zero yields def; negative values are rejected. key names the
// setting in error messages.
func DurationOr(key, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration: %w", key, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: must not be negative", key)
	case d == 0:
		return def, nil
	}
	return d, nil
}
