package config

import (
	"fmt"
	"strings"
	"time"
)

// parseDuration validates one duration-typed field. Empty means "unset";
// negative values are rejected so knobs can treat zero as "disabled".
func parseDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// DurationField reads a duration field from a config that Validate has
// already accepted, substituting def when the field is unset. Pass def 0 for
// fields where "unset" itself is meaningful (e.g. a disabled TTL).
func DurationField(raw string, def time.Duration) time.Duration {
	d, err := parseDuration("", raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
