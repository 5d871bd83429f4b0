package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationField parses a Go duration string from a config field. Empty
// means unset and yields zero; negative values are rejected. path names
// the field in errors ("session.send_timeout").
func DurationField(path, raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(trimmed)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// DurationOrDefault is DurationField with a fallback for unset fields.
func DurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := DurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
