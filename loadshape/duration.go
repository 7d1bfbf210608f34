// Package loadshape parses the time and step-list flags that shape an
// attack: --run-time duration strings (C1, wrapping fortio.org/duration
// for day/week-aware parsing) and --test-plan step lists (C7), plus the
// Engine that walks a TestPlan and emits target user counts over time.
package loadshape // import "github.com/fortio-goat/goatling/loadshape"

import (
	"fmt"
	"time"

	"fortio.org/duration"
)

// ParseDuration parses a duration string using fortio.org/duration's
// extended grammar (accepts plain time.Duration syntax plus day/week
// suffixes, e.g. "1d", "2w3d"), falling back to time.ParseDuration for
// strings duration.Duration rejects so bare Go-style durations like "1h30m"
// always work too.
func ParseDuration(s string) (time.Duration, error) {
	var d duration.Duration
	if err := d.Set(s); err == nil {
		return d.Duration, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return v, nil
}

// FormatDuration renders d using fortio.org/duration's compact form.
func FormatDuration(d time.Duration) string {
	fd := duration.Duration{Duration: d}
	return fd.String()
}
