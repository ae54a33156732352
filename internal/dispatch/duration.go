package dispatch

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var durationRE = regexp.MustCompile(`(\d+)\s*(second|seconds|sec|minute|minutes|min|hour|hours|hr)`)

// ParseDuration extracts the first "<number> <unit>" phrase from s. Units may
// be singular, plural or abbreviated (sec, min, hr). It returns 0 when s holds
// no such phrase.
func ParseDuration(s string) time.Duration {
	m := durationRE.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}

	var unit time.Duration
	switch m[2] {
	case "second", "seconds", "sec":
		unit = time.Second
	case "minute", "minutes", "min":
		unit = time.Minute
	case "hour", "hours", "hr":
		unit = time.Hour
	default:
		return 0
	}
	if n > int64(maxDuration/unit) {
		return 0
	}
	return time.Duration(n) * unit
}

const maxDuration = time.Duration(1<<63 - 1)
