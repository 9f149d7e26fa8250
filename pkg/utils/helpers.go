package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses d, falling back to def when d is empty or invalid.
func ParseDuration(d string, def time.Duration) time.Duration {
	if d == "" {
		return def
	}
	parsed, err := time.ParseDuration(d)
	if err != nil {
		return def
	}
	return parsed
}

// ParseBuckets parses a comma-separated list of float boundaries,
// like "0.5,1,2". An empty string yields nil.
func ParseBuckets(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bucket boundary %q: %w", p, err)
		}
		out = append(out, f)
	}
	return out, nil
}

// SplitList splits a comma-separated list, dropping empty elements.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
