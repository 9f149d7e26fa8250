// Package timeparse normalizes the mixed timestamp formats found in
// operational delivery data into canonical UTC instants.
package timeparse

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMalformedTimestamp reports a raw value that no accepted format parses.
var ErrMalformedTimestamp = errors.New("malformed timestamp")

// DefaultFormats is the ordered layout list applied when a run supplies
// none. Slash-separated dates are day-first; month-first input is never
// guessed at.
var DefaultFormats = []string{
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer converts raw timestamp strings to UTC instants by trying an
// ordered list of Go layouts. The first layout that parses wins, so callers
// control precedence by ordering the list.
type Normalizer struct {
	formats []string
}

// New returns a Normalizer over the given ordered layouts, or over
// DefaultFormats when none are given.
func New(formats ...string) *Normalizer {
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	return &Normalizer{formats: append([]string(nil), formats...)}
}

// Formats returns the accepted layouts in precedence order.
func (n *Normalizer) Formats() []string {
	return append([]string(nil), n.formats...)
}

// Normalize parses raw with the first matching accepted layout and returns
// the instant in UTC. Layouts without zone information are read as UTC,
// never as local time.
func (n *Normalizer) Normalize(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrMalformedTimestamp)
	}
	for _, layout := range n.formats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q matched none of %d accepted formats", ErrMalformedTimestamp, s, len(n.formats))
}

// Canonical renders t in the canonical interchange form, RFC 3339 UTC.
// Normalizing a canonical string yields the original instant.
func Canonical(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
