// Package recurrence is a small, pure helper around RRULE strings. The sync
// core never expands recurrences; it only needs to know whether a recurring
// event still has occurrences inside the retention window before pruning it.
package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// HasOccurrenceWithin reports whether the rule, anchored at dtstart, yields
// at least one occurrence inside [from, to] (inclusive). An empty rule means
// a non-recurring event and yields false.
func HasOccurrenceWithin(rule string, dtstart, from, to time.Time) (bool, error) {
	if rule == "" {
		return false, nil
	}
	r, err := parse(rule, dtstart)
	if err != nil {
		return false, err
	}
	return len(r.Between(from, to, true)) > 0, nil
}

// NextOccurrence returns the first occurrence at or after t, or the zero time
// when the rule is exhausted.
func NextOccurrence(rule string, dtstart, t time.Time) (time.Time, error) {
	if rule == "" {
		return time.Time{}, nil
	}
	r, err := parse(rule, dtstart)
	if err != nil {
		return time.Time{}, err
	}
	return r.After(t, true), nil
}

func parse(rule string, dtstart time.Time) (*rrule.RRule, error) {
	rule = strings.TrimPrefix(rule, "RRULE:")
	opts, err := rrule.StrToROption(rule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recurrence rule %q: %w", rule, err)
	}
	opts.Dtstart = dtstart.UTC()
	r, err := rrule.NewRRule(*opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build recurrence rule %q: %w", rule, err)
	}
	return r, nil
}
