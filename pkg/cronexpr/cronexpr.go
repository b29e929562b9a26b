// Package cronexpr parses, validates, and evaluates standard 5-field
// cron expressions (minute, hour, day-of-month, month, day-of-week).
// Evaluation delegates to robfig/cron; validation is done field by field
// so errors can name the offending field.
package cronexpr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Errors returned by the cron expression engine
var (
	// ErrInvalidSyntax indicates the expression does not match the
	// 5-field cron grammar
	ErrInvalidSyntax = errors.New("invalid cron syntax")

	// ErrNoMatchingRun indicates the expression never matches within the
	// search horizon (e.g. "0 0 30 2 *")
	ErrNoMatchingRun = errors.New("no matching run within search horizon")
)

// parser accepts exactly the standard 5 fields, no seconds and no
// descriptors
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// field describes one position of a cron expression
type field struct {
	name string
	min  int
	max  int
}

var fields = [5]field{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Validate checks that expr has exactly 5 whitespace-separated fields,
// each matching the grammar `* | N | N-N | N,N,... | */N` (and
// combinations) with field-specific numeric ranges. The returned error
// wraps ErrInvalidSyntax and names the offending field.
func Validate(expr string) error {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return fmt.Errorf("%w: expected 5 fields, got %d", ErrInvalidSyntax, len(parts))
	}

	for i, part := range parts {
		if err := validateField(part, fields[i]); err != nil {
			return fmt.Errorf("%w: %s field %q: %v", ErrInvalidSyntax, fields[i].name, part, err)
		}
	}

	// Final guard: the evaluator must also accept it
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
	}

	return nil
}

// validateField checks a single field against its numeric range
func validateField(part string, f field) error {
	for _, elem := range strings.Split(part, ",") {
		if elem == "" {
			return errors.New("empty list element")
		}

		// Split off an optional step suffix
		base := elem
		if idx := strings.Index(elem, "/"); idx >= 0 {
			base = elem[:idx]
			step := elem[idx+1:]
			n, err := strconv.Atoi(step)
			if err != nil {
				return fmt.Errorf("step %q is not a number", step)
			}
			if n <= 0 {
				return fmt.Errorf("step must be positive, got %d", n)
			}
		}

		if base == "*" {
			continue
		}

		// Range or single value
		lo, hi := base, base
		if idx := strings.Index(base, "-"); idx >= 0 {
			lo, hi = base[:idx], base[idx+1:]
		}

		loN, err := strconv.Atoi(lo)
		if err != nil {
			return fmt.Errorf("%q is not a number", lo)
		}
		hiN, err := strconv.Atoi(hi)
		if err != nil {
			return fmt.Errorf("%q is not a number", hi)
		}
		if loN < f.min || loN > f.max {
			return fmt.Errorf("value %d out of range %d-%d", loN, f.min, f.max)
		}
		if hiN < f.min || hiN > f.max {
			return fmt.Errorf("value %d out of range %d-%d", hiN, f.min, f.max)
		}
		if loN > hiN {
			return fmt.Errorf("range %d-%d is inverted", loN, hiN)
		}
	}
	return nil
}

// NextRun returns the earliest instant strictly after from that
// satisfies all five fields of expr, evaluated in loc. Day-of-month and
// day-of-week are OR'd together when both are restricted (standard cron
// semantics). Returns ErrNoMatchingRun if no instant matches within the
// search horizon (about 5 years).
func NextRun(expr string, from time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidSyntax, err)
	}

	// Schedule.Next is strictly-after and gives up with a zero time
	// after roughly 5 years, which bounds impossible expressions
	next := sched.Next(from.In(loc))
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNoMatchingRun, expr)
	}

	return next, nil
}

// NextRuns returns up to count upcoming instants after from, each
// strictly greater than the previous.
func NextRuns(expr string, from time.Time, loc *time.Location, count int) ([]time.Time, error) {
	runs := make([]time.Time, 0, count)

	cursor := from
	for i := 0; i < count; i++ {
		next, err := NextRun(expr, cursor, loc)
		if err != nil {
			if errors.Is(err, ErrNoMatchingRun) && len(runs) > 0 {
				break
			}
			return nil, err
		}
		runs = append(runs, next)
		cursor = next
	}

	return runs, nil
}
