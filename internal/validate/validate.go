// Package validate implements the admission validator: it normalizes
// producer/consumer input (queue names, priorities, durations,
// singleton keys, policies, cron expressions) into the canonical form
// the rest of relayq assumes, rejecting non-conforming input before
// it ever touches storage. Cron validity is checked with the same
// github.com/robfig/cron/v3 parser the timekeeper uses later, so a
// schedule can never be persisted with an expression the timekeeper
// cannot parse.
package validate

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relayq/relayq/internal/domain"
)

const (
	maxExpireSeconds = 24 * 60 * 60
	maxInt16         = 1<<15 - 1
	minInt16         = -(1 << 15)
)

// cronParser backs both eager validation here and the timekeeper's
// firing computation (it calls Cron below), so the two paths can never
// disagree about what counts as a valid expression.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// QueueName validates a queue (or dead-letter) name: non-empty, at
// most 255 characters, [A-Za-z0-9_.\-]+.
func QueueName(name string) (string, error) {
	qn, err := domain.NewQueueName(name)
	if err != nil {
		return "", err
	}
	return qn.String(), nil
}

// OptionalQueueName validates name when non-empty, and passes nil
// through unchanged. Used for the dead-letter field, which recursively
// satisfies the queue-name rules only when set.
func OptionalQueueName(name *string) (*string, error) {
	if name == nil || *name == "" {
		return nil, nil
	}
	qn, err := QueueName(*name)
	if err != nil {
		return nil, err
	}
	return &qn, nil
}

// Priority validates that p fits in a signed 16-bit integer.
// Accepting an int lets callers pass an untyped literal while
// still enforcing the storage column's width.
func Priority(p int) (int16, error) {
	if p < minInt16 || p > maxInt16 {
		return 0, fmt.Errorf("invalid priority: %d out of int16 range", p)
	}
	return int16(p), nil
}

// Policy validates a queue policy string against the enumerated set:
// standard, short, singleton, stately.
func Policy(s string) (domain.Policy, error) {
	return domain.NewPolicy(s)
}

// NonNegativeSeconds validates a duration given in seconds is >= 0 and
// (when max > 0) does not exceed max. Used for retryDelay.
func NonNegativeSeconds(name string, seconds, max int) (int, error) {
	if seconds < 0 {
		return 0, fmt.Errorf("%w: %s must be non-negative, got %d", domain.ErrInvalidDuration, name, seconds)
	}
	if max > 0 && seconds > max {
		return 0, fmt.Errorf("%w: %s must not exceed %d seconds, got %d", domain.ErrInvalidDuration, name, max, seconds)
	}
	return seconds, nil
}

// ExpireSeconds validates expireInSeconds: positive, and at most 24
// hours.
func ExpireSeconds(seconds int) (int, error) {
	if seconds <= 0 {
		return 0, fmt.Errorf("%w: expireInSeconds must be positive, got %d", domain.ErrInvalidDuration, seconds)
	}
	if seconds > maxExpireSeconds {
		return 0, fmt.Errorf("%w: expireInSeconds must not exceed 24h, got %ds", domain.ErrInvalidDuration, seconds)
	}
	return seconds, nil
}

// RetentionMinutes validates retentionMinutes: positive.
func RetentionMinutes(minutes int) (int, error) {
	if minutes <= 0 {
		return 0, fmt.Errorf("%w: retentionMinutes must be positive, got %d", domain.ErrInvalidDuration, minutes)
	}
	return minutes, nil
}

// RetryLimit validates a retry limit is non-negative.
func RetryLimit(limit int) (int, error) {
	if limit < 0 {
		return 0, fmt.Errorf("%w: retryLimit must be non-negative, got %d", domain.ErrInvalidDuration, limit)
	}
	return limit, nil
}

// SingletonKey validates a singleton/debounce/throttle key is at most
// 255 characters. An empty key is valid; the manager derives a
// default when none is supplied.
func SingletonKey(key string) (string, error) {
	k, err := domain.NewSingletonKey(key)
	if err != nil {
		return "", err
	}
	return k.String(), nil
}

// SingletonSeconds validates the debounce/throttle bucket width is
// strictly positive.
func SingletonSeconds(seconds int) (int, error) {
	if seconds <= 0 {
		return 0, fmt.Errorf("%w: singletonSeconds must be positive, got %d", domain.ErrInvalidDuration, seconds)
	}
	return seconds, nil
}

// Cron parses expr in the IANA timezone tz, returning the parsed
// schedule on success. Both the admission validator and the
// timekeeper share this exact parser construction, so a schedule can
// never be persisted with an expression the timekeeper cannot later
// parse.
func Cron(expr, tz string) (cron.Schedule, *time.Location, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, loc, nil
}

// Timezone validates tz is a loadable IANA name, defaulting to UTC
// when empty.
func Timezone(tz string) (string, error) {
	if tz == "" {
		return "UTC", nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return "", fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return tz, nil
}
