package domain

import "fmt"

// UpdateQueueParams is a field-mask-validated patch for updateQueue:
// only fields named in UpdateMask are applied, and only non-nil
// pointers may be named.
type UpdateQueueParams struct {
	Name       string
	UpdateMask []string

	Policy           *Policy
	RetryLimit       *int
	RetryDelay       *int
	RetryBackoff     *bool
	ExpireSeconds    *int
	RetentionMinutes *int
	DeadLetter       *string
}

// Valid fields for UpdateQueueParams.
var updateQueueValidFields = map[string]struct{}{
	"policy":            {},
	"retry_limit":       {},
	"retry_delay":       {},
	"retry_backoff":     {},
	"expire_seconds":    {},
	"retention_minutes": {},
	"dead_letter":       {},
}

// Validate checks that UpdateMask contains only known fields and that
// fields named in the mask carry a non-nil value.
func (p UpdateQueueParams) Validate() error {
	if len(p.UpdateMask) == 0 {
		return ErrEmptyUpdateMask
	}

	maskSet := make(map[string]bool, len(p.UpdateMask))

	for _, field := range p.UpdateMask {
		if _, ok := updateQueueValidFields[field]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownField, field)
		}
		maskSet[field] = true
	}

	if maskSet["policy"] && p.Policy == nil {
		return fmt.Errorf("%w: policy", ErrUnknownField)
	}
	if maskSet["retry_limit"] && p.RetryLimit == nil {
		return fmt.Errorf("%w: retry_limit", ErrUnknownField)
	}
	if maskSet["retry_delay"] && p.RetryDelay == nil {
		return fmt.Errorf("%w: retry_delay", ErrUnknownField)
	}
	if maskSet["expire_seconds"] && p.ExpireSeconds == nil {
		return fmt.Errorf("%w: expire_seconds", ErrUnknownField)
	}
	if maskSet["retention_minutes"] && p.RetentionMinutes == nil {
		return fmt.Errorf("%w: retention_minutes", ErrUnknownField)
	}
	// dead_letter and retry_backoff are nullable/boolean fields whose
	// zero value is meaningful, so no required-non-nil check applies.

	return nil
}
