package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relayq/relayq/internal/ptr"
)

func TestUpdateQueueParamsValidate(t *testing.T) {
	t.Run("empty mask rejected", func(t *testing.T) {
		p := UpdateQueueParams{Name: "q"}
		assert.ErrorIs(t, p.Validate(), ErrEmptyUpdateMask)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		p := UpdateQueueParams{Name: "q", UpdateMask: []string{"bogus"}}
		assert.ErrorIs(t, p.Validate(), ErrUnknownField)
	})

	t.Run("required pointer missing", func(t *testing.T) {
		p := UpdateQueueParams{Name: "q", UpdateMask: []string{"retry_limit"}}
		assert.ErrorIs(t, p.Validate(), ErrUnknownField)
	})

	t.Run("valid patch", func(t *testing.T) {
		p := UpdateQueueParams{Name: "q", UpdateMask: []string{"retry_limit"}, RetryLimit: ptr.To(5)}
		assert.NoError(t, p.Validate())
	})

	t.Run("nullable dead_letter accepted without pointer", func(t *testing.T) {
		p := UpdateQueueParams{Name: "q", UpdateMask: []string{"dead_letter"}}
		assert.NoError(t, p.Validate())
	})
}
