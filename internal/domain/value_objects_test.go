package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQueueName(t *testing.T) {
	valid, err := NewQueueName("test-queue.1_ok")
	require.NoError(t, err)
	assert.Equal(t, "test-queue.1_ok", valid.String())

	_, err = NewQueueName("")
	assert.ErrorIs(t, err, ErrInvalidQueueName)

	_, err = NewQueueName("has a space")
	assert.ErrorIs(t, err, ErrInvalidQueueName)

	_, err = NewQueueName(strings.Repeat("a", 256))
	assert.ErrorIs(t, err, ErrInvalidQueueName)
}

func TestNewSingletonKey(t *testing.T) {
	k, err := NewSingletonKey("unique-task")
	require.NoError(t, err)
	assert.Equal(t, "unique-task", k.String())

	_, err = NewSingletonKey("")
	require.NoError(t, err)

	_, err = NewSingletonKey(strings.Repeat("a", 256))
	assert.ErrorIs(t, err, ErrInvalidSingletonKey)
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyStandard, p)

	p, err = NewPolicy("singleton")
	require.NoError(t, err)
	assert.Equal(t, PolicySingleton, p)

	_, err = NewPolicy("nonsense")
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestJobStateHelpers(t *testing.T) {
	assert.True(t, JobStateCompleted.Terminal())
	assert.True(t, JobStateFailed.Terminal())
	assert.True(t, JobStateCancelled.Terminal())
	assert.False(t, JobStateActive.Terminal())

	assert.True(t, JobStateCreated.Fetchable())
	assert.True(t, JobStateRetry.Fetchable())
	assert.False(t, JobStateActive.Fetchable())
}
