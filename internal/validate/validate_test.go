package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayq/relayq/internal/domain"
)

func TestQueueName(t *testing.T) {
	name, err := QueueName("orders.retry-1")
	require.NoError(t, err)
	assert.Equal(t, "orders.retry-1", name)

	_, err = QueueName("")
	assert.ErrorIs(t, err, domain.ErrInvalidQueueName)

	_, err = QueueName(strings.Repeat("q", 256))
	assert.ErrorIs(t, err, domain.ErrInvalidQueueName)
}

func TestOptionalQueueName(t *testing.T) {
	name, err := OptionalQueueName(nil)
	require.NoError(t, err)
	assert.Nil(t, name)

	empty := ""
	name, err = OptionalQueueName(&empty)
	require.NoError(t, err)
	assert.Nil(t, name)

	dlq := "dlq"
	name, err = OptionalQueueName(&dlq)
	require.NoError(t, err)
	require.NotNil(t, name)
	assert.Equal(t, "dlq", *name)

	bad := "has a space"
	_, err = OptionalQueueName(&bad)
	assert.ErrorIs(t, err, domain.ErrInvalidQueueName)
}

func TestPriority(t *testing.T) {
	p, err := Priority(10)
	require.NoError(t, err)
	assert.Equal(t, int16(10), p)

	_, err = Priority(40000)
	assert.Error(t, err)

	_, err = Priority(-40000)
	assert.Error(t, err)
}

func TestExpireSeconds(t *testing.T) {
	_, err := ExpireSeconds(0)
	assert.Error(t, err)

	_, err = ExpireSeconds(-5)
	assert.Error(t, err)

	_, err = ExpireSeconds(25 * 60 * 60)
	assert.Error(t, err)

	v, err := ExpireSeconds(900)
	require.NoError(t, err)
	assert.Equal(t, 900, v)
}

func TestSingletonSeconds(t *testing.T) {
	_, err := SingletonSeconds(0)
	assert.Error(t, err)

	v, err := SingletonSeconds(2)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestCron(t *testing.T) {
	sched, loc, err := Cron("*/5 * * * *", "UTC")
	require.NoError(t, err)
	assert.NotNil(t, sched)
	assert.Equal(t, "UTC", loc.String())

	_, _, err = Cron("not a cron", "UTC")
	assert.Error(t, err)

	_, _, err = Cron("*/5 * * * *", "Not/AZone")
	assert.Error(t, err)
}

func TestTimezone(t *testing.T) {
	tz, err := Timezone("")
	require.NoError(t, err)
	assert.Equal(t, "UTC", tz)

	tz, err = Timezone("America/New_York")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", tz)

	_, err = Timezone("Not/AZone")
	assert.Error(t, err)
}
