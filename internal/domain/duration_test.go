package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDuration(t *testing.T) {
	d, err := NewDuration("PT1H30M")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d.Value())
	assert.Equal(t, "PT1H30M", d.String())

	_, err = NewDuration("")
	assert.ErrorIs(t, err, ErrDurationEmpty)

	_, err = NewDuration("garbage")
	assert.ErrorIs(t, err, ErrInvalidDurationFormat)
}

func TestFormatDurationISO8601(t *testing.T) {
	assert.Equal(t, "PT0S", FormatDurationISO8601(0))
	assert.Equal(t, "PT1H", FormatDurationISO8601(time.Hour))
	assert.Equal(t, "PT2H5M10S", FormatDurationISO8601(2*time.Hour+5*time.Minute+10*time.Second))
}
