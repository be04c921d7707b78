package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseSince(t *testing.T) {
	got, err := parseSince("2024-06-01")
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("2024-06-01T12:30:00+02:00")
	assert.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC), got)

	_, err = parseSince("yesterday")
	assert.Error(t, err)
}
