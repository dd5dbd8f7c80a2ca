package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualAdvance(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	m := NewManual(start)

	assert.Equal(t, start, m.Now())

	m.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), m.Now())

	m.Set(start)
	assert.Equal(t, start, m.Now())
}

func TestSystemIsUTC(t *testing.T) {
	assert.Equal(t, time.UTC, System().Now().Location())
}
