package encoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAngle(t *testing.T) {
	assert.InDelta(t, 180.0, Angle(4096, 8192), 1e-12)
	assert.InDelta(t, -360.0, Angle(-8192, 8192), 1e-12)
	assert.InDelta(t, 0.0, Angle(0, 8192), 0)
	assert.InDelta(t, 120.0, Angle(1, 3), 1e-9)
	assert.NotZero(t, Angle(1, 3))
}

func TestParseReading(t *testing.T) {
	r, ok := ParseReading(";Index:12;Count:4096", 8192)
	require.True(t, ok)
	assert.Equal(t, int64(12), r.Index)
	assert.Equal(t, int64(4096), r.Count)
	assert.InDelta(t, 180.0, r.AngleDegrees, 1e-12)
	assert.Equal(t, ";Index:12;Count:4096", r.RawLine)

	swapped, ok := ParseReading(";Count:4096;Index:12;", 8192)
	require.True(t, ok)
	assert.Equal(t, r.Index, swapped.Index)
	assert.Equal(t, r.Count, swapped.Count)
}

func TestParseReading_Malformed(t *testing.T) {
	for _, line := range []string{
		"",
		"ERROR",
		";Index:12",
		";Index:12;Count:abc",
		";Index:x;Count:1",
		"VERSION:1.0",
	} {
		_, ok := ParseReading(line, 8192)
		assert.False(t, ok, "line %q", line)
	}
}
