package encoder

import (
	"fmt"

	"github.com/arloliu/go-qenc/codec"
)

// Reading is one decoded position sample.
type Reading struct {
	Index        int64
	Count        int64
	AngleDegrees float64
	RawLine      string
}

// Angle converts a count to degrees: count / countsPerRevolution * 360.
func Angle(count int64, countsPerRevolution float64) float64 {
	return float64(count) / countsPerRevolution * 360
}

// NewReading builds a Reading from decoded fields.
func NewReading(index, count int64, rawLine string, countsPerRevolution float64) Reading {
	return Reading{
		Index:        index,
		Count:        count,
		AngleDegrees: Angle(count, countsPerRevolution),
		RawLine:      rawLine,
	}
}

// ParseReading parses a telemetry line into a Reading.
// It reports false when the line lacks a numeric Index or Count field.
func ParseReading(line string, countsPerRevolution float64) (Reading, bool) {
	index, count, ok := codec.ParseTelemetry(line)
	if !ok {
		return Reading{}, false
	}

	return NewReading(index, count, line, countsPerRevolution), true
}

func (r Reading) String() string {
	return fmt.Sprintf("index=%d count=%d angle=%.3f", r.Index, r.Count, r.AngleDegrees)
}
