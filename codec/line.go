package codec

import (
	"strconv"
	"strings"
)

// Field labels and markers recognised on the wire.
const (
	IndexLabel    = "Index"
	CountLabel    = "Count"
	ModeRegTag    = "MDR0"
	StatusRegTag  = "STR"
	VersionTag    = "VERSION"
	ErrorMarker   = "ERROR"
	DebugOnMark   = "ON"
	DebugOffMark  = "OFF"
	FieldSep      = ";"
	labelValueSep = ":"
)

// Field returns the trimmed value of the first field labelled label.
//
// Fields are separated by ';' and written as "Label:value". Labels are
// compared exactly after trimming surrounding white space.
func Field(line, label string) (string, bool) {
	for part := range strings.SplitSeq(line, FieldSep) {
		name, value, ok := strings.Cut(part, labelValueSep)
		if !ok {
			continue
		}
		if strings.TrimSpace(name) == label {
			return strings.TrimSpace(value), true
		}
	}

	return "", false
}

// IntField returns the integer value of the field labelled label.
// It reports false if the field is absent or not a base-10 integer.
func IntField(line, label string) (int64, bool) {
	v, ok := Field(line, label)
	if !ok {
		return 0, false
	}

	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}

	return n, true
}

// ParseTelemetry extracts the Index and Count fields of a telemetry line.
// Both fields must be present and numeric.
func ParseTelemetry(line string) (index, count int64, ok bool) {
	index, ok = IntField(line, IndexLabel)
	if !ok {
		return 0, 0, false
	}

	count, ok = IntField(line, CountLabel)
	if !ok {
		return 0, 0, false
	}

	return index, count, true
}

// ParseCountField extracts only the Count field. It is used to verify a
// counter clear, where the Index field may be missing.
func ParseCountField(line string) (int64, bool) {
	return IntField(line, CountLabel)
}

// ContainsErrorMarker reports whether the controller flagged line as an error.
func ContainsErrorMarker(line string) bool {
	return strings.Contains(line, ErrorMarker)
}

// ParseRegister extracts the integer value of a "tag:value" register response,
// e.g. "MDR0:3" or "STR:0".
func ParseRegister(line, tag string) (int64, bool) {
	if !strings.Contains(line, tag) {
		return 0, false
	}

	return IntField(line, tag)
}

// ParseVersion extracts the firmware version from a "VERSION:<text>" response.
func ParseVersion(line string) (string, bool) {
	v, ok := Field(line, VersionTag)
	if !ok || v == "" {
		return "", false
	}

	return v, true
}

// FormatTelemetry renders a telemetry line in the controller's canonical
// field order, without line terminator.
func FormatTelemetry(index, count int64) string {
	var b strings.Builder
	b.Grow(32)
	b.WriteString(FieldSep)
	b.WriteString(IndexLabel)
	b.WriteString(labelValueSep)
	b.WriteString(strconv.FormatInt(index, 10))
	b.WriteString(FieldSep)
	b.WriteString(CountLabel)
	b.WriteString(labelValueSep)
	b.WriteString(strconv.FormatInt(count, 10))

	return b.String()
}

// FormatRegister renders a "tag:value" register response.
func FormatRegister(tag string, value int64) string {
	return tag + labelValueSep + strconv.FormatInt(value, 10)
}
