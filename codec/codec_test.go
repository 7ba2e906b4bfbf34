package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, []byte("0"), Format(DebugOff, ""))
	assert.Equal(t, []byte("9\n"), Format(DebugOn, "\n"))
	assert.Equal(t, []byte("2\r\n"), Format(ClearCounter, "\r\n"))

	assert.Equal(t, DebugOn, DebugCommand(true))
	assert.Equal(t, DebugOff, DebugCommand(false))
}

func TestCommandVocabulary(t *testing.T) {
	wire := map[Command]byte{
		DebugOff:            '0',
		ResetChip:           '1',
		ClearCounter:        '2',
		ReadStatusRegister:  '3',
		ReadCounter:         '4',
		ReadVersion:         '5',
		ReadModeRegister:    '7',
		ProgramModeRegister: '8',
		DebugOn:             '9',
	}
	for cmd, b := range wire {
		assert.True(t, cmd.Valid(), cmd.String())
		assert.Equal(t, b, Format(cmd, "")[0])
	}

	assert.False(t, Command('6').Valid())
	assert.Equal(t, "command(0x36)", Command('6').String())
	assert.Equal(t, "clear-counter", ClearCounter.String())
}

func TestParseTelemetry_RoundTrip(t *testing.T) {
	indexes := []int64{0, 1, 12, 999, math.MaxInt32, math.MaxInt64}
	counts := []int64{0, 1, -1, 4096, -8192, math.MinInt32, math.MaxInt32, math.MinInt64}

	for _, i := range indexes {
		for _, c := range counts {
			line := FormatTelemetry(i, c)
			index, count, ok := ParseTelemetry(line)
			require.True(t, ok, line)
			assert.Equal(t, i, index, line)
			assert.Equal(t, c, count, line)
		}
	}
}

func TestParseTelemetry_FieldOrder(t *testing.T) {
	i1, c1, ok1 := ParseTelemetry(";Count:5;Index:3;")
	i2, c2, ok2 := ParseTelemetry(";Index:3;Count:5;")

	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, i1, i2)
	assert.Equal(t, c1, c2)
	assert.Equal(t, int64(3), i1)
	assert.Equal(t, int64(5), c1)
}

func TestParseTelemetry_ExtraFieldsAndSpacing(t *testing.T) {
	index, count, ok := ParseTelemetry("; Index : 7 ;Speed:12; Count:-20 \r")
	require.True(t, ok)
	assert.Equal(t, int64(7), index)
	assert.Equal(t, int64(-20), count)
}

func TestParseTelemetry_Malformed(t *testing.T) {
	lines := []string{
		"",
		"ERROR",
		";Index:3",
		";Count:5",
		";Index:3;Count:abc",
		";Index:x;Count:5",
		";Index:3;Count:",
		";Index:3;Count:1.5",
		";Index:3;Count",
		"Index3;Count5",
		";index:3;count:5",
	}
	for _, line := range lines {
		_, _, ok := ParseTelemetry(line)
		assert.False(t, ok, "%q", line)
	}
}

func TestParseCountField(t *testing.T) {
	count, ok := ParseCountField(";Count:-3")
	require.True(t, ok)
	assert.Equal(t, int64(-3), count)

	count, ok = ParseCountField(";Index:1;Count:0")
	require.True(t, ok)
	assert.Zero(t, count)

	_, ok = ParseCountField(";Index:1")
	assert.False(t, ok)
}

func TestContainsErrorMarker(t *testing.T) {
	assert.True(t, ContainsErrorMarker("ERROR"))
	assert.True(t, ContainsErrorMarker("SPI ERROR: no chip"))
	assert.False(t, ContainsErrorMarker(";Index:1;Count:2"))
	assert.False(t, ContainsErrorMarker("error"))
}

func TestParseRegister(t *testing.T) {
	v, ok := ParseRegister("MDR0:3", ModeRegTag)
	require.True(t, ok)
	assert.Equal(t, int64(3), v)

	v, ok = ParseRegister(FormatRegister(StatusRegTag, 17), StatusRegTag)
	require.True(t, ok)
	assert.Equal(t, int64(17), v)

	_, ok = ParseRegister("MDR0", ModeRegTag)
	assert.False(t, ok)

	_, ok = ParseRegister("STR:1", ModeRegTag)
	assert.False(t, ok)
}

func TestParseVersion(t *testing.T) {
	v, ok := ParseVersion("VERSION:1.4.2")
	require.True(t, ok)
	assert.Equal(t, "1.4.2", v)

	_, ok = ParseVersion("VERSION:")
	assert.False(t, ok)

	_, ok = ParseVersion("VER 1")
	assert.False(t, ok)
}
