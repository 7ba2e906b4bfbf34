package encoder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig("/dev/ttyACM0")
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Port())
	assert.Equal(t, 9600, cfg.BaudRate())
	assert.Equal(t, 500*time.Millisecond, cfg.Timeout())
	assert.InDelta(t, 8192.0, cfg.CountsPerRevolution(), 0)
	assert.False(t, cfg.Debug())
	assert.False(t, cfg.StrictHandshake())
	assert.Equal(t, 150, cfg.ResponseAttempts())
	assert.Equal(t, 5, cfg.ClearAttempts())
	assert.Equal(t, 50*time.Millisecond, cfg.ClearInterval())
	assert.Equal(t, int64(1000), cfg.ClearTolerance())
	assert.Equal(t, 5, cfg.ErrorThreshold())
	assert.Equal(t, 10*time.Millisecond, cfg.EmitInterval())
	assert.Equal(t, 2*time.Second, cfg.SettleDelay())
	assert.Equal(t, time.Second, cfg.JoinTimeout())
	assert.Equal(t, 0, cfg.NudgeAfter())
	assert.Empty(t, cfg.CommandTerminator())
	assert.NotNil(t, cfg.GetLogger())

	_, ok := cfg.ExpectedModeRegister()
	assert.False(t, ok)
}

func TestNewConfig_Options(t *testing.T) {
	cfg, err := NewConfig("tcp://localhost:4000",
		WithBaudRate(115200),
		WithTimeout(100*time.Millisecond),
		WithCountsPerRevolution(4096),
		WithDebug(true),
		WithStrictHandshake(true),
		WithExpectedModeRegister(3),
		WithNudgeAfter(20),
		WithCommandTerminator("\r\n"),
	)
	require.NoError(t, err)

	assert.Equal(t, 115200, cfg.BaudRate())
	assert.Equal(t, 100*time.Millisecond, cfg.Timeout())
	assert.InDelta(t, 4096.0, cfg.CountsPerRevolution(), 0)
	assert.True(t, cfg.Debug())
	assert.True(t, cfg.StrictHandshake())
	assert.Equal(t, 20, cfg.NudgeAfter())
	assert.Equal(t, "\r\n", cfg.CommandTerminator())

	v, ok := cfg.ExpectedModeRegister()
	assert.True(t, ok)
	assert.Equal(t, int64(3), v)
}

func TestNewConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		port string
		opt  Option
	}{
		{"empty port", "", nil},
		{"zero baud", "p", WithBaudRate(0)},
		{"timeout too short", "p", WithTimeout(time.Microsecond)},
		{"timeout too long", "p", WithTimeout(2 * time.Minute)},
		{"zero cpr", "p", WithCountsPerRevolution(0)},
		{"negative cpr", "p", WithCountsPerRevolution(-1)},
		{"zero attempts", "p", WithResponseAttempts(0)},
		{"zero clear attempts", "p", WithClearAttempts(0)},
		{"negative clear interval", "p", WithClearInterval(-time.Second)},
		{"negative tolerance", "p", WithClearTolerance(-1)},
		{"zero error threshold", "p", WithErrorThreshold(0)},
		{"zero emit interval", "p", WithEmitInterval(0)},
		{"negative settle", "p", WithSettleDelay(-1)},
		{"zero join timeout", "p", WithJoinTimeout(0)},
		{"negative nudge", "p", WithNudgeAfter(-1)},
		{"bad terminator", "p", WithCommandTerminator(";")},
		{"zero subscriber buffer", "p", WithSubscriberBuffer(0)},
		{"nil opener", "p", WithOpener(nil)},
		{"nil logger", "p", WithLogger(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			if tt.opt != nil {
				opts = append(opts, tt.opt)
			}
			_, err := NewConfig(tt.port, opts...)
			assert.Error(t, err)
		})
	}
}
