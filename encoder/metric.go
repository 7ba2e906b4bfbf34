package encoder

import (
	"sync/atomic"
)

// SessionMetrics contains atomic metrics for a link session.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type SessionMetrics struct {
	// LinesRead indicates the number of lines returned by the transport.
	LinesRead atomic.Uint64
	// TelemetryLines indicates the number of well-formed telemetry lines published.
	TelemetryLines atomic.Uint64
	// ReadTimeouts indicates the number of reader cycles that timed out.
	ReadTimeouts atomic.Uint64
	// IOErrors indicates the number of unexpected read or write failures.
	IOErrors atomic.Uint64
	// ProtocolErrors indicates the number of ERROR lines sent by the controller.
	ProtocolErrors atomic.Uint64
	// Nudges indicates the number of read-counter commands sent after idle cycles.
	Nudges atomic.Uint64

	// Emissions indicates the number of Readings emitted.
	Emissions atomic.Uint64
	// ParseFailures indicates the number of sampled lines that did not parse.
	ParseFailures atomic.Uint64
	// ConsecutiveBadReads indicates the current run of unparsable samples.
	ConsecutiveBadReads atomic.Int64
	// SubscriberDrops indicates the number of Readings replaced in a lagging subscription.
	SubscriberDrops atomic.Uint64

	// HandshakeRetries indicates the number of extra reads spent waiting for responses.
	HandshakeRetries atomic.Uint64
}

func (m *SessionMetrics) incLinesRead() {
	m.LinesRead.Add(1)
}

func (m *SessionMetrics) incTelemetryLines() {
	m.TelemetryLines.Add(1)
}

func (m *SessionMetrics) incReadTimeouts() {
	m.ReadTimeouts.Add(1)
}

func (m *SessionMetrics) incIOErrors() {
	m.IOErrors.Add(1)
}

func (m *SessionMetrics) incProtocolErrors() {
	m.ProtocolErrors.Add(1)
}

func (m *SessionMetrics) incNudges() {
	m.Nudges.Add(1)
}

func (m *SessionMetrics) incEmissions() {
	m.Emissions.Add(1)
}

func (m *SessionMetrics) incParseFailures() {
	m.ParseFailures.Add(1)
}

func (m *SessionMetrics) setConsecutiveBadReads(n int) {
	m.ConsecutiveBadReads.Store(int64(n))
}

func (m *SessionMetrics) incSubscriberDrops() {
	m.SubscriberDrops.Add(1)
}

func (m *SessionMetrics) incHandshakeRetries() {
	m.HandshakeRetries.Add(1)
}
