package metric

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/go-qenc/encoder"
)

const namespace = "qenc"

// Source is the part of an encoder session a Collector reads.
type Source interface {
	Port() string
	Metrics() *encoder.SessionMetrics
	Read() encoder.Reading
	State() encoder.OpState
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(m *encoder.SessionMetrics) float64
}

// Collector is a prometheus.Collector for one session.
type Collector struct {
	src      Source
	counters []counterDesc

	consecutiveBad *prometheus.Desc
	count          *prometheus.Desc
	index          *prometheus.Desc
	angle          *prometheus.Desc
	up             *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a Collector for src. Every series carries a "port" label.
func NewCollector(src Source) *Collector {
	labels := prometheus.Labels{"port": src.Port()}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}

	c := &Collector{
		src:            src,
		consecutiveBad: desc("consecutive_bad_reads", "Current run of unparsable telemetry samples."),
		count:          desc("count", "Counter value of the latest reading."),
		index:          desc("index", "Index pulse counter of the latest reading."),
		angle:          desc("angle_degrees", "Angle of the latest reading in degrees."),
		up:             desc("session_up", "1 while the session is running and its reader is alive."),
	}

	c.counters = []counterDesc{
		{desc("lines_read_total", "Lines returned by the transport."),
			func(m *encoder.SessionMetrics) float64 { return float64(m.LinesRead.Load()) }},
		{desc("telemetry_lines_total", "Well-formed telemetry lines published."),
			func(m *encoder.SessionMetrics) float64 { return float64(m.TelemetryLines.Load()) }},
		{desc("read_timeouts_total", "Reader cycles without a line."),
			func(m *encoder.SessionMetrics) float64 { return float64(m.ReadTimeouts.Load()) }},
		{desc("io_errors_total", "Unexpected transport read or write failures."),
			func(m *encoder.SessionMetrics) float64 { return float64(m.IOErrors.Load()) }},
		{desc("protocol_errors_total", "ERROR lines sent by the controller."),
			func(m *encoder.SessionMetrics) float64 { return float64(m.ProtocolErrors.Load()) }},
		{desc("nudges_total", "Read-counter commands sent after idle cycles."),
			func(m *encoder.SessionMetrics) float64 { return float64(m.Nudges.Load()) }},
		{desc("emissions_total", "Readings emitted."),
			func(m *encoder.SessionMetrics) float64 { return float64(m.Emissions.Load()) }},
		{desc("parse_failures_total", "Sampled telemetry lines that did not parse."),
			func(m *encoder.SessionMetrics) float64 { return float64(m.ParseFailures.Load()) }},
		{desc("subscriber_drops_total", "Readings replaced in lagging subscriptions."),
			func(m *encoder.SessionMetrics) float64 { return float64(m.SubscriberDrops.Load()) }},
		{desc("handshake_retries_total", "Extra reads spent waiting for handshake responses."),
			func(m *encoder.SessionMetrics) float64 { return float64(m.HandshakeRetries.Load()) }},
	}

	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
	ch <- c.consecutiveBad
	ch <- c.count
	ch <- c.index
	ch <- c.angle
	ch <- c.up
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.src.Metrics()
	for _, cd := range c.counters {
		ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, cd.value(m))
	}
	ch <- prometheus.MustNewConstMetric(c.consecutiveBad, prometheus.GaugeValue, float64(m.ConsecutiveBadReads.Load()))

	r := c.src.Read()
	ch <- prometheus.MustNewConstMetric(c.count, prometheus.GaugeValue, float64(r.Count))
	ch <- prometheus.MustNewConstMetric(c.index, prometheus.GaugeValue, float64(r.Index))
	ch <- prometheus.MustNewConstMetric(c.angle, prometheus.GaugeValue, r.AngleDegrees)

	up := 0.0
	if c.src.State() == encoder.RunningState {
		up = 1
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, up)
}
