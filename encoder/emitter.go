package encoder

import (
	"github.com/arloliu/go-qenc/logger"
)

// emitterState is carried from one emitter tick to the next.
type emitterState struct {
	// last is the last valid Reading; zero until the first telemetry line parsed.
	last Reading
	// consecutiveBad counts adjacent unparsable samples.
	consecutiveBad int
}

// readingEmitter turns the latest telemetry line into a Reading on every
// tick. It performs no I/O.
type readingEmitter struct {
	cell    *latestLine
	cfg     *Config
	logger  logger.Logger
	metrics *SessionMetrics
	emit    func(Reading)
}

func (e *readingEmitter) loop() func() bool {
	var st emitterState

	return func() bool {
		st = e.iterate(st)
		return true
	}
}

func (e *readingEmitter) iterate(st emitterState) emitterState {
	line, ok := e.cell.take()
	if !ok {
		e.send(st.last)
		return st
	}

	r, ok := ParseReading(line, e.cfg.countsPerRevolution)
	if !ok {
		st.consecutiveBad++
		e.metrics.incParseFailures()
		e.metrics.setConsecutiveBadReads(st.consecutiveBad)
		e.logger.Debug("unparsable telemetry", "line", line, "consecutive", st.consecutiveBad)
		e.send(st.last)

		return st
	}

	if st.consecutiveBad > 0 {
		st.consecutiveBad = 0
		e.metrics.setConsecutiveBadReads(0)
	}
	st.last = r
	e.send(r)

	return st
}

func (e *readingEmitter) send(r Reading) {
	e.metrics.incEmissions()
	e.emit(r)
}
