package encoder

// latestLine holds the most recent well-formed telemetry line.
//
// It is a one-slot channel: the telemetry reader is the only sender and
// replaces any unconsumed line, the emitter takes without blocking. A line is
// handed over as a whole value, so a reader can never observe a partial write.
type latestLine struct {
	ch chan string
}

func newLatestLine() *latestLine {
	return &latestLine{ch: make(chan string, 1)}
}

// publish stores line, discarding a line the emitter has not taken yet.
// It must only be called from one goroutine.
func (c *latestLine) publish(line string) {
	select {
	case <-c.ch:
	default:
	}

	select {
	case c.ch <- line:
	default:
	}
}

// take returns the pending line, if any, without blocking.
func (c *latestLine) take() (string, bool) {
	select {
	case line := <-c.ch:
		return line, true
	default:
		return "", false
	}
}
