// Package link provides the byte-stream transports used to talk to the
// encoder controller.
//
// A Port is any duplex stream whose Read honours a settable timeout and
// returns (0, nil) when the timeout expires, which is the contract of
// go.bug.st/serial ports. The line transport built on top of a Port
// assembles newline-terminated lines, keeps partial data across timeouts,
// and exposes the timed ReadLine, Write and Buffered primitives consumed by
// the session engine.
//
// Port identifiers are serial device paths ("/dev/ttyACM0", "COM3") or
// "tcp://host:port" for serial-over-TCP bridges.
package link
