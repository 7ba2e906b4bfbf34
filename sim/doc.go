// Package sim emulates the encoder controller firmware.
//
// A Device answers the single-character command set with CRLF terminated
// lines and, once the counter was cleared, streams ";Index:<i>;Count:<c>"
// telemetry at a fixed interval. Motion, ERROR lines and an unresponsive
// controller can be injected at runtime.
//
// Open returns a link.Transport connected to the device over an in-memory
// pipe, so a Device can be plugged into encoder.WithOpener. ServeListener
// exposes the device over TCP for tcp:// port identifiers.
package sim
