// Package encoder drives a rotary quadrature encoder through its controller
// over a line-oriented serial link.
//
// # Session lifecycle
//
// Start opens the transport, waits for the controller to settle after the
// port-open reset, and runs the initialization handshake:
//
//  1. debug-mode:       send '9'/'0', wait for "ON"/"OFF"
//  2. register-read:    read MDR0 ('7') and STR ('3')
//  3. register-program: program MDR0 ('8') and check the echo
//  4. clear-counter:    clear the counter ('2') and verify a near-zero Count
//  5. firmware-version: read the version ('5')
//  6. drain:            discard lines still buffered
//
// Only when every step succeeded are the two background loops started:
//
//   - the telemetry reader, the sole reader of the transport, which publishes
//     the latest well-formed telemetry line;
//   - the reading emitter, a fixed-period timer that parses the latest line
//     into a Reading, or repeats the last valid Reading when nothing usable
//     arrived.
//
// Read returns the latest emitted Reading without blocking. Stop tears the
// session down in strict order: emitter, reader (joined with a timeout),
// transport.
//
// # Error handling
//
// Handshake failures are returned from Start as *HandshakeError naming the
// failed step. Inside the running session, timeouts, I/O errors and malformed
// lines degrade to "repeat the last value". Only a run of consecutive ERROR
// lines from the controller stops the reader; this is reported through Done
// and Err while Read keeps returning the last known position.
//
// # Standalone reset
//
// Reset opens its own short-lived connection, resets the counter chip,
// clears and verifies the counter, forces one counter read and closes the
// connection again. It must not be used on a port held by a running Session.
package encoder
