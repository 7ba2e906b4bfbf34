package encoder

import (
	"errors"
	"fmt"
)

// Handshake step names reported by HandshakeError.
const (
	StepDebugMode       = "debug-mode"
	StepRegisterRead    = "register-read"
	StepRegisterProgram = "register-program"
	StepClearCounter    = "clear-counter"
	StepFirmwareVersion = "firmware-version"
)

var (
	// ErrHandshakeFailed matches every *HandshakeError with errors.Is.
	ErrHandshakeFailed = errors.New("encoder: handshake failed")
	// ErrProtocolError is reported by Session.Err after the controller sent
	// too many consecutive ERROR lines.
	ErrProtocolError = errors.New("encoder: protocol error threshold reached")
	// ErrJoinTimeout is returned by Session.Stop when the telemetry reader did
	// not exit within the join timeout. The transport is closed regardless.
	ErrJoinTimeout = errors.New("encoder: telemetry reader join timeout")
	// ErrNoResponse means the expected response line never arrived within the
	// attempt budget.
	ErrNoResponse = errors.New("encoder: no response")
	// ErrRegisterRead means a register read got no usable answer in strict mode.
	ErrRegisterRead = errors.New("encoder: register read failed")
	// ErrRegisterMismatch means the programmed mode register echo differs from
	// the expected value.
	ErrRegisterMismatch = errors.New("encoder: mode register mismatch")
	// ErrClearUnverified means no near-zero count was observed after a clear
	// in strict mode.
	ErrClearUnverified = errors.New("encoder: counter clear not verified")
	// ErrReaderFault means the telemetry reader stopped on an unexpected fault.
	ErrReaderFault = errors.New("encoder: telemetry reader fault")
)

// HandshakeError reports the initialization step that failed.
type HandshakeError struct {
	Step string
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("encoder: handshake failed at %s: %v", e.Step, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrHandshakeFailed) true for every HandshakeError.
func (e *HandshakeError) Is(target error) bool {
	return target == ErrHandshakeFailed
}

// FailedStep returns the step name of a handshake error in err's chain, or "".
func FailedStep(err error) string {
	var he *HandshakeError
	if errors.As(err, &he) {
		return he.Step
	}

	return ""
}
