package encoder

import (
	"context"
	"fmt"
	"strings"

	"github.com/arloliu/go-qenc/codec"
)

// DeviceInfo holds the controller values captured during the handshake.
type DeviceInfo struct {
	// ModeRegister is the MDR0 value read before programming.
	ModeRegister int64
	// StatusRegister is the STR value.
	StatusRegister int64
	// ProgrammedModeRegister is the MDR0 value echoed by the program command.
	ProgrammedModeRegister int64
	// FirmwareVersion is the reported firmware version.
	FirmwareVersion string

	ModeRegisterKnown           bool
	StatusRegisterKnown         bool
	ProgrammedModeRegisterKnown bool
}

type handshakeStep struct {
	name string
	run  func(ctx context.Context, info *DeviceInfo) error
}

// handshake brings the controller into a known counting state.
//
// Steps run strictly in order and the first failure ends the handshake with a
// *HandshakeError. Residual input is drained after the last step.
func (c *controller) handshake(ctx context.Context) (DeviceInfo, error) {
	var info DeviceInfo

	steps := []handshakeStep{
		{StepDebugMode, c.setDebugMode},
		{StepRegisterRead, c.readRegisters},
		{StepRegisterProgram, c.programModeRegister},
		{StepClearCounter, func(ctx context.Context, _ *DeviceInfo) error { return c.clearCounter(ctx) }},
		{StepFirmwareVersion, c.readFirmwareVersion},
	}

	for _, step := range steps {
		c.logger.Debug("handshake step", "step", step.name)
		if err := step.run(ctx, &info); err != nil {
			c.logger.Error("handshake failed", "step", step.name, "error", err)
			return info, &HandshakeError{Step: step.name, Err: err}
		}
	}

	if n := c.drain(ctx); n > 0 {
		c.logger.Debug("drained residual lines", "count", n)
	}

	c.logger.Info("handshake completed",
		"mdr0", info.ProgrammedModeRegister,
		"str", info.StatusRegister,
		"version", info.FirmwareVersion,
	)

	return info, nil
}

func (c *controller) setDebugMode(ctx context.Context, _ *DeviceInfo) error {
	cmd := codec.DebugCommand(c.cfg.debug)
	mark := codec.DebugOffMark
	if c.cfg.debug {
		mark = codec.DebugOnMark
	}

	// The acknowledgement is free text; any line containing the mark is accepted.
	_, err := c.exchange(ctx, cmd, mark)

	return err
}

func (c *controller) readRegisters(ctx context.Context, info *DeviceInfo) error {
	mdr0, ok, err := c.readRegister(ctx, codec.ReadModeRegister, codec.ModeRegTag)
	if err != nil {
		return err
	}
	info.ModeRegister, info.ModeRegisterKnown = mdr0, ok

	str, ok, err := c.readRegister(ctx, codec.ReadStatusRegister, codec.StatusRegTag)
	if err != nil {
		return err
	}
	info.StatusRegister, info.StatusRegisterKnown = str, ok

	return nil
}

// readRegister reads one register. A missing answer is an error only in
// strict mode; otherwise it reports ok=false.
func (c *controller) readRegister(ctx context.Context, cmd codec.Command, tag string) (int64, bool, error) {
	line, err := c.exchange(ctx, cmd, tag)
	if err != nil {
		if c.cfg.strictHandshake || !isSoftFailure(err) {
			return 0, false, fmt.Errorf("%w: %s: %w", ErrRegisterRead, tag, err)
		}
		c.logger.Warn("could not read register", "register", tag, "error", err)

		return 0, false, nil
	}

	v, ok := codec.ParseRegister(line, tag)
	if !ok {
		if c.cfg.strictHandshake {
			return 0, false, fmt.Errorf("%w: %s: malformed response %q", ErrRegisterRead, tag, line)
		}
		c.logger.Warn("malformed register response", "register", tag, "line", line)

		return 0, false, nil
	}
	c.logger.Debug("register value", "register", tag, "value", v)

	return v, true, nil
}

func (c *controller) programModeRegister(ctx context.Context, info *DeviceInfo) error {
	line, err := c.exchange(ctx, codec.ProgramModeRegister, codec.ModeRegTag)
	if err != nil {
		return err
	}

	v, ok := codec.ParseRegister(line, codec.ModeRegTag)
	info.ProgrammedModeRegister, info.ProgrammedModeRegisterKnown = v, ok

	expected, verify := c.cfg.ExpectedModeRegister()
	if !verify {
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: malformed response %q", ErrRegisterMismatch, line)
	}
	if v != expected {
		return fmt.Errorf("%w: got %d, want %d", ErrRegisterMismatch, v, expected)
	}

	return nil
}

func (c *controller) readFirmwareVersion(ctx context.Context, info *DeviceInfo) error {
	line, err := c.exchange(ctx, codec.ReadVersion, codec.VersionTag)
	if err != nil {
		return err
	}

	if v, ok := codec.ParseVersion(line); ok {
		info.FirmwareVersion = v
	} else {
		info.FirmwareVersion = strings.TrimSpace(line)
	}

	return nil
}
