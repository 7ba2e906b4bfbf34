package link

import (
	"fmt"
	"net"
	"strings"
	"time"

	"go.bug.st/serial"
)

const tcpScheme = "tcp://"

// DefaultDialTimeout bounds the TCP connect of "tcp://" port identifiers.
const DefaultDialTimeout = 3 * time.Second

// Open opens the port identified by name and returns a line transport over it.
//
// Serial devices are opened in 8N1 mode at baud. For "tcp://host:port"
// identifiers the baud rate is ignored.
func Open(name string, baud int) (Transport, error) {
	if addr, ok := strings.CutPrefix(name, tcpScheme); ok {
		conn, err := net.DialTimeout("tcp", addr, DefaultDialTimeout)
		if err != nil {
			return nil, fmt.Errorf("link: dial %s: %w", addr, err)
		}

		return NewTransport(name, NewConnPort(conn)), nil
	}

	port, err := OpenSerial(name, baud)
	if err != nil {
		return nil, err
	}

	return NewTransport(name, port), nil
}

// OpenSerial opens a serial device in 8N1 mode and discards stale input.
func OpenSerial(device string, baud int) (serial.Port, error) {
	if device == "" {
		return nil, fmt.Errorf("link: no serial device given")
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("link: open serial port %s: %w", device, err)
	}

	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("link: reset input buffer of %s: %w", device, err)
	}

	return port, nil
}

// ListPorts returns the serial device names present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("link: list serial ports: %w", err)
	}

	return ports, nil
}
