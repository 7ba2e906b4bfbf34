package codec

import "fmt"

// Command is a single-character controller command.
type Command byte

const (
	DebugOff            Command = '0'
	ResetChip           Command = '1'
	ClearCounter        Command = '2'
	ReadStatusRegister  Command = '3'
	ReadCounter         Command = '4'
	ReadVersion         Command = '5'
	ReadModeRegister    Command = '7'
	ProgramModeRegister Command = '8'
	DebugOn             Command = '9'
)

var commandNames = map[Command]string{
	DebugOff:            "debug-off",
	ResetChip:           "reset-chip",
	ClearCounter:        "clear-counter",
	ReadStatusRegister:  "read-str",
	ReadCounter:         "read-counter",
	ReadVersion:         "read-version",
	ReadModeRegister:    "read-mdr0",
	ProgramModeRegister: "program-mdr0",
	DebugOn:             "debug-on",
}

// Valid reports whether c belongs to the controller vocabulary.
func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}

	return fmt.Sprintf("command(0x%02X)", byte(c))
}

// Format returns the wire bytes of c followed by terminator, which is empty
// for firmware that reacts to the bare command byte.
func Format(c Command, terminator string) []byte {
	buf := make([]byte, 0, 1+len(terminator))
	buf = append(buf, byte(c))

	return append(buf, terminator...)
}

// DebugCommand returns the command that switches firmware debug output on or off.
func DebugCommand(on bool) Command {
	if on {
		return DebugOn
	}

	return DebugOff
}
