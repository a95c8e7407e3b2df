// Package protocol encodes host commands and incrementally decodes the
// controller's framed byte stream into typed packets.
package protocol

import (
	"errors"
	"fmt"
)

// Command is one controller command code. Codes are stable wire values.
type Command int

const (
	CommandOpen Command = iota
	CommandCheckSensors
	CommandReadImpTemp
	CommandStopPeriodic
	CommandStartPeriodic
	CommandSetRange1
	CommandSetRange2
	CommandSetRange3
	CommandSetRange4
	CommandSetGain1
	CommandSetGain5

	commandCount
)

// ReplyThreshold is the highest command code that is answered with a REP frame.
const ReplyThreshold = CommandCheckSensors

// reservedCode is never a valid command byte.
const reservedCode = 255

var commandNames = [...]string{
	CommandOpen:          "OPEN",
	CommandCheckSensors:  "CHECK_SEN",
	CommandReadImpTemp:   "IMP_TMP",
	CommandStopPeriodic:  "STOP_IMP_PER",
	CommandStartPeriodic: "START_IMP_PER",
	CommandSetRange1:     "SET_AD_RANGE_1",
	CommandSetRange2:     "SET_AD_RANGE_2",
	CommandSetRange3:     "SET_AD_RANGE_3",
	CommandSetRange4:     "SET_AD_RANGE_4",
	CommandSetGain1:      "SET_AD_PGA_1",
	CommandSetGain5:      "SET_AD_PGA_5",
}

// ErrInvalidCommand reports a command code that cannot be put on the wire.
var ErrInvalidCommand = errors.New("protocol: invalid command")

// CommandCount returns the number of defined commands.
func CommandCount() int {
	return int(commandCount)
}

// ExpectsReply reports whether the controller answers c with a REP frame.
func (c Command) ExpectsReply() bool {
	return c >= 0 && c <= ReplyThreshold
}

// Valid reports whether c can be encoded.
func (c Command) Valid() bool {
	return c >= 0 && c < reservedCode && c < commandCount
}

func (c Command) String() string {
	if c >= 0 && c < commandCount {
		return commandNames[c]
	}
	return fmt.Sprintf("Command(%d)", int(c))
}
