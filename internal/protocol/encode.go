package protocol

import "fmt"

// Outbound frame bytes.
const (
	CommandStart      byte = '<'
	CommandEnd        byte = '>'
	CommandTerminator byte = '\n'

	CommandFrameLen = 4
)

// Encode renders c as the 4-byte command frame `<` code `>` `\n`.
func Encode(c Command) ([]byte, error) {
	if c >= reservedCode {
		return nil, fmt.Errorf("%w: code %d is reserved or out of byte range", ErrInvalidCommand, int(c))
	}
	if !c.Valid() {
		return nil, fmt.Errorf("%w: code %d outside [0,%d)", ErrInvalidCommand, int(c), CommandCount())
	}
	return []byte{CommandStart, byte(c), CommandEnd, CommandTerminator}, nil
}
