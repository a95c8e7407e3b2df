package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
)

// MaxLineBytes bounds one JSON line on the console socket.
const MaxLineBytes = 64 << 10

var errLineTooLong = errors.New("line exceeds limit")

// readLine reads one newline-terminated JSON document.
func readLine(r io.Reader) ([]byte, error) {
	reader := bufio.NewReader(io.LimitReader(r, MaxLineBytes+1))
	line, err := reader.ReadBytes('\n')
	if err != nil {
		if len(line) > MaxLineBytes {
			return nil, errLineTooLong
		}
		return nil, err
	}
	return line, nil
}

// writeLine encodes v followed by a newline.
func writeLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
