package transport

import (
	"strings"

	"github.com/KevinKickass/ScaleGate/internal/types"
)

// CRLF terminates frames for both supported dialects.
const CRLF = "\r\n"

// Framer applies a dialect's line convention to outbound commands and
// cleans inbound frames.
type Framer struct {
	Terminator string
}

// Frame returns the bytes to put on the wire for a raw command.
func (f Framer) Frame(command string) ([]byte, error) {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return nil, types.NewError(types.KindInvalidCommand, "empty command", nil)
	}

	term := f.Terminator
	if term == "" {
		term = CRLF
	}
	return []byte(cmd + term), nil
}

// Unframe decodes a response frame, replacing invalid UTF-8, and trims it.
func (f Framer) Unframe(raw []byte) string {
	return strings.TrimSpace(strings.ToValidUTF8(string(raw), "\uFFFD"))
}
