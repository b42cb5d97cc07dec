package devices

import "strings"

const maxLineLength = 1024

// LineAccumulator reassembles scale output into lines. Only printable
// ASCII survives; a line is emitted on '\r' or '\n' when it is non-empty
// after trimming.
type LineAccumulator struct {
	buf []byte
}

// Feed consumes one byte and returns a completed line, if any.
func (a *LineAccumulator) Feed(b byte) (string, bool) {
	if b == '\r' || b == '\n' {
		line := strings.TrimSpace(string(a.buf))
		a.buf = a.buf[:0]
		return line, line != ""
	}

	if b > 0x7f {
		return "", false
	}

	if len(a.buf) >= maxLineLength {
		// unterminated garbage; keep the tail
		a.buf = append(a.buf[:0], a.buf[len(a.buf)-maxLineLength/2:]...)
	}
	a.buf = append(a.buf, b)
	return "", false
}

func (a *LineAccumulator) Pending() int {
	return len(a.buf)
}

func (a *LineAccumulator) Reset() {
	a.buf = a.buf[:0]
}

// SplitLines feeds a whole chunk and returns every completed line.
func (a *LineAccumulator) SplitLines(chunk []byte) []string {
	var out []string
	for _, b := range chunk {
		if line, ok := a.Feed(b); ok {
			out = append(out, line)
		}
	}
	return out
}
