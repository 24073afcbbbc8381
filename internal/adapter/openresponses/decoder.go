package openresponses

import (
	"bytes"
	"strings"
)

// Decoder incrementally extracts "data: " payloads from a Server-Sent-Events
// byte stream. Network reads split frames at arbitrary byte boundaries,
// including mid-UTF-8-sequence, so the decoder buffers partial lines and only
// emits payloads once their terminating newline has arrived.
type Decoder struct {
	buf []byte
}

const dataPrefix = "data: "

// Feed appends p to the internal buffer and returns the payloads of all
// complete "data: " lines now available, in stream order. Lines without the
// data prefix (comments, blank keep-alives, other SSE fields) are dropped.
func (d *Decoder) Feed(p []byte) []string {
	d.buf = append(d.buf, p...)

	var frames []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return frames
		}
		line := string(d.buf[:i])
		d.buf = d.buf[i+1:]

		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		frames = append(frames, strings.TrimSpace(line[len(dataPrefix):]))
	}
}

// Pending reports whether an unterminated partial line is buffered.
func (d *Decoder) Pending() bool {
	return len(d.buf) > 0
}
