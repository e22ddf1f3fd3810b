// ABOUTME: Minimal Server-Sent-Events codec shared by the HTTP transport and the stub service.
// ABOUTME: Decodes event/data records line-wise and encodes events with a trailing blank line.

package sse

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Event is one decoded SSE record.
type Event struct {
	Name string
	Data []byte
}

// Decoder reads SSE records from a stream. It tolerates comment lines and
// multi-line data fields; id and retry fields are ignored.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps a reader, typically an HTTP response body.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	// Frames can carry sizeable payloads; raise the line limit well past the
	// bufio default.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: scanner}
}

// Next returns the next event. io.EOF signals a clean end of stream.
func (d *Decoder) Next() (Event, error) {
	var name string
	var dataLines []string

	for d.scanner.Scan() {
		line := d.scanner.Text()

		switch {
		case line == "":
			// Blank line dispatches the accumulated event, if any.
			if len(dataLines) > 0 || name != "" {
				return Event{Name: name, Data: []byte(strings.Join(dataLines, "\n"))}, nil
			}

		case strings.HasPrefix(line, ":"):
			// Comment / keep-alive

		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))

		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	if len(dataLines) > 0 || name != "" {
		// Stream ended without the trailing blank line; deliver what we have.
		return Event{Name: name, Data: []byte(strings.Join(dataLines, "\n"))}, nil
	}
	return Event{}, io.EOF
}

// Write encodes one event to w. Data containing newlines is split across
// multiple data: lines per the SSE format.
func Write(w io.Writer, name string, data []byte) error {
	var buf bytes.Buffer
	if name != "" {
		fmt.Fprintf(&buf, "event: %s\n", name)
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		fmt.Fprintf(&buf, "data: %s\n", line)
	}
	buf.WriteByte('\n')

	_, err := w.Write(buf.Bytes())
	return err
}
