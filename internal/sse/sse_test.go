// ABOUTME: Tests for the SSE codec shared by the HTTP transport and stub service.
// ABOUTME: Covers decode of event/data records, comments, multi-line data, and round-trips.

package sse

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_SingleEvent(t *testing.T) {
	d := NewDecoder(strings.NewReader("event: frame\ndata: {\"x\":1}\n\n"))

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "frame", ev.Name)
	assert.Equal(t, `{"x":1}`, string(ev.Data))

	_, err = d.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDecoder_MultipleEvents(t *testing.T) {
	input := "event: session\ndata: {\"sessionId\":\"s-1\"}\n\nevent: frame\ndata: {}\n\n"
	d := NewDecoder(strings.NewReader(input))

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "session", ev.Name)

	ev, err = d.Next()
	require.NoError(t, err)
	assert.Equal(t, "frame", ev.Name)
}

func TestDecoder_MultiLineData(t *testing.T) {
	d := NewDecoder(strings.NewReader("data: line one\ndata: line two\n\n"))

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", string(ev.Data))
}

func TestDecoder_SkipsComments(t *testing.T) {
	d := NewDecoder(strings.NewReader(": keep-alive\n\nevent: end\ndata: {}\n\n"))

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "end", ev.Name)
}

func TestDecoder_DeliversTrailingEventWithoutBlankLine(t *testing.T) {
	d := NewDecoder(strings.NewReader("event: frame\ndata: {}"))

	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "frame", ev.Name)

	_, err = d.Next()
	assert.Equal(t, io.EOF, err)
}

func TestDecoder_EmptyStreamIsEOF(t *testing.T) {
	d := NewDecoder(strings.NewReader(""))

	_, err := d.Next()
	assert.Equal(t, io.EOF, err)
}

func TestWrite_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, "frame", []byte("first\nsecond")))

	d := NewDecoder(&buf)
	ev, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "frame", ev.Name)
	assert.Equal(t, "first\nsecond", string(ev.Data))
}
