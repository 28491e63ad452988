// Package sse reads server-sent-event streams: text frames separated by a
// blank line, each carrying an optional event name and one or more data lines.
package sse

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// Frame is one wire frame as received, before any interpretation.
type Frame struct {
	Event    string   // value of the "event:" line, if any
	Data     []string // one entry per "data:" line
	Comments []string // lines starting with ":", diagnostic only
}

// DataString joins the data lines the way the SSE spec mandates.
func (f Frame) DataString() string {
	return strings.Join(f.Data, "\n")
}

// IsEmpty reports whether the frame carries neither an event name nor data.
func (f Frame) IsEmpty() bool {
	return f.Event == "" && len(f.Data) == 0
}

// Scanner splits a stream into frames on blank-line boundaries.
type Scanner struct {
	s     *bufio.Scanner
	frame Frame
}

// NewScanner wraps a response body (or any reader) producing SSE frames.
func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1<<20)
	s.Split(splitFrames)
	return &Scanner{s: s}
}

// Scan advances to the next frame. It returns false at end of stream or on
// read error; check Err afterwards.
func (s *Scanner) Scan() bool {
	for s.s.Scan() {
		f := parseFrame(s.s.Text())
		if f.IsEmpty() && len(f.Comments) == 0 {
			continue
		}
		s.frame = f
		return true
	}
	return false
}

// Frame returns the frame read by the last successful Scan.
func (s *Scanner) Frame() Frame { return s.frame }

// Err returns the first error encountered while reading the stream.
func (s *Scanner) Err() error { return s.s.Err() }

// splitFrames is a bufio.SplitFunc emitting one blank-line-terminated block
// per token. A trailing unterminated block is emitted at EOF.
func splitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return i + 2, data[:i], nil
	}
	if i := bytes.Index(data, []byte("\r\n\r\n")); i >= 0 {
		return i + 4, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// parseFrame parses one block into a Frame. Unknown field names are ignored,
// which also covers malformed lines: a frame never fails to parse.
func parseFrame(block string) Frame {
	var f Frame
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			f.Comments = append(f.Comments, strings.TrimSpace(line[1:]))
			continue
		}
		field, value, found := strings.Cut(line, ":")
		if !found {
			// A bare field name counts as an empty value per the SSE spec.
			field, value = line, ""
		}
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			f.Event = value
		case "data":
			f.Data = append(f.Data, value)
		}
	}
	return f
}
