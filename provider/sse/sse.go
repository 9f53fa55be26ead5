// Package sse extracts server-sent events from a chunked byte stream.
//
// It is a pure transport utility: Feed takes the unparsed remainder of the
// stream plus a newly received chunk and returns the complete events along
// with the new remainder. Providers layer their wire formats on top.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Done is the end-of-stream sentinel some providers send as a data payload.
// It is surfaced to callers like any other event, never filtered here.
const Done = "[DONE]"

// Event is one parsed server-sent event. Type is the value of the last
// "event:" field within the event, empty when none was present.
type Event struct {
	Type string
	Data string
}

// Feed appends chunk to the unparsed buffer, extracts every complete event,
// and returns them together with the remaining partial tail. The tail must
// be passed back as buffer on the next call.
//
// Parsing rules:
//   - CRLF is normalized to LF before scanning.
//   - Events are separated by a blank line.
//   - "event:" sets the event type; a single space after the colon is
//     stripped.
//   - "data:" lines contribute to the payload; multiple data lines are
//     joined with LF.
//   - Lines starting with ":" are comments (keepalives) and ignored.
//   - An event without any data line is skipped.
func Feed(buffer, chunk string) ([]Event, string) {
	buf := strings.ReplaceAll(buffer+chunk, "\r\n", "\n")

	// A trailing CR may be the first half of a CRLF split across chunks;
	// keep it in the buffer so the next Feed can normalize the pair.
	var held string
	if strings.HasSuffix(buf, "\r") {
		held = "\r"
		buf = buf[:len(buf)-1]
	}

	parts := strings.Split(buf, "\n\n")
	rest := parts[len(parts)-1] + held

	var events []Event
	for _, raw := range parts[:len(parts)-1] {
		if ev, ok := parseEvent(raw); ok {
			events = append(events, ev)
		}
	}
	return events, rest
}

// parseEvent parses one blank-line-delimited event block. ok is false when
// the block carries no data lines.
func parseEvent(raw string) (Event, bool) {
	var ev Event
	var data []string
	for _, line := range strings.Split(raw, "\n") {
		switch {
		case strings.HasPrefix(line, ":"):
			// Comment / keepalive.
		case strings.HasPrefix(line, "event:"):
			ev.Type = stripFieldSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data = append(data, stripFieldSpace(line[len("data:"):]))
		}
	}
	if len(data) == 0 {
		return Event{}, false
	}
	ev.Data = strings.Join(data, "\n")
	return ev, true
}

// stripFieldSpace removes the single optional space after a field colon.
func stripFieldSpace(s string) string {
	if strings.HasPrefix(s, " ") {
		return s[1:]
	}
	return s
}

// Scanner folds an io.Reader into events via Feed, for providers consuming
// HTTP response bodies.
type Scanner struct {
	r       *bufio.Reader
	buffer  string
	pending []Event
	err     error
}

// NewScanner wraps r for event-by-event reading.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r)}
}

// Next returns the next event. It returns io.EOF once the stream ends and
// no complete event remains buffered.
func (s *Scanner) Next() (Event, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.err != nil {
			return Event{}, s.err
		}

		chunk := make([]byte, 4096)
		n, err := s.r.Read(chunk)
		if n > 0 {
			s.pending, s.buffer = Feed(s.buffer, string(chunk[:n]))
		}
		if err != nil {
			s.err = err
			// A final event not terminated by a blank line is still
			// deliverable once the stream has ended.
			if tail, ok := parseEvent(s.buffer); ok {
				s.buffer = ""
				s.pending = append(s.pending, tail)
			}
		}
	}
}
