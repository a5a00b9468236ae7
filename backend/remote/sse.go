package remote

import (
	"bufio"
	"io"
	"strings"
)

// maxEventSize bounds one SSE line; a snapshot is sent as a single data line
const maxEventSize = 16 << 20

// event is one server-sent event
type event struct {
	Name string
	Data string
}

// eventReader parses a text/event-stream body
type eventReader struct {
	scanner *bufio.Scanner
}

func newEventReader(r io.Reader) *eventReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxEventSize)
	return &eventReader{scanner: scanner}
}

// Next returns the next dispatched event. Comments are skipped and
// multiple data lines are joined with newlines.
func (er *eventReader) Next() (event, error) {
	var ev event
	var data []string
	for er.scanner.Scan() {
		line := er.scanner.Text()
		if line == "" {
			if len(data) == 0 && ev.Name == "" {
				continue
			}
			ev.Data = strings.Join(data, "\n")
			if ev.Name == "" {
				ev.Name = "message"
			}
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
		case "data":
			data = append(data, value)
		}
	}
	if err := er.scanner.Err(); err != nil {
		return event{}, err
	}
	return event{}, io.EOF
}
