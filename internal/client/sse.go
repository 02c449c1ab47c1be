package client

import (
	"bufio"
	"io"
	"strings"
)

// event is one server-sent event.
type event struct {
	Name string
	Data string
}

// eventReader splits a text/event-stream body into events. Comment lines
// are skipped and multiple data lines are joined with "\n".
type eventReader struct {
	r *bufio.Reader
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{r: bufio.NewReader(r)}
}

// Next returns the next complete event, or the read error (io.EOF when the
// stream ends).
func (er *eventReader) Next() (event, error) {
	var ev event
	var data []string
	seen := false
	for {
		line, err := er.r.ReadString('\n')
		if err != nil {
			return event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if !seen {
				continue
			}
			ev.Data = strings.Join(data, "\n")
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
			seen = true
		case "data":
			data = append(data, value)
			seen = true
		}
	}
}
