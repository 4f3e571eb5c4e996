package stream

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"sync"

	"lingoa/internal/domain"
)

type sseFrame struct {
	Event string
	Data  []byte
}

type sseParser struct {
	reader *bufio.Reader
}

func newSSEParser(r io.Reader) *sseParser {
	return &sseParser{reader: bufio.NewReader(r)}
}

// Next returns the next dispatched frame, or io.EOF once the body ends.
func (p *sseParser) Next() (sseFrame, error) {
	var eventType string
	var dataLines []string

	flush := func() (sseFrame, error) {
		if len(dataLines) == 0 && eventType == "" {
			return sseFrame{}, io.EOF
		}
		return sseFrame{Event: eventType, Data: []byte(strings.Join(dataLines, "\n"))}, nil
	}

	for {
		line, err := p.reader.ReadString('\n')
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return sseFrame{}, err
		}

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		switch {
		case line == "":
			if len(dataLines) == 0 && eventType == "" {
				if eof {
					return sseFrame{}, io.EOF
				}
				continue
			}
			return sseFrame{Event: eventType, Data: []byte(strings.Join(dataLines, "\n"))}, nil
		case strings.HasPrefix(line, ":"):
		default:
			field, value := splitSSEField(line)
			switch field {
			case "event":
				eventType = value
			case "data":
				dataLines = append(dataLines, value)
			}
		}

		if eof {
			return flush()
		}
	}
}

func splitSSEField(line string) (field string, value string) {
	index := strings.IndexByte(line, ':')
	if index < 0 {
		return line, ""
	}
	field = line[:index]
	value = line[index+1:]
	if strings.HasPrefix(value, " ") {
		value = value[1:]
	}
	return field, value
}

// SSEStream decodes reply envelopes from a text/event-stream body.
type SSEStream struct {
	body      io.ReadCloser
	parser    *sseParser
	closeOnce sync.Once
	closed    chan struct{}
}

func NewSSEStream(body io.ReadCloser) *SSEStream {
	return &SSEStream{body: body, parser: newSSEParser(body), closed: make(chan struct{})}
}

// Next returns io.EOF at the end of the body. A frame that cannot be
// decoded yields an error wrapping ErrMalformedEnvelope; the stream stays
// usable.
func (s *SSEStream) Next() (domain.StreamEnvelope, error) {
	for {
		frame, err := s.parser.Next()
		if err != nil {
			select {
			case <-s.closed:
				return domain.StreamEnvelope{}, io.EOF
			default:
			}
			return domain.StreamEnvelope{}, err
		}
		data := strings.TrimSpace(string(frame.Data))
		if data == "" || data == "[DONE]" {
			continue
		}
		return DecodeEnvelope(frame.Event, []byte(data))
	}
}

func (s *SSEStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.body.Close()
	})
	return err
}
