package device

import (
	"bytes"
	"encoding/json"
	"io"
)

// eventStream incrementally parses a text/event-stream body. Reads are
// bounded by the deadline on the request context that produced the
// body, so callers control timeouts through that context.
type eventStream struct {
	body io.ReadCloser
	buf  []byte
	done bool
}

func newEventStream(body io.ReadCloser) *eventStream {
	return &eventStream{body: body}
}

func (s *eventStream) Close() error {
	return s.body.Close()
}

// nextData returns the data payload of the next event that carries one.
// Comment-only keepalive events are skipped. io.EOF means the stream
// ended cleanly without another data event.
func (s *eventStream) nextData() ([]byte, error) {
	for {
		if event, rest, ok := splitEvent(s.buf); ok {
			s.buf = rest
			if data := eventData(event); len(data) > 0 {
				return data, nil
			}
			continue
		}
		if s.done {
			return nil, io.EOF
		}

		chunk := make([]byte, 4096)
		n, err := s.body.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err == io.EOF {
			s.done = true
			continue
		}
		if err != nil {
			return nil, err
		}
	}
}

// splitEvent finds the first complete event (terminated by a blank
// line) in buf.
func splitEvent(buf []byte) (event, rest []byte, ok bool) {
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		if i := bytes.Index(buf, sep); i >= 0 {
			return buf[:i], buf[i+len(sep):], true
		}
	}
	return nil, buf, false
}

// eventData concatenates the values of all data: lines in an event.
func eventData(event []byte) []byte {
	var data [][]byte
	for _, line := range bytes.Split(event, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		value := bytes.TrimPrefix(line, []byte("data:"))
		value = bytes.TrimPrefix(value, []byte(" "))
		data = append(data, value)
	}
	return bytes.Join(data, []byte("\n"))
}

// correlate reads events from the stream until it finds a JSON-RPC
// message whose id matches and which the terminal predicate accepts.
// Non-matching messages and notifications are skipped.
func correlate(stream *eventStream, id json.RawMessage, terminal func(*Response) bool) (*Response, error) {
	for {
		data, err := stream.nextData()
		if err == io.EOF {
			return nil, ErrNoResult
		}
		if err != nil {
			return nil, err
		}

		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue // non-JSON keepalive or unrelated frame
		}
		if len(resp.ID) == 0 || !idEqual(resp.ID, id) {
			continue // notification or response to another request
		}

		r := &Response{Result: resp.Result, Error: resp.Error}
		if terminal(r) {
			return r, nil
		}
	}
}

// idEqual compares two JSON-RPC ids by value, tolerating formatting
// differences like "1" vs 1-with-whitespace.
func idEqual(a, b json.RawMessage) bool {
	var av, bv any
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return bytes.Equal(a, b)
	}
	aj, _ := json.Marshal(av)
	bj, _ := json.Marshal(bv)
	return bytes.Equal(aj, bj)
}
