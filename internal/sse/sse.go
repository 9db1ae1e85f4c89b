// Package sse decodes the cloud chat endpoint's text/event-stream replies:
// data: lines carrying JSON chunks with deltas, authoritative content, and
// terminal error or done markers.
package sse

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ErrorCode classifies stream failures for the caller.
type ErrorCode string

const (
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeRateLimited  ErrorCode = "RATE_LIMITED"
	CodeAPIError     ErrorCode = "API_ERROR"
	CodeNoBody       ErrorCode = "NO_BODY"
	CodeNetworkError ErrorCode = "NETWORK_ERROR"
	CodeTimeout      ErrorCode = "TIMEOUT"
	CodeBlocked      ErrorCode = "BLOCKED"
	CodeStreamError  ErrorCode = "STREAM_ERROR"
)

// StreamError is the terminal failure surfaced by a stream.
type StreamError struct {
	Code       ErrorCode
	Message    string
	Status     int
	RetryAfter int // seconds, rate-limit errors only
}

// Callbacks receive decoded stream events. Nil callbacks are skipped.
type Callbacks struct {
	// OnDelta fires once per incremental text fragment.
	OnDelta func(delta string)
	// OnComplete fires once with the final content: the last
	// authoritative content if the server sent one, otherwise the
	// accumulated deltas.
	OnComplete func(content string)
	// OnError fires once on a terminal stream failure.
	OnError func(err StreamError)
}

// chunk is the wire shape of one data: payload. Pointer fields distinguish
// absent from empty.
type chunk struct {
	Content    *string `json:"content"`
	Delta      *string `json:"delta"`
	Done       bool    `json:"done"`
	Error      *string `json:"error"`
	Status     int     `json:"status"`
	Blocked    bool    `json:"blocked"`
	RetryAfter int     `json:"retryAfter"`
}

// Decoder is a push parser for event-stream bytes. Feed it raw chunks as
// they arrive off the wire; it buffers partial lines across calls and only
// JSON-parses complete ones.
type Decoder struct {
	cb         Callbacks
	buf        bytes.Buffer
	deltas     strings.Builder
	content    string
	hasContent bool
	finished   bool
}

func NewDecoder(cb Callbacks) *Decoder {
	return &Decoder{cb: cb}
}

// Finished reports whether a done or error chunk has closed the stream.
func (d *Decoder) Finished() bool { return d.finished }

// Feed consumes raw stream bytes. Incomplete trailing lines stay buffered
// until the newline arrives.
func (d *Decoder) Feed(p []byte) {
	if d.finished {
		return
	}
	d.buf.Write(p)
	for {
		line, err := d.buf.ReadString('\n')
		if err != nil {
			// No newline yet: keep the partial line for the next chunk.
			d.buf.Reset()
			d.buf.WriteString(line)
			return
		}
		d.handleLine(strings.TrimRight(line, "\r\n"))
		if d.finished {
			return
		}
	}
}

// Close marks the end of the stream. Without a done chunk the last-known
// content, or failing that the delta accumulation, still completes.
func (d *Decoder) Close() {
	if d.finished {
		return
	}
	d.finished = true
	d.complete()
}

// handleLine interprets one complete line. Everything except data: lines
// is ignored: empty lines, comments, event:, id:, and retry: fields.
func (d *Decoder) handleLine(line string) {
	if !strings.HasPrefix(line, "data:") {
		return
	}
	payload := strings.TrimPrefix(line, "data:")
	payload = strings.TrimPrefix(payload, " ")
	if payload == "" || payload == "[DONE]" {
		return
	}

	var c chunk
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		// Malformed JSON is skipped silently; the stream goes on.
		return
	}

	if c.Error != nil {
		code := CodeStreamError
		if c.Blocked {
			code = CodeBlocked
		}
		d.finished = true
		d.fail(StreamError{Code: code, Message: *c.Error, Status: c.Status, RetryAfter: c.RetryAfter})
		return
	}

	if c.Delta != nil {
		d.deltas.WriteString(*c.Delta)
		if d.cb.OnDelta != nil {
			d.cb.OnDelta(*c.Delta)
		}
	}
	if c.Content != nil {
		d.content = *c.Content
		d.hasContent = true
	}
	if c.Done {
		d.finished = true
		d.complete()
	}
}

func (d *Decoder) complete() {
	content := d.content
	if !d.hasContent {
		content = d.deltas.String()
	}
	if d.cb.OnComplete != nil {
		d.cb.OnComplete(content)
	}
}

func (d *Decoder) fail(err StreamError) {
	if d.cb.OnError != nil {
		d.cb.OnError(err)
	}
}
