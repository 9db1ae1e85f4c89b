package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
)

// HTTPClient abstracts HTTP calls for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Stream posts a JSON body to an event-stream endpoint and feeds the
// response through a Decoder. HTTP and transport failures surface through
// cb.OnError; the caller's own cancellation is not an error.
func Stream(ctx context.Context, client HTTPClient, url, bearer string, body interface{}, cb Callbacks) error {
	dec := NewDecoder(cb)

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding stream request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		code := CodeNetworkError
		if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			code = CodeTimeout
		}
		dec.fail(StreamError{Code: code, Message: err.Error()})
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		dec.fail(httpError(resp))
		return nil
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		dec.fail(StreamError{Code: CodeNoBody, Message: "response has no body", Status: resp.StatusCode})
		return nil
	}

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			if dec.Finished() {
				return nil
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			dec.Close()
			return nil
		}
	}
}

func httpError(resp *http.Response) StreamError {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return StreamError{Code: CodeUnauthorized, Message: "authentication rejected", Status: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 0
		if v := resp.Header.Get("Retry-After"); v != "" {
			retryAfter, _ = strconv.Atoi(v)
		}
		return StreamError{Code: CodeRateLimited, Message: "rate limited", Status: resp.StatusCode, RetryAfter: retryAfter}
	default:
		return StreamError{Code: CodeAPIError, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode), Status: resp.StatusCode}
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
