package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// SSEDialer dials the secondary push transport: a long-lived HTTP response
// with Content-Type text/event-stream.
type SSEDialer struct {
	URL    string
	Header http.Header

	// Client must not carry a Timeout; the stream is long-lived. Nil uses
	// a plain client.
	Client *http.Client
}

// Name implements Dialer.
func (d *SSEDialer) Name() string { return "sse" }

// Dial implements Dialer. The request is bound to ctx, so cancelling it
// unblocks a pending Receive and ends the stream.
func (d *SSEDialer) Dial(ctx context.Context) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build sse request: %w", err)
	}
	for k, vs := range d.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := d.Client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sse dial %s: %w", d.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("sse dial %s: unexpected status %d", d.URL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		resp.Body.Close()
		return nil, fmt.Errorf("sse dial %s: unexpected content type %q", d.URL, ct)
	}
	return &sseStream{body: resp.Body, r: bufio.NewReader(resp.Body)}, nil
}

type sseStream struct {
	body io.ReadCloser
	r    *bufio.Reader
}

// Receive parses one SSE event and returns its data payload. Comment lines
// (keepalives) are skipped; event/id/retry fields are ignored because the
// payloads carry their own type discriminator.
func (s *sseStream) Receive(ctx context.Context) (json.RawMessage, error) {
	var data bytes.Buffer
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := s.r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if data.Len() > 0 {
				return json.RawMessage(data.Bytes()), nil
			}
		case strings.HasPrefix(line, ":"):
			// Keepalive comment.
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
