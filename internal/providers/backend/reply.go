package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"lingoa/internal/ports"
	"lingoa/internal/stream"
)

type respondRequest struct {
	SessionID  string `json:"session_id"`
	Transcript string `json:"transcript"`
	IsPartial  bool   `json:"is_partial"`
}

// StreamReply opens the SSE reply stream. Closing the returned stream
// cancels the request.
func (c *Client) StreamReply(ctx context.Context, req ports.ReplyRequest) (ports.EnvelopeStream, error) {
	var cancel context.CancelFunc
	if c.cfg.StreamTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.StreamTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	payload, err := json.Marshal(respondRequest{SessionID: req.SessionID, Transcript: req.Transcript})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("encode respond request: %w", err)
	}
	endpoint := "/api/conversation/respond"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build respond request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer cancel()
		defer resp.Body.Close()
		return nil, parseAPIError(resp, endpoint)
	}
	c.logger.Debug("reply stream opened", "session_id", req.SessionID, "transport", "sse")
	return stream.NewSSEStream(&cancelingBody{ReadCloser: resp.Body, cancel: cancel}), nil
}

type cancelingBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelingBody) Close() error {
	b.cancel()
	return b.ReadCloser.Close()
}
