package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/parlorhq/parlor/internal/httpkit"
)

// Client is a chat client for one configured provider. All provider
// differences live in the adapter; the orchestration here — retrying
// transport, SSE decode loop, callback dispatch, cancellation — is
// identical for every provider.
//
// A Client is safe for concurrent use. Concurrent Chat invocations are
// fully independent: each gets its own retry state, its own stream
// parser, and its own cancellation context.
type Client struct {
	cfg     Config
	adapter wireAdapter
	http    *http.Client
	retrier *httpkit.Retrier
	logger  *slog.Logger
}

// StreamHandle is the cancellation capability for one chat invocation.
type StreamHandle struct {
	cancel context.CancelFunc
}

// Cancel aborts the in-flight request. The request's OnDone and OnError
// callbacks will not fire after cancellation takes effect. Calling
// Cancel after completion, or more than once, is a no-op.
func (h *StreamHandle) Cancel() { h.cancel() }

// Provider returns the configured provider id.
func (c *Client) Provider() string { return c.cfg.Provider }

// Chat starts a chat request and returns its handle synchronously; all
// network activity happens on a background goroutine afterward. The
// caller must not assume any callback has fired by the time Chat
// returns. ctx bounds the whole request and may be nil.
func (c *Client) Chat(ctx context.Context, req ChatRequest) *StreamHandle {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &StreamHandle{cancel: cancel}

	go c.run(ctx, cancel, req)
	return h
}

// run drives one invocation to its single terminal outcome: OnDone on
// success, OnError on failure, neither on cancellation.
func (c *Client) run(ctx context.Context, cancel context.CancelFunc, req ChatRequest) {
	defer cancel()

	err := c.doChat(ctx, &req)
	switch {
	case err == nil:
		if req.OnDone != nil {
			req.OnDone()
		}
	case httpkit.IsCancellation(err) || ctx.Err() != nil:
		// Caller-initiated; the caller already knows it cancelled.
		c.logger.Debug("chat cancelled", "model", req.Model)
	default:
		c.logger.Error("chat failed", "model", req.Model, "error", err)
		if req.OnError != nil {
			req.OnError(err)
		}
	}
}

func (c *Client) doChat(ctx context.Context, req *ChatRequest) error {
	stream := c.cfg.Streaming

	body, err := c.adapter.buildBody(req, stream)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("sending chat request",
		"model", req.Model,
		"messages", len(req.Messages),
		"stream", stream,
		"thinking", req.Thinking,
	)
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(payload))

	url := c.cfg.BaseURL + c.adapter.chatPath()

	// Retries happen only here, before any token has been delivered.
	// A fresh body reader per attempt; attempts are sequential.
	resp, err := c.retrier.Do(ctx, func() (*http.Response, error) {
		httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if reqErr != nil {
			return nil, reqErr
		}
		c.adapter.setHeaders(httpReq.Header)
		if stream {
			httpReq.Header.Set("Accept", "text/event-stream")
		}
		return c.http.Do(httpReq)
	})
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		return fmt.Errorf("%s API error %d: %s", c.adapter.name(), resp.StatusCode, errBody)
	}

	if !stream {
		return c.handleNonStreaming(ctx, resp.Body, req)
	}
	return c.handleStreaming(ctx, resp.Body, req)
}

// handleStreaming decodes SSE payloads through a per-stream parser and
// dispatches events in decode order. The body is closed on every exit
// path so the connection is never left dangling.
func (c *Client) handleStreaming(ctx context.Context, body io.ReadCloser, req *ChatRequest) error {
	defer body.Close()

	parser := c.adapter.newPayloadParser()
	err := readDataLines(body, func(payload string) bool {
		for _, ev := range parser.parseLine(payload) {
			switch ev.kind {
			case eventContent:
				if req.OnContent != nil {
					req.OnContent(ev.text)
				}
			case eventThinking:
				if req.OnThinking != nil {
					req.OnThinking(ev.text)
				}
			case eventDone:
				return true
			}
		}
		return false
	})
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// handleNonStreaming reads the single JSON response and emits the
// thinking blob (if any) then the content blob through the same
// callbacks, so both modes look identical to the caller apart from
// token granularity.
func (c *Client) handleNonStreaming(ctx context.Context, body io.ReadCloser, req *ChatRequest) error {
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "response payload", "json", string(data))

	thinking, content, err := c.adapter.parseResponse(data)
	if err != nil {
		return err
	}
	if thinking != "" && req.OnThinking != nil {
		req.OnThinking(thinking)
	}
	if content != "" && req.OnContent != nil {
		req.OnContent(content)
	}
	return nil
}

// Verify reports whether the provider endpoint and credentials are
// usable. It never returns an error; any failure is false.
func (c *Client) Verify(ctx context.Context) bool {
	return c.adapter.verify(ctx, c)
}

// ListModels returns the provider's available models. Unlike Verify it
// surfaces hard failures as errors.
func (c *Client) ListModels(ctx context.Context) ([]ModelRecord, error) {
	return c.adapter.listModels(ctx, c)
}

// get issues a GET against the provider with adapter headers applied.
func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.adapter.setHeaders(httpReq.Header)
	return c.http.Do(httpReq)
}
