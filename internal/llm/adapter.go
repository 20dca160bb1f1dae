package llm

import (
	"context"
	"net/http"
)

// wireAdapter translates between the uniform request/event model and one
// provider's native JSON and SSE shapes. Adapters are stateless; stream
// decoding state lives in the payloadParser created per request.
type wireAdapter interface {
	// name is the provider family for logging ("openai", "anthropic").
	name() string

	// chatPath is the chat endpoint path appended to the base URL.
	chatPath() string

	// buildBody produces the provider JSON body for a chat request.
	buildBody(req *ChatRequest, stream bool) (any, error)

	// setHeaders stamps provider auth and protocol headers.
	setHeaders(h http.Header)

	// newPayloadParser returns a fresh parser for one SSE stream.
	newPayloadParser() payloadParser

	// parseResponse extracts thinking and content text from a complete
	// non-streaming response body.
	parseResponse(body []byte) (thinking, content string, err error)

	// listModels queries (or fabricates) the provider's model list.
	listModels(ctx context.Context, c *Client) ([]ModelRecord, error)

	// verify reports whether the provider endpoint and credentials are
	// usable. Best-effort; must not panic or hang beyond ctx.
	verify(ctx context.Context, c *Client) bool
}

// payloadParser decodes one SSE data payload into zero or more events.
// Implementations never fail: a payload that is not valid JSON, or JSON
// of an unexpected shape, yields no events. Parsers may be stateful
// across lines of a single stream.
type payloadParser interface {
	parseLine(payload string) []event
}
