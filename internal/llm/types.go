// Package llm implements the provider-abstracted streaming chat client.
//
// One concrete [Client] drives every provider; the differences between
// wire protocols (OpenAI-compatible chat completions vs the Anthropic
// Messages API) live behind the wireAdapter interface. Callers construct
// a client via [New], issue requests with [Client.Chat], and receive
// tokens through per-request callbacks.
package llm

import "log/slog"

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Effort selects how much reasoning budget a thinking-capable model gets.
type Effort string

// Thinking effort tiers.
const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// thinkingBudget maps an effort tier to a provider token budget.
func thinkingBudget(e Effort) int {
	switch e {
	case EffortLow:
		return 8192
	case EffortHigh:
		return 32768
	default:
		return 16384
	}
}

// Message is one chat turn. Content carries plain text; Parts, when
// non-nil, carries multi-part content (text and images) instead and
// takes precedence over Content.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
}

// Part is one element of multi-part message content.
type Part struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image, typically as a data: URL.
type ImageURL struct {
	URL string `json:"url"`
}

// Text returns the textual content of a message, flattening text parts
// when multi-part content is present.
func (m Message) Text() string {
	if m.Parts == nil {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

// ChatRequest describes one chat invocation. The client reads Messages
// once to build the wire body and never mutates it.
//
// All four callbacks are optional. They are invoked strictly
// sequentially from a single goroutine, in decode order. Exactly one of
// OnDone or OnError fires per request — or neither, when the request
// was cancelled through its [StreamHandle].
type ChatRequest struct {
	Model    string
	Messages []Message

	// Temperature is the sampling temperature. When nil, providers that
	// need a value get 0.7; providers that prefer omission (Anthropic)
	// omit the field.
	Temperature *float64

	// Thinking requests the provider's reasoning channel. Effort
	// defaults to medium when empty.
	Thinking bool
	Effort   Effort

	OnContent  func(text string)
	OnThinking func(text string)
	OnDone     func()
	OnError    func(err error)
}

// ModelRecord describes one model from a provider's discovery endpoint.
type ModelRecord struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	Created int64  `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// Config is the provider configuration baked into a client at
// construction. It is immutable for the client's lifetime: a settings
// change means discarding the client and constructing a new one.
type Config struct {
	// Provider selects the wire protocol. "anthropic" speaks the
	// Anthropic Messages API; any other value (including "openai") is
	// OpenAI-compatible.
	Provider string

	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	// Trailing slashes are stripped at construction.
	BaseURL string

	// APIKey is optional; local gateways often need none.
	APIKey string

	// Streaming selects SSE streaming vs a single JSON response.
	// Token granularity differs; callback behavior does not.
	Streaming bool
}

// event is a decoded wire event, the adapter→client vocabulary.
// Malformed payload lines decode to no events at all, never to errors.
type event struct {
	kind eventKind
	text string
}

type eventKind int

const (
	eventContent eventKind = iota
	eventThinking
	eventDone
)
