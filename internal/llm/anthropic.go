package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

const (
	anthropicAPIVersion = "2023-06-01"

	// anthropicMaxTokens is the fixed completion cap. The Messages API
	// rejects requests without max_tokens.
	anthropicMaxTokens = 8192
)

// anthropicFallbackModel is returned by listModels: Anthropic exposes no
// discovery endpoint, so a single known model stands in.
var anthropicFallbackModel = ModelRecord{
	ID:      "claude-sonnet-4-20250514",
	Object:  "model",
	OwnedBy: "anthropic",
}

// dataURLPattern matches base64 data: URLs, capturing media type and payload.
var dataURLPattern = regexp.MustCompile(`^data:([^;,]+);base64,(.+)$`)

// anthropicAdapter speaks the Anthropic Messages API. The request shape
// differs from OpenAI in three load-bearing ways: system prompts are a
// top-level field rather than messages, image content is inline base64
// rather than URLs, and streamed output arrives as typed content blocks
// whose kind is established at block start rather than per delta.
type anthropicAdapter struct {
	apiKey string
}

func newAnthropicAdapter(cfg Config) *anthropicAdapter {
	return &anthropicAdapter{apiKey: cfg.APIKey}
}

func (a *anthropicAdapter) name() string     { return "anthropic" }
func (a *anthropicAdapter) chatPath() string { return "/messages" }

func (a *anthropicAdapter) setHeaders(h http.Header) {
	h.Set("Content-Type", "application/json")
	h.Set("anthropic-version", anthropicAPIVersion)
	// Allows browser-hosted frontends to call the API through this
	// backend's configuration without CORS preflight rejection.
	h.Set("anthropic-dangerous-direct-browser-access", "true")
	if a.apiKey != "" {
		h.Set("x-api-key", a.apiKey)
	}
}

// Anthropic request/response types

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Thinking    *thinkingParam     `json:"thinking,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []anthropicPart
}

type anthropicPart struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicStreamEvent struct {
	Type         string `json:"type"`
	ContentBlock *struct {
		Type string `json:"type"`
	} `json:"content_block"`
	Delta *struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"delta"`
}

type anthropicResponse struct {
	Content []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"content"`
}

func (a *anthropicAdapter) buildBody(req *ChatRequest, stream bool) (any, error) {
	msgs, system := convertToAnthropic(req.Messages)

	body := anthropicRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   anthropicMaxTokens,
		Stream:      stream,
		System:      system,
		Temperature: req.Temperature,
	}

	if req.Thinking {
		effort := req.Effort
		if effort == "" {
			effort = EffortMedium
		}
		body.Thinking = &thinkingParam{
			Type:         "enabled",
			BudgetTokens: thinkingBudget(effort),
		}
	}

	return body, nil
}

// convertToAnthropic maps uniform messages to Anthropic wire messages.
// System-role messages are extracted and newline-joined into the
// top-level system prompt; the Messages API has no system role.
func convertToAnthropic(messages []Message) ([]anthropicMessage, string) {
	var systemParts []string
	var result []anthropicMessage

	for _, msg := range messages {
		if msg.Role == "system" {
			systemParts = append(systemParts, msg.Text())
			continue
		}

		result = append(result, anthropicMessage{
			Role:    msg.Role,
			Content: anthropicContent(msg),
		})
	}

	return result, strings.Join(systemParts, "\n")
}

// anthropicContent converts message content. Image parts must be
// base64 data: URLs; any that are not are dropped. A conversion that
// yields zero parts becomes an empty string — the API rejects empty
// content arrays but accepts empty strings.
func anthropicContent(msg Message) any {
	if msg.Parts == nil {
		return msg.Content
	}

	var parts []anthropicPart
	for _, p := range msg.Parts {
		switch p.Type {
		case "text":
			parts = append(parts, anthropicPart{Type: "text", Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			m := dataURLPattern.FindStringSubmatch(p.ImageURL.URL)
			if m == nil {
				continue
			}
			parts = append(parts, anthropicPart{
				Type: "image",
				Source: &anthropicSource{
					Type:      "base64",
					MediaType: m[1],
					Data:      m[2],
				},
			})
		}
	}

	if len(parts) == 0 {
		return ""
	}
	return parts
}

func (a *anthropicAdapter) newPayloadParser() payloadParser {
	return &anthropicStreamParser{}
}

// anthropicStreamParser tracks the current content block's type across
// lines of one stream. Deltas frequently omit an explicit type, relying
// on the type declared at content_block_start.
type anthropicStreamParser struct {
	blockType string
}

func (p *anthropicStreamParser) parseLine(payload string) []event {
	var ev anthropicStreamEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil
	}

	switch ev.Type {
	case "content_block_start":
		if ev.ContentBlock != nil {
			p.blockType = ev.ContentBlock.Type
		}

	case "content_block_delta":
		if ev.Delta == nil {
			return nil
		}
		switch {
		case ev.Delta.Type == "thinking_delta" || p.blockType == "thinking":
			return []event{{kind: eventThinking, text: ev.Delta.Thinking}}
		case ev.Delta.Type == "text_delta" || p.blockType == "text":
			return []event{{kind: eventContent, text: ev.Delta.Text}}
		}

	case "content_block_stop":
		p.blockType = ""

	case "message_stop":
		return []event{{kind: eventDone}}
	}

	return nil
}

func (a *anthropicAdapter) parseResponse(body []byte) (string, string, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", fmt.Errorf("decode response: %w", err)
	}

	var thinking, content string
	for _, block := range resp.Content {
		switch block.Type {
		case "thinking":
			if thinking == "" {
				thinking = block.Thinking
			}
		case "text":
			if content == "" {
				content = block.Text
			}
		}
	}
	return thinking, content, nil
}

// listModels returns the hardcoded fallback: Anthropic has no public
// model discovery endpoint.
func (a *anthropicAdapter) listModels(ctx context.Context, c *Client) ([]ModelRecord, error) {
	return []ModelRecord{anthropicFallbackModel}, nil
}

// verify succeeds iff listModels is non-empty. With a hardcoded list
// this is a sanity no-op rather than a real probe; an accepted
// limitation of the provider, not something to paper over.
func (a *anthropicAdapter) verify(ctx context.Context, c *Client) bool {
	models, err := a.listModels(ctx, c)
	return err == nil && len(models) > 0
}
