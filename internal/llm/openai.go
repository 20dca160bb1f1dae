package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/parlorhq/parlor/internal/httpkit"
)

// openAIAdapter speaks the OpenAI chat completions protocol. It also
// serves every OpenAI-compatible gateway (OpenRouter, vLLM, llama.cpp,
// LM Studio, ...), which is why the thinking parameter has two shapes:
// only api.openai.com understands reasoning_effort, while compatible
// gateways generally imitate the budget_tokens convention instead.
type openAIAdapter struct {
	providerID string
	apiKey     string
}

func newOpenAIAdapter(cfg Config) *openAIAdapter {
	return &openAIAdapter{
		providerID: cfg.Provider,
		apiKey:     cfg.APIKey,
	}
}

func (a *openAIAdapter) name() string     { return "openai" }
func (a *openAIAdapter) chatPath() string { return "/chat/completions" }

func (a *openAIAdapter) setHeaders(h http.Header) {
	h.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		h.Set("Authorization", "Bearer "+a.apiKey)
	}
}

// OpenAI request/response types

type openAIRequest struct {
	Model           string          `json:"model"`
	Messages        []openAIMessage `json:"messages"`
	Temperature     float64         `json:"temperature"`
	Stream          bool            `json:"stream"`
	ReasoningEffort string          `json:"reasoning_effort,omitempty"`
	Thinking        *thinkingParam  `json:"thinking,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []openAIPart
}

type openAIPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// thinkingParam is the budget-token thinking shape shared by Anthropic
// and most OpenAI-compatible gateways.
type thinkingParam struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content          string `json:"content"`
			Thinking         string `json:"thinking"`
			Reasoning        string `json:"reasoning"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"delta"`
	} `json:"choices"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
}

func (a *openAIAdapter) buildBody(req *ChatRequest, stream bool) (any, error) {
	msgs := make([]openAIMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openAIMessage{Role: m.Role, Content: openAIContent(m)})
	}

	temperature := 0.7
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	body := openAIRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: temperature,
		Stream:      stream,
	}

	if req.Thinking {
		effort := req.Effort
		if effort == "" {
			effort = EffortMedium
		}
		if a.providerID == "openai" {
			body.ReasoningEffort = string(effort)
		} else {
			body.Thinking = &thinkingParam{
				Type:         "enabled",
				BudgetTokens: thinkingBudget(effort),
			}
		}
	}

	return body, nil
}

// openAIContent maps message content to the wire shape: a plain string,
// or an array of typed parts when the message is multi-part.
func openAIContent(m Message) any {
	if m.Parts == nil {
		return m.Content
	}
	parts := make([]openAIPart, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case "text":
			parts = append(parts, openAIPart{Type: "text", Text: p.Text})
		case "image_url":
			if p.ImageURL != nil {
				parts = append(parts, openAIPart{Type: "image_url", ImageURL: p.ImageURL})
			}
		}
	}
	return parts
}

func (a *openAIAdapter) newPayloadParser() payloadParser {
	return openAIStreamParser{}
}

// openAIStreamParser is stateless: every chunk carries its own delta.
type openAIStreamParser struct{}

func (openAIStreamParser) parseLine(payload string) []event {
	var chunk openAIStreamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return nil // keepalives and gateway noise are not errors
	}
	if len(chunk.Choices) == 0 {
		return nil
	}

	delta := chunk.Choices[0].Delta
	var events []event
	if delta.Content != "" {
		events = append(events, event{kind: eventContent, text: delta.Content})
	}

	// Gateways disagree on the reasoning field name; take the first
	// populated one in priority order.
	thinking := delta.Thinking
	if thinking == "" {
		thinking = delta.Reasoning
	}
	if thinking == "" {
		thinking = delta.ReasoningContent
	}
	if thinking != "" {
		events = append(events, event{kind: eventThinking, text: thinking})
	}
	return events
}

func (a *openAIAdapter) parseResponse(body []byte) (string, string, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", "", fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", "", fmt.Errorf("response has no choices")
	}
	msg := resp.Choices[0].Message
	return msg.ReasoningContent, msg.Content, nil
}

// listModels fetches GET {base}/models. Responses in an unexpected
// shape return an empty list rather than an error — discovery against
// loose gateway implementations is best-effort.
func (a *openAIAdapter) listModels(ctx context.Context, c *Client) ([]ModelRecord, error) {
	resp, err := c.get(ctx, "/models")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("list models: API error %d: %s",
			resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 1024))
	}

	var result struct {
		Data []ModelRecord `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return []ModelRecord{}, nil
	}
	if result.Data == nil {
		return []ModelRecord{}, nil
	}
	return result.Data, nil
}

// verify probes GET {base}/models and succeeds on any ok status,
// regardless of body shape.
func (a *openAIAdapter) verify(ctx context.Context, c *Client) bool {
	resp, err := c.get(ctx, "/models")
	if err != nil {
		return false
	}
	httpkit.DrainAndClose(resp.Body, 4096)
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
