package llm

import (
	"log/slog"
	"strings"
	"time"

	"github.com/parlorhq/parlor/internal/httpkit"
)

// New constructs a chat client for the configured provider. The
// provider id "anthropic" selects the Anthropic Messages adapter; every
// other id — including unrecognized ones — gets the OpenAI-compatible
// adapter, since that is the protocol local gateways overwhelmingly
// speak.
//
// The configuration is copied and immutable from here on. Callers that
// change credentials or URLs construct a new client and discard the old
// one.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	var adapter wireAdapter
	switch cfg.Provider {
	case "anthropic":
		adapter = newAnthropicAdapter(cfg)
	default:
		adapter = newOpenAIAdapter(cfg)
	}

	// Thinking models can sit silent for a long time before sending
	// headers. Use a generous response header timeout and no overall
	// timeout; ctx cancellation bounds long-lived streams.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &Client{
		cfg:     cfg,
		adapter: adapter,
		logger:  logger.With("provider", cfg.Provider),
		retrier: httpkit.NewRetrier(logger),
		http: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
}
