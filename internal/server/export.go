package server

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/parlorhq/parlor/internal/history"
	"github.com/yuin/goldmark"
)

// handleConversationExport renders a conversation as a standalone HTML
// transcript. Message bodies are markdown and go through goldmark;
// thinking sections are folded into <details> blocks.
func (s *Server) handleConversationExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := s.history.GetConversation(id)
	if errors.Is(err, history.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		s.logger.Error("conversation export failed", "error", err, "id", id)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	msgs, err := s.history.Messages(id)
	if err != nil {
		s.logger.Error("conversation export failed", "error", err, "id", id)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	doc, err := renderTranscript(conv, msgs)
	if err != nil {
		s.logger.Error("transcript render failed", "error", err, "id", id)
		s.errorResponse(w, http.StatusInternalServerError, "failed to render transcript")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(conv)))
	fmt.Fprint(w, doc)
}

func exportFilename(conv history.Conversation) string {
	return fmt.Sprintf("conversation-%.8s.html", conv.ID)
}

func renderTranscript(conv history.Conversation, msgs []history.Message) (string, error) {
	var body strings.Builder

	fmt.Fprintf(&body, "<h1>%s</h1>\n", html.EscapeString(conv.Title))
	fmt.Fprintf(&body, "<p class=\"meta\">%s · %d messages</p>\n",
		conv.CreatedAt.Format("2006-01-02 15:04 MST"), len(msgs))

	for _, m := range msgs {
		rendered, err := markdownToHTML(m.Content)
		if err != nil {
			return "", fmt.Errorf("render message %s: %w", m.ID, err)
		}

		fmt.Fprintf(&body, "<section class=%q>\n<h2>%s</h2>\n", m.Role, html.EscapeString(roleLabel(m.Role)))
		if m.Thinking != "" {
			fmt.Fprintf(&body, "<details><summary>Thinking</summary><pre>%s</pre></details>\n",
				html.EscapeString(m.Thinking))
		}
		body.WriteString(rendered)
		body.WriteString("</section>\n")
	}

	doc := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title>
<style>
body { font-family: sans-serif; font-size: 15px; line-height: 1.5; max-width: 48em; margin: 2em auto; padding: 0 1em; }
section { border-top: 1px solid #ddd; padding: 0.5em 0; }
section.user h2 { color: #246; }
section.assistant h2 { color: #262; }
h2 { font-size: 0.9em; text-transform: uppercase; letter-spacing: 0.05em; }
details pre { background: #f6f6f6; padding: 0.5em; white-space: pre-wrap; }
.meta { color: #888; }
</style></head>
<body>
%s</body></html>`, html.EscapeString(conv.Title), body.String())

	return doc, nil
}

func roleLabel(role string) string {
	switch role {
	case "user":
		return "You"
	case "assistant":
		return "Assistant"
	default:
		return role
	}
}

func markdownToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
