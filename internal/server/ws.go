package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/parlorhq/parlor/internal/history"
	"github.com/parlorhq/parlor/internal/llm"
	"github.com/parlorhq/parlor/internal/preset"
)

// clientFrame is what the browser sends over the chat socket. A frame
// with Type "cancel" aborts the in-flight chat; anything else is a send.
type clientFrame struct {
	Type           string `json:"type,omitempty"`
	Preset         string `json:"preset,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message,omitempty"`
}

// serverFrame is what the gateway streams back. Type is one of
// "content", "thinking", "done", or "error".
type serverFrame struct {
	Type           string `json:"type"`
	Text           string `json:"text,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// chatSocket owns one websocket connection. Gorilla permits one
// concurrent writer, so every outbound frame goes through send().
type chatSocket struct {
	srv  *Server
	conn *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	handle *llm.StreamHandle
}

func (s *Server) handleChatSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	sock := &chatSocket{srv: s, conn: conn}
	sock.readLoop()
}

func (cs *chatSocket) send(f serverFrame) {
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()
	if err := cs.conn.WriteJSON(f); err != nil {
		cs.srv.logger.Debug("websocket write failed", "error", err)
	}
}

func (cs *chatSocket) sendError(msg string) {
	cs.send(serverFrame{Type: "error", Error: msg})
}

// readLoop processes inbound frames until the socket closes. Closing
// the socket cancels any in-flight chat.
func (cs *chatSocket) readLoop() {
	defer func() {
		cs.cancelInFlight()
		cs.conn.Close()
	}()

	for {
		var frame clientFrame
		if err := cs.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cs.srv.logger.Debug("websocket read failed", "error", err)
			}
			return
		}

		switch frame.Type {
		case "cancel":
			cs.cancelInFlight()
		case "", "chat":
			cs.handleSend(frame)
		default:
			cs.sendError("unknown frame type: " + frame.Type)
		}
	}
}

func (cs *chatSocket) cancelInFlight() {
	cs.mu.Lock()
	h := cs.handle
	cs.handle = nil
	cs.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// clearHandle releases the in-flight slot after a terminal callback.
func (cs *chatSocket) clearHandle() {
	cs.mu.Lock()
	cs.handle = nil
	cs.mu.Unlock()
}

func (cs *chatSocket) handleSend(frame clientFrame) {
	// Sends arrive sequentially from the read loop; callbacks only ever
	// clear the handle, so checking up front is race-free.
	cs.mu.Lock()
	busy := cs.handle != nil
	cs.mu.Unlock()
	if busy {
		cs.sendError("a chat is already in flight on this socket")
		return
	}

	if frame.Message == "" {
		cs.sendError("message is required")
		return
	}
	if frame.Preset == "" {
		cs.sendError("preset is required")
		return
	}

	p, err := cs.srv.presets.Get(frame.Preset)
	if err != nil {
		cs.sendError("unknown preset: " + frame.Preset)
		return
	}

	client, err := cs.srv.client(p.Provider)
	if err != nil {
		cs.sendError(err.Error())
		return
	}

	conv, messages, err := cs.srv.prepareTurn(frame, p)
	if err != nil {
		cs.sendError(err.Error())
		return
	}

	req := preset.Apply(p, messages)

	// Assistant output accumulates here so the full reply can be
	// persisted on done.
	var replyMu sync.Mutex
	var content, thinking strings.Builder

	req.OnContent = func(text string) {
		replyMu.Lock()
		content.WriteString(text)
		replyMu.Unlock()
		cs.send(serverFrame{Type: "content", Text: text})
	}
	req.OnThinking = func(text string) {
		replyMu.Lock()
		thinking.WriteString(text)
		replyMu.Unlock()
		cs.send(serverFrame{Type: "thinking", Text: text})
	}
	req.OnDone = func() {
		cs.clearHandle()
		replyMu.Lock()
		replyContent, replyThinking := content.String(), thinking.String()
		replyMu.Unlock()
		if _, err := cs.srv.history.AppendMessage(conv.ID, "assistant", replyContent, replyThinking); err != nil {
			cs.srv.logger.Error("failed to persist assistant reply", "error", err, "conversation", conv.ID)
		}
		cs.send(serverFrame{Type: "done", ConversationID: conv.ID})
	}
	req.OnError = func(err error) {
		cs.clearHandle()
		cs.send(serverFrame{Type: "error", ConversationID: conv.ID, Error: err.Error()})
	}

	// The chat outlives this read-loop iteration; its lifetime is
	// governed by the StreamHandle, not a request context.
	cs.mu.Lock()
	cs.handle = client.Chat(context.Background(), req)
	cs.mu.Unlock()
}

// prepareTurn resolves or creates the conversation, persists the user
// message, and returns the full message sequence for the request.
func (s *Server) prepareTurn(frame clientFrame, p preset.Preset) (history.Conversation, []llm.Message, error) {
	var conv history.Conversation
	var err error

	if frame.ConversationID != "" {
		conv, err = s.history.GetConversation(frame.ConversationID)
		if err != nil {
			return history.Conversation{}, nil, fmt.Errorf("conversation %s: %w", frame.ConversationID, err)
		}
	} else {
		conv, err = s.history.CreateConversation(titleFromMessage(frame.Message), p.ID)
		if err != nil {
			return history.Conversation{}, nil, fmt.Errorf("create conversation: %w", err)
		}
	}

	stored, err := s.history.Messages(conv.ID)
	if err != nil {
		return history.Conversation{}, nil, fmt.Errorf("load messages: %w", err)
	}

	messages := make([]llm.Message, 0, len(stored)+1)
	for _, m := range stored {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: frame.Message})

	if _, err := s.history.AppendMessage(conv.ID, "user", frame.Message, ""); err != nil {
		return history.Conversation{}, nil, fmt.Errorf("persist message: %w", err)
	}
	return conv, messages, nil
}

// titleFromMessage derives a conversation title from its first message.
func titleFromMessage(msg string) string {
	const maxTitle = 60
	title := strings.TrimSpace(msg)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if runes := []rune(title); len(runes) > maxTitle {
		cut := string(runes[:maxTitle])
		if i := strings.LastIndexByte(cut, ' '); i > maxTitle/2 {
			cut = cut[:i]
		}
		title = cut + "…"
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}
