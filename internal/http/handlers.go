// Package http exposes the triage API: chat creation, message submission,
// single-turn advancement, and a completion event stream for the clinic
// dashboard.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"clinicai-triage/internal/core"
	"clinicai-triage/internal/db"
	"clinicai-triage/pkg"
)

// Notifier publishes and streams triage completion events.
type Notifier interface {
	NotifyCompletion(ctx context.Context, chatID string, status pkg.Status) error
	Listen(ctx context.Context) (<-chan db.CompletionEvent, error)
}

// Server bundles the dependencies required by the HTTP handlers.
type Server struct {
	store      db.Store
	orch       *core.Orchestrator
	notifier   Notifier
	llmTimeout time.Duration
	locks      *chatLocks
}

// NewServer constructs a Server.  llmTimeout bounds the model call inside one
// advance cycle; a timed-out cycle still produces a valid fallback state.
func NewServer(store db.Store, orch *core.Orchestrator, notifier Notifier, llmTimeout time.Duration) *Server {
	return &Server{
		store:      store,
		orch:       orch,
		notifier:   notifier,
		llmTimeout: llmTimeout,
		locks:      newChatLocks(),
	}
}

// Router builds the chi router with the API routes and standard middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))

	r.Route("/api/chats", func(r chi.Router) {
		r.Post("/", s.handleCreateChat)
		r.Get("/", s.handleListChats)
		r.Delete("/", s.handleDeleteAll)
		r.Get("/stream", s.handleCompletionStream)
		r.Route("/{chatID}", func(r chi.Router) {
			r.Get("/", s.handleGetChat)
			r.Get("/messages", s.handleGetMessages)
			r.Post("/messages", s.handleSendUserMessage)
			r.Post("/advance", s.handleAdvance)
		})
	})
	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// handleCreateChat creates a new conversation with an empty session state.
func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req pkg.CreateChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "Nova triagem"
	}

	chat, err := s.store.CreateChat(r.Context(), title)
	if err != nil {
		slog.Error("create chat", "error", err)
		Error(w, http.StatusInternalServerError, "failed to create chat")
		return
	}
	JSON(w, http.StatusCreated, map[string]interface{}{
		"chat_id":  chat.ID,
		"title":    chat.Title,
		"creation": chat.CreatedAt,
	})
}

// handleListChats returns previews of all chats.
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	previews, err := s.store.ListChats(r.Context())
	if err != nil {
		slog.Error("list chats", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	if previews == nil {
		previews = []pkg.ChatPreview{}
	}
	JSON(w, http.StatusOK, previews)
}

// handleGetChat returns the full chat document.
func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chat, ok := s.loadChat(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, chat)
}

// handleGetMessages returns the transcript only.
func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	chat, ok := s.loadChat(w, r)
	if !ok {
		return
	}
	messages := chat.State.Messages
	if messages == nil {
		messages = []pkg.Message{}
	}
	JSON(w, http.StatusOK, messages)
}

// handleSendUserMessage appends a user message to an open chat.
func (s *Server) handleSendUserMessage(w http.ResponseWriter, r *http.Request) {
	var input pkg.MessageInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(input.Text) == "" {
		Error(w, http.StatusBadRequest, "message text cannot be empty")
		return
	}

	chatID := chi.URLParam(r, "chatID")
	unlock := s.locks.lock(chatID)
	defer unlock()

	chat, ok := s.loadChat(w, r)
	if !ok {
		return
	}
	if chat.State.IsCompleted {
		Error(w, http.StatusConflict, "triage already completed")
		return
	}

	msg := chat.State.AppendMessage(pkg.SenderUser, input.Text)
	if err := s.store.SaveState(r.Context(), chat.ID, chat.State); err != nil {
		slog.Error("save state", "chat_id", chat.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"message_id": msg.ID})
}

// handleAdvance runs exactly one orchestrator cycle and persists the result.
// Concurrent advances of the same chat are serialized by the per-chat lock;
// re-advancing a completed chat is idempotent.
func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	unlock := s.locks.lock(chatID)
	defer unlock()

	chat, ok := s.loadChat(w, r)
	if !ok {
		return
	}
	wasCompleted := chat.State.IsCompleted

	// The timeout bounds the model call; a timed-out cycle yields the
	// fallback state, never a partial one.
	ctx, cancel := context.WithTimeout(r.Context(), s.llmTimeout)
	defer cancel()
	outcome := s.orch.RunTurn(ctx, chat.State)

	if err := s.store.SaveState(r.Context(), chat.ID, outcome.State); err != nil {
		slog.Error("save state", "chat_id", chat.ID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to save state")
		return
	}

	if outcome.Terminal && !wasCompleted {
		if err := s.notifier.NotifyCompletion(r.Context(), chat.ID, outcome.State.Status); err != nil {
			slog.Error("notify completion", "chat_id", chat.ID, "error", err)
		}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"agent_message": outcome.AgentMessage,
		"is_completed":  outcome.State.IsCompleted,
		"status":        outcome.State.Status,
	})
}

// handleCompletionStream streams triage completion events over SSE until the
// client disconnects.
func (s *Server) handleCompletionStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	events, err := s.notifier.Listen(r.Context())
	if err != nil {
		slog.Error("listen completions", "error", err)
		Error(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("encode completion event", "error", err)
			continue
		}
		if _, err := io.WriteString(w, "data: "+string(data)+"\n\n"); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleDeleteAll wipes every chat.  Administrative endpoint.
func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAll(r.Context()); err != nil {
		slog.Error("delete all chats", "error", err)
		Error(w, http.StatusInternalServerError, "failed to delete chats")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "all chats deleted"})
}

// loadChat fetches the chat from the URL parameter, writing the HTTP error
// itself when the load fails.
func (s *Server) loadChat(w http.ResponseWriter, r *http.Request) (*pkg.Chat, bool) {
	chatID := chi.URLParam(r, "chatID")
	chat, err := s.store.GetChat(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			Error(w, http.StatusNotFound, fmt.Sprintf("chat %s not found", chatID))
		} else {
			slog.Error("load chat", "chat_id", chatID, "error", err)
			Error(w, http.StatusInternalServerError, "failed to load chat")
		}
		return nil, false
	}
	return chat, true
}
