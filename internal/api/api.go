// Package api exposes the sync engine over HTTP. Request identity comes from
// the X-Participant-Id and X-Participant-Role headers; each identity gets its
// own viewer with an isolated session, registry and timeline.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lcastillo/vitrina/internal/chat"
	"github.com/lcastillo/vitrina/internal/notify"
	"github.com/lcastillo/vitrina/internal/store"
)

// Server routes HTTP and websocket traffic to per-viewer engine state.
type Server struct {
	db         *store.DB
	dispatcher notify.Dispatcher
	logger     *zap.Logger
	validate   *validator.Validate

	mu      sync.Mutex
	viewers map[string]*Viewer
}

func NewServer(db *store.DB, dispatcher notify.Dispatcher, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		db:         db,
		dispatcher: dispatcher,
		logger:     logger,
		validate:   validator.New(),
		viewers:    make(map[string]*Viewer),
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Participant-Id", "X-Participant-Role"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/conversations", s.handleListConversations)
		r.Post("/conversations", s.handleCreateConversation)
		r.Delete("/conversations/{id}", s.handleDeleteConversation)
		r.Post("/conversations/{id}/read", s.handleMarkRead)
		r.Get("/conversations/{id}/messages", s.handleListMessages)
		r.Post("/conversations/{id}/messages", s.handleSendMessage)
		r.Get("/ws", s.handleWS)
	})

	return r
}

// Close tears down all viewer state.
func (s *Server) Close() {
	s.closeViewers()
}

// identity resolves the caller's viewer from the request headers.
func (s *Server) identity(r *http.Request) (*Viewer, error) {
	participantID := r.Header.Get("X-Participant-Id")
	role := chat.Role(r.Header.Get("X-Participant-Role"))
	if participantID == "" {
		return nil, &chat.ValidationError{Field: "X-Participant-Id", Reason: "required"}
	}
	if !role.Valid() {
		return nil, &chat.ValidationError{Field: "X-Participant-Role", Reason: "must be customer or business"}
	}
	return s.viewerFor(participantID, role)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	v, err := s.identity(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	summaries, err := v.Reg.List()
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]conversationSummary, 0, len(summaries))
	for _, sm := range summaries {
		out = append(out, summaryDTO(sm))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	v, err := s.identity(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req createConversationRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	conv, err := v.Reg.GetOrCreate(req.CustomerID, req.BusinessID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, conversationDTO(conv))
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	v, err := s.identity(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := v.Reg.Delete(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	v, err := s.identity(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := v.RS.MarkConversationRead(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListMessages opens the conversation for the caller. Opening marks it
// read and switches the viewer's live subscription to this conversation.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	v, err := s.identity(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := v.TL.Open(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]messageEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryDTO(e))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	v, err := s.identity(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req sendMessageRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	id := chi.URLParam(r, "id")
	if !v.Sess.Viewing(id) {
		if _, err := v.TL.Open(id); err != nil {
			s.writeError(w, err)
			return
		}
	}
	entry, err := v.TL.Send(id, req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, entryDTO(entry))
}

func (s *Server) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &chat.ValidationError{Field: "body", Reason: "invalid JSON"}
	}
	if err := s.validate.Struct(dst); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return err
		}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &chat.ValidationError{Field: verrs[0].Field(), Reason: verrs[0].Tag()}
		}
		return err
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var (
		verr *chat.ValidationError
		perr *chat.PermissionError
		nerr *chat.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
	case errors.As(err, &perr):
		status = http.StatusForbidden
	case errors.As(err, &nerr):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
