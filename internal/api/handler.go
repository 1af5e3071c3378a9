// Package api exposes the coaching service over HTTP. The surface is
// deliberately thin: conversation creation and chat turns drive the pipeline;
// administrative CRUD for users and prompts lives in a separate service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/avantifellows/curiosity-coach/internal/pipeline"
	"github.com/avantifellows/curiosity-coach/internal/store"
	"github.com/avantifellows/curiosity-coach/internal/visit"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	engine  *pipeline.Engine
	storage pipeline.Storage
	logger  *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(engine *pipeline.Engine, storage pipeline.Storage, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, storage: storage, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)
		r.Post("/conversations", h.createConversation)
		r.Get("/conversations/{id}", h.getConversation)
		r.Post("/conversations/{id}/messages", h.postMessage)
		r.Get("/conversations/{id}/messages", h.listMessages)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "curiosity-coach"})
}

type createConversationRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

func (h *Handler) createConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}

	res, err := h.engine.StartConversation(r.Context(), req.UserID, req.Title)
	if err != nil {
		if errors.Is(err, visit.ErrConcurrencyExhausted) {
			// Concurrent creations kept winning the visit slot; the client can
			// simply try again.
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":     "could not assign visit number, please retry",
				"retryable": true,
			})
			return
		}
		h.logger.Error("create conversation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) getConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, err := h.storage.GetConversation(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
			return
		}
		h.logger.Error("get conversation failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	v, err := h.storage.GetVisit(r.Context(), id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("get visit failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": conv, "visit": v})
}

type postMessageRequest struct {
	Content string `json:"content"`
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "content is required"})
		return
	}

	turn, err := h.engine.Respond(r.Context(), id, req.Content)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
			return
		}
		h.logger.Error("respond failed", zap.String("conversation_id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msgs, err := h.storage.GetMessages(r.Context(), id, 0)
	if err != nil {
		h.logger.Error("list messages failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
