// Package httpapi is the REST collaborator surface around the sync core:
// create-message, list, conversation, mark-seen and unseen counts. It writes
// through the same MessageStore as the relay and re-broadcasts its writes, so
// both paths stay consistent.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"pairchat/internal/auth"
	"pairchat/internal/domain"
	"pairchat/internal/observability"
	"pairchat/internal/relay"
	"pairchat/internal/repository"
)

type Handler struct {
	store       repository.MessageStore
	broadcaster relay.Broadcaster
	auth        auth.Authenticator
}

func NewHandler(store repository.MessageStore, broadcaster relay.Broadcaster, authenticator auth.Authenticator) *Handler {
	return &Handler{store: store, broadcaster: broadcaster, auth: authenticator}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.Middleware(h.auth))

	r.Post("/messages/{receiverID}", h.CreateMessage)
	r.Get("/messages", h.ListMessages)
	r.Get("/messages/unseen", h.UnseenCounts)
	r.Get("/messages/conversation/{otherID}", h.GetConversation)
	r.Put("/messages/seen/{senderID}", h.MarkSeen)

	return r
}

// CreateMessage POST /api/messages/{receiverID}
func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	receiverID := chi.URLParam(r, "receiverID")

	var req struct {
		Content  string `json:"content"`
		ClientID string `json:"clientId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid json")
		return
	}

	content, err := domain.ValidateSend(receiverID, req.Content)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	msg, err := h.store.Create(r.Context(), userID, receiverID, content)
	if err != nil {
		observability.GetLogger(r.Context()).Error("create message failed", zap.Error(err))
		WriteError(w, http.StatusInternalServerError, "persistence_failed", "message not stored")
		return
	}
	msg.ClientID = req.ClientID

	// Keep live sessions consistent with the REST write
	if payload, err := relay.EncodeEnvelope(relay.EventReceiveMessage, "", msg); err == nil {
		h.broadcaster.Broadcast(r.Context(), []string{receiverID, userID}, payload)
	}

	WriteJSON(w, http.StatusCreated, msg)
}

// ListMessages GET /api/messages?limit=&offset=
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	msgs, err := h.store.ListForUser(r.Context(), userID, limit, offset)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "persistence_failed", "could not list messages")
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	WriteJSON(w, http.StatusOK, msgs)
}

// GetConversation GET /api/messages/conversation/{otherID}
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	otherID := chi.URLParam(r, "otherID")

	msgs, err := h.store.Conversation(r.Context(), userID, otherID)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			WriteJSON(w, http.StatusOK, []domain.Message{})
			return
		}
		WriteError(w, http.StatusInternalServerError, "persistence_failed", "could not load conversation")
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	WriteJSON(w, http.StatusOK, msgs)
}

// MarkSeen PUT /api/messages/seen/{senderID}
func (h *Handler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	senderID := chi.URLParam(r, "senderID")

	updated, err := h.store.MarkSeen(r.Context(), senderID, userID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "persistence_failed", "receipts not stored")
		return
	}

	if payload, err := relay.EncodeEnvelope(relay.EventSeen, "", relay.SeenEvent{
		ReaderID: userID,
		SenderID: senderID,
	}); err == nil {
		h.broadcaster.Broadcast(r.Context(), []string{userID, senderID}, payload)
	}

	WriteJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

// UnseenCounts GET /api/messages/unseen
func (h *Handler) UnseenCounts(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())

	counts, err := h.store.CountUnseen(r.Context(), userID)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "persistence_failed", "could not count unseen")
		return
	}
	WriteJSON(w, http.StatusOK, counts)
}
