package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/chatqd/chatqd/internal/log"
	"github.com/chatqd/chatqd/internal/store"
)

// chatsHandler serves the chat history CRUD endpoints.
type chatsHandler struct {
	store  *store.Store
	logger log.Logger
}

// list returns all stored chats, newest first.
func (h *chatsHandler) list(w http.ResponseWriter, r *http.Request) {
	chats, err := h.store.List()
	if err != nil {
		h.logger.Error("failed to list chats", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "failed to list chats", h.logger)
		return
	}
	if chats == nil {
		chats = []store.Chat{}
	}
	writeJSON(w, http.StatusOK, chats, h.logger)
}

// get returns one chat by ID.
func (h *chatsHandler) get(w http.ResponseWriter, r *http.Request) {
	chat, err := h.store.Get(r.PathValue("chat_id"))
	if err != nil {
		if errors.Is(err, store.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "chat not found", h.logger)
			return
		}
		h.logger.Error("failed to get chat", "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "failed to get chat", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, chat, h.logger)
}

// create stores a new chat. An absent ID is generated server-side.
func (h *chatsHandler) create(w http.ResponseWriter, r *http.Request) {
	var chat store.Chat
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	if err := decodeJSON(r, &chat); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	if chat.ID == "" {
		chat.ID = uuid.New().String()
	}

	if err := h.store.Create(chat); err != nil {
		h.logger.Error("failed to create chat", "chat_id", chat.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create chat", h.logger)
		return
	}

	created, err := h.store.Get(chat.ID)
	if err != nil {
		h.logger.Error("failed to reload created chat", "chat_id", chat.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "create_failed", "failed to create chat", h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, created, h.logger)
}

// update replaces a stored chat.
func (h *chatsHandler) update(w http.ResponseWriter, r *http.Request) {
	var chat store.Chat
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	if err := decodeJSON(r, &chat); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	chat.ID = r.PathValue("chat_id")

	if err := h.store.Update(chat); err != nil {
		if errors.Is(err, store.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "chat not found", h.logger)
			return
		}
		h.logger.Error("failed to update chat", "chat_id", chat.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "update_failed", "failed to update chat", h.logger)
		return
	}

	updated, err := h.store.Get(chat.ID)
	if err != nil {
		h.logger.Error("failed to reload updated chat", "chat_id", chat.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "update_failed", "failed to update chat", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, updated, h.logger)
}

// remove deletes a chat by ID.
func (h *chatsHandler) remove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("chat_id")
	if err := h.store.Delete(id); err != nil {
		if errors.Is(err, store.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "chat not found", h.logger)
			return
		}
		h.logger.Error("failed to delete chat", "chat_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "failed to delete chat", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"}, h.logger)
}
