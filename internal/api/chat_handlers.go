package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"kotoba.app/nihongo-assistant/internal/core"
	"kotoba.app/nihongo-assistant/internal/media"
	"kotoba.app/nihongo-assistant/internal/store"
)

type sendChatRequest struct {
	Message      string `json:"message"`
	Image        string `json:"image"` // data URL
	CustomPrompt string `json:"customPrompt"`
}

type sendChatResponse struct {
	Response       string            `json:"response"`
	Usage          *store.UsageStats `json:"usage,omitempty"`
	UserMessageID  string            `json:"userMessageId"`
	ModelMessageID string            `json:"modelMessageId"`
	ImagePath      string            `json:"imagePath,omitempty"`
}

func (h *Handler) SendChat(w http.ResponseWriter, r *http.Request) {
	var req sendChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.orchestrator.ProcessTurn(r.Context(), core.TurnRequest{
		Message:      req.Message,
		ImageDataURL: req.Image,
		CustomPrompt: req.CustomPrompt,
	})
	if err != nil {
		h.writeChatError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sendChatResponse{
		Response:       result.Text,
		Usage:          result.Usage,
		UserMessageID:  result.UserMessageID,
		ModelMessageID: result.ModelMessageID,
		ImagePath:      result.ImagePath,
	})
}

// writeChatError maps the orchestrator's error taxonomy to responses. Safety
// rejections get their own user-facing message instead of a generic failure.
func (h *Handler) writeChatError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, "Message or image required")
	case errors.Is(err, core.ErrSafetyFiltered):
		writeError(w, http.StatusInternalServerError, "内容被安全过滤器屏蔽，请尝试调整输入。")
	case errors.Is(err, core.ErrEmptyResponse):
		h.log.Error().Err(err).Msg("model produced no content")
		writeError(w, http.StatusInternalServerError, "AI 未生成任何有效内容，可能是因为违反了安全策略或受到了干扰。")
	default:
		h.log.Error().Err(err).Msg("chat exchange failed")
		writeError(w, http.StatusInternalServerError, "AI 服务出错: "+err.Error())
	}
}

func (h *Handler) ChatHistory(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", -1)

	messages, total, err := h.store.ListChatHistory(page, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list chat history")
		writeError(w, http.StatusInternalServerError, "Failed to fetch chat history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  messages,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

func (h *Handler) ChatImage(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	path, err := h.media.Resolve(filename)
	switch {
	case errors.Is(err, media.ErrInvalidName):
		writeError(w, http.StatusBadRequest, "Invalid filename")
		return
	case errors.Is(err, media.ErrNotFound):
		writeError(w, http.StatusNotFound, "Image not found")
		return
	case err != nil:
		h.log.Error().Err(err).Str("filename", filename).Msg("failed to resolve image")
		writeError(w, http.StatusInternalServerError, "Failed to serve image")
		return
	}
	http.ServeFile(w, r, path)
}

// DeleteChat removes a message and, when it referenced an uploaded image,
// the stored file as well.
func (h *Handler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	msg, err := h.store.GetChatMessage(id)
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("failed to load chat message")
		writeError(w, http.StatusInternalServerError, "Failed to delete message")
		return
	}

	deleted, err := h.store.DeleteChatMessage(id)
	if err != nil {
		h.log.Error().Err(err).Str("id", id).Msg("failed to delete chat message")
		writeError(w, http.StatusInternalServerError, "Failed to delete message")
		return
	}

	if deleted && msg != nil && msg.ImagePath != nil {
		if err := h.media.Remove(*msg.ImagePath); err != nil {
			h.log.Warn().Err(err).Str("filename", *msg.ImagePath).Msg("failed to remove media file")
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return value
}
