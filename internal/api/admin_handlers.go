package api

import (
	"net/http"
	"strconv"
)

type tokenStatsResponse struct {
	TotalTokens      int64 `json:"totalTokens"`
	PromptTokens     int64 `json:"promptTokens"`
	CandidatesTokens int64 `json:"candidatesTokens"`
	ThoughtsTokens   int64 `json:"thoughtsTokens"`
	CachedTokens     int64 `json:"cachedTokens"`
	ToolPromptTokens int64 `json:"toolPromptTokens"`
	Count            int   `json:"count"`
}

// TokenStats aggregates the stored per-message token accounting over a time
// range.
func (h *Handler) TokenStats(w http.ResponseWriter, r *http.Request) {
	start, errStart := strconv.ParseInt(r.URL.Query().Get("startDate"), 10, 64)
	end, errEnd := strconv.ParseInt(r.URL.Query().Get("endDate"), 10, 64)
	if errStart != nil || errEnd != nil {
		writeError(w, http.StatusBadRequest, "Invalid start or end date")
		return
	}

	stats, count, err := h.store.UsageBetween(start, end)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to fetch usage stats")
		writeError(w, http.StatusInternalServerError, "Failed to fetch token stats")
		return
	}

	resp := tokenStatsResponse{Count: count}
	for _, u := range stats {
		resp.TotalTokens += int64(u.TotalTokenCount)
		resp.PromptTokens += int64(u.PromptTokenCount)
		resp.CandidatesTokens += int64(u.CandidatesTokenCount)
		resp.ThoughtsTokens += int64(u.ThoughtsTokenCount)
		resp.CachedTokens += int64(u.CachedContentTokenCount)
		resp.ToolPromptTokens += int64(u.ToolUsePromptTokenCount)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) LoginLogs(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	logs, total, err := h.store.ListLoginLogs(page, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to fetch login logs")
		writeError(w, http.StatusInternalServerError, "Failed to fetch login logs")
		return
	}

	totalPages := total / limit
	if total%limit != 0 {
		totalPages++
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":       logs,
		"total":      total,
		"page":       page,
		"limit":      limit,
		"totalPages": totalPages,
	})
}
