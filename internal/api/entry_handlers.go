package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"kotoba.app/nihongo-assistant/internal/store"
)

// Vocabulary and grammar listings share the same pagination, filter and sort
// surface.

func listQueryFromRequest(r *http.Request) store.ListQuery {
	q := r.URL.Query()
	return store.ListQuery{
		Page:   queryInt(r, "page", 1),
		Limit:  queryInt(r, "limit", 20),
		Offset: queryInt(r, "offset", -1),
		SortBy: q.Get("sortBy"),
		Order:  q.Get("sort"),
		Filter: q.Get("filter"),
	}
}

type starRequest struct {
	Starred *bool `json:"starred"`
}

type learnedRequest struct {
	Learned *bool `json:"learned"`
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil
}

func (h *Handler) ListVocab(w http.ResponseWriter, r *http.Request) {
	q := listQueryFromRequest(r)
	entries, total, err := h.store.ListVocabularies(q)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list vocabularies")
		writeError(w, http.StatusInternalServerError, "Failed to fetch vocabulary")
		return
	}
	q.Normalize()
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"total": total,
		"page":  q.Page,
		"limit": q.Limit,
	})
}

// StarVocab sets the flag when the body carries one, otherwise toggles it.
func (h *Handler) StarVocab(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	var req starRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // empty body means toggle

	var entry *store.Vocabulary
	var err error
	if req.Starred != nil {
		entry, err = h.store.SetVocabularyStarred(id, *req.Starred)
	} else {
		entry, err = h.store.ToggleVocabularyStarred(id)
	}
	if err != nil {
		h.log.Error().Err(err).Int64("id", id).Msg("failed to star vocabulary")
		writeError(w, http.StatusInternalServerError, "Failed to update vocabulary")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "Vocabulary not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entry})
}

func (h *Handler) LearnedVocab(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	var req learnedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Learned == nil {
		writeError(w, http.StatusBadRequest, "learned flag is required")
		return
	}

	entry, err := h.store.SetVocabularyLearned(id, *req.Learned)
	if err != nil {
		h.log.Error().Err(err).Int64("id", id).Msg("failed to update vocabulary learned flag")
		writeError(w, http.StatusInternalServerError, "Failed to update vocabulary")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "Vocabulary not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entry})
}

func (h *Handler) DeleteVocab(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}
	deleted, err := h.store.DeleteVocabulary(id)
	if err != nil {
		h.log.Error().Err(err).Int64("id", id).Msg("failed to delete vocabulary")
		writeError(w, http.StatusInternalServerError, "Failed to delete vocabulary")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (h *Handler) ListGrammar(w http.ResponseWriter, r *http.Request) {
	q := listQueryFromRequest(r)
	entries, total, err := h.store.ListGrammars(q)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list grammars")
		writeError(w, http.StatusInternalServerError, "Failed to fetch grammars")
		return
	}
	q.Normalize()
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  entries,
		"total": total,
		"page":  q.Page,
		"limit": q.Limit,
	})
}

func (h *Handler) StarGrammar(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	var req starRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	var entry *store.Grammar
	var err error
	if req.Starred != nil {
		entry, err = h.store.SetGrammarStarred(id, *req.Starred)
	} else {
		entry, err = h.store.ToggleGrammarStarred(id)
	}
	if err != nil {
		h.log.Error().Err(err).Int64("id", id).Msg("failed to star grammar")
		writeError(w, http.StatusInternalServerError, "Failed to update grammar")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "Grammar not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entry})
}

func (h *Handler) LearnedGrammar(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}

	var req learnedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Learned == nil {
		writeError(w, http.StatusBadRequest, "learned flag is required")
		return
	}

	entry, err := h.store.SetGrammarLearned(id, *req.Learned)
	if err != nil {
		h.log.Error().Err(err).Int64("id", id).Msg("failed to update grammar learned flag")
		writeError(w, http.StatusInternalServerError, "Failed to update grammar")
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "Grammar not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entry})
}

func (h *Handler) DeleteGrammar(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return
	}
	deleted, err := h.store.DeleteGrammar(id)
	if err != nil {
		h.log.Error().Err(err).Int64("id", id).Msg("failed to delete grammar")
		writeError(w, http.StatusInternalServerError, "Failed to delete grammar")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}
