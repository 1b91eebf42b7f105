package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"kotoba.app/nihongo-assistant/internal/auth"
	"kotoba.app/nihongo-assistant/internal/config"
	"kotoba.app/nihongo-assistant/internal/core"
	"kotoba.app/nihongo-assistant/internal/media"
	"kotoba.app/nihongo-assistant/internal/store"
)

// Repeated failed logins from one address trip a cooldown before credentials
// are even checked.
const (
	loginFailureWindow = 15 * time.Minute
	maxLoginFailures   = 5
)

type Handler struct {
	orchestrator *core.Orchestrator
	store        *store.Store
	media        *media.Store
	cfg          *config.Config
	log          zerolog.Logger
}

func NewHandler(orc *core.Orchestrator, st *store.Store, mediaStore *media.Store, cfg *config.Config, log zerolog.Logger) *Handler {
	return &Handler{
		orchestrator: orc,
		store:        st,
		media:        mediaStore,
		cfg:          cfg,
		log:          log.With().Str("component", "api").Logger(),
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	ip := clientIP(r)
	since := time.Now().Add(-loginFailureWindow).UnixMilli()
	failures, err := h.store.CountFailedLogins(ip, since)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to check login failures")
		writeError(w, http.StatusInternalServerError, "Failed to process login")
		return
	}
	if failures >= maxLoginFailures {
		writeError(w, http.StatusTooManyRequests, "Too many failed attempts, try again later")
		return
	}

	if req.Username != h.cfg.AdminUser || !auth.CheckPasswordHash(req.Password, h.cfg.AdminPassHash) {
		if _, err := h.store.AppendLoginLog(req.Username, ip, store.LoginFailure); err != nil {
			h.log.Error().Err(err).Msg("failed to record login failure")
		}
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	if _, err := h.store.AppendLoginLog(req.Username, ip, store.LoginSuccess); err != nil {
		h.log.Error().Err(err).Msg("failed to record login success")
	}

	token, err := auth.GenerateToken(h.cfg.JWTSecret, req.Username)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to generate token")
		writeError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": token})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
