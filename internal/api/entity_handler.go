package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/wnt/chainwatch/internal/ledger"
	"github.com/wnt/chainwatch/internal/registry"
)

const (
	userHeader        = "X-User-ID"
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

// EntityHandler handles registration endpoints
type EntityHandler struct {
	registry *registry.Registry
	ledger   *ledger.Ledger
	logger   zerolog.Logger
}

func NewEntityHandler(r *registry.Registry, l *ledger.Ledger, logger zerolog.Logger) *EntityHandler {
	return &EntityHandler{registry: r, ledger: l, logger: logger}
}

// Register handles POST /api/entities
func (h *EntityHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get(userHeader)
	}

	entity, err := h.registry.Register(r.Context(), registry.RegisterRequest{
		UserID:    req.UserID,
		Chain:     req.Chain,
		Address:   req.Address,
		Label:     req.Label,
		MinAmount: req.MinAmount,
	})
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}

	writeJSON(w, h.logger, http.StatusCreated, entityResponse(*entity))
}

// Remove handles DELETE /api/entities/{id}. The owner comes from the user
// query parameter or the X-User-ID header.
func (h *EntityHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}
	user := requestUser(r)
	if user == "" {
		writeError(w, h.logger, http.StatusBadRequest, "missing_user", "User id is required")
		return
	}

	if err := h.registry.Remove(r.Context(), user, id); err != nil {
		h.writeRegistryError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListForUser handles GET /api/users/{user}/entities
func (h *EntityHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	user := mux.Vars(r)["user"]

	entities, err := h.registry.ListForUser(r.Context(), user)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", user).Msg("Failed to list entities")
		writeError(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to list entities")
		return
	}

	response := make([]EntityResponse, 0, len(entities))
	for _, e := range entities {
		response = append(response, entityResponse(e))
	}
	writeJSON(w, h.logger, http.StatusOK, response)
}

// Alerts handles GET /api/entities/{id}/alerts, visible to the owner only
func (h *EntityHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.entityID(w, r)
	if !ok {
		return
	}

	entity, err := h.registry.Get(r.Context(), id)
	if err != nil || entity.UserID != requestUser(r) {
		writeError(w, h.logger, http.StatusNotFound, "entity_not_found", "Monitored entity not found")
		return
	}

	limit := defaultAlertLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, h.logger, http.StatusBadRequest, "invalid_limit", "Limit must be a positive integer")
			return
		}
		limit = min(n, maxAlertLimit)
	}

	events, err := h.ledger.ForEntity(r.Context(), id, limit)
	if err != nil {
		h.logger.Error().Err(err).Uint("entity_id", id).Msg("Failed to list alerts")
		writeError(w, h.logger, http.StatusInternalServerError, "database_error", "Failed to list alerts")
		return
	}

	response := make([]AlertResponse, 0, len(events))
	for _, e := range events {
		response = append(response, alertResponse(e))
	}
	writeJSON(w, h.logger, http.StatusOK, response)
}

func (h *EntityHandler) entityID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 32)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_id", "Entity id must be a number")
		return 0, false
	}
	return uint(id), true
}

func (h *EntityHandler) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrMissingUser):
		writeError(w, h.logger, http.StatusBadRequest, "missing_user", err.Error())
	case errors.Is(err, registry.ErrUnsupportedChain):
		writeError(w, h.logger, http.StatusBadRequest, "unsupported_chain", err.Error())
	case errors.Is(err, registry.ErrInvalidAddress):
		writeError(w, h.logger, http.StatusBadRequest, "invalid_address", err.Error())
	case errors.Is(err, registry.ErrNegativeThreshold), errors.Is(err, registry.ErrInvalidThreshold):
		writeError(w, h.logger, http.StatusBadRequest, "invalid_min_amount", err.Error())
	case errors.Is(err, registry.ErrDuplicate):
		writeError(w, h.logger, http.StatusConflict, "duplicate", err.Error())
	case errors.Is(err, registry.ErrUserLimit), errors.Is(err, registry.ErrGlobalLimit):
		writeError(w, h.logger, http.StatusTooManyRequests, "limit_reached", err.Error())
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, h.logger, http.StatusNotFound, "entity_not_found", err.Error())
	default:
		h.logger.Error().Err(err).Msg("Registry operation failed")
		writeError(w, h.logger, http.StatusInternalServerError, "internal_error", "Registry operation failed")
	}
}

func requestUser(r *http.Request) string {
	if user := strings.TrimSpace(r.URL.Query().Get("user")); user != "" {
		return user
	}
	return strings.TrimSpace(r.Header.Get(userHeader))
}
