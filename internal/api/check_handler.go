package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/wnt/chainwatch/internal/check"
	"github.com/wnt/chainwatch/internal/models"
)

// CheckHandler handles ad-hoc address checks
type CheckHandler struct {
	checker Checker
	logger  zerolog.Logger
}

func NewCheckHandler(checker Checker, logger zerolog.Logger) *CheckHandler {
	return &CheckHandler{checker: checker, logger: logger}
}

// Check handles GET /api/check/{chain}/{address}
func (h *CheckHandler) Check(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	result, err := h.checker.CheckAddress(r.Context(), vars["chain"], vars["address"])
	switch {
	case err == nil:
		writeJSON(w, h.logger, http.StatusOK, result)
	case errors.Is(err, models.ErrUnsupportedChain), errors.Is(err, check.ErrChainDisabled):
		writeError(w, h.logger, http.StatusBadRequest, "unsupported_chain", err.Error())
	case errors.Is(err, models.ErrInvalidAddress):
		writeError(w, h.logger, http.StatusBadRequest, "invalid_address", err.Error())
	default:
		h.logger.Warn().Err(err).Str("chain", vars["chain"]).Str("address", vars["address"]).Msg("Address check failed")
		writeError(w, h.logger, http.StatusBadGateway, "upstream_error", "Failed to read chain activity")
	}
}
