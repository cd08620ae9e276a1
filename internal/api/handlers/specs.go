package handlers

import (
	"net/http"
	"strconv"

	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/pkg/logger"
)

// SpecHandler serves the strategy leaderboard.
type SpecHandler struct {
	registry contracts.Registry
	logger   *logger.Logger
}

// NewSpecHandler creates a spec handler
func NewSpecHandler(registry contracts.Registry, log *logger.Logger) *SpecHandler {
	return &SpecHandler{registry: registry, logger: log}
}

// Best returns specs ranked by their latest result in a phase.
// GET /api/specs/best?phase=screen&metric=sharpe&limit=20&passed=true
func (h *SpecHandler) Best(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	phase := contracts.Phase(q.Get("phase"))
	switch phase {
	case "":
		phase = contracts.PhaseValidate
	case contracts.PhaseScreen, contracts.PhaseValidate, contracts.PhaseLive:
	default:
		respondError(w, http.StatusBadRequest, "Invalid phase")
		return
	}

	metric := contracts.Metric(q.Get("metric"))
	if metric == "" {
		metric = contracts.MetricSharpe
	}
	if !metric.Valid() {
		respondError(w, http.StatusBadRequest, "Invalid metric")
		return
	}

	limit := 20
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	passedOnly := false
	if v := q.Get("passed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid passed flag")
			return
		}
		passedOnly = b
	}

	best, err := h.registry.GetBestSpecs(r.Context(), phase, metric, limit, passedOnly)
	if err != nil {
		h.logger.WithError(err).Error("Failed to rank specs")
		respondError(w, http.StatusInternalServerError, "Failed to rank specs")
		return
	}
	if best == nil {
		best = []contracts.SpecResult{}
	}
	respondJSON(w, http.StatusOK, best)
}
