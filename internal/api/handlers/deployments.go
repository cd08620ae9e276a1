package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wonny/forge/internal/brain"
	"github.com/wonny/forge/internal/contracts"
	"github.com/wonny/forge/internal/deployer"
	"github.com/wonny/forge/pkg/logger"
)

// Operations is the orchestrator surface the API exposes.
type Operations interface {
	Comparison(ctx context.Context, d *contracts.Deployment) (*contracts.ComparisonReport, error)
	Promotion(ctx context.Context, d *contracts.Deployment) (*contracts.PromotionReport, error)
	StopDeployment(ctx context.Context, id, reason string) (*deployer.StopResult, error)
	RunMonitoring(ctx context.Context) (*brain.MonitoringResult, error)
	RunRebalance(ctx context.Context) (*brain.RebalanceSweepResult, error)
	RunPromotion(ctx context.Context) (*brain.PromotionSweepResult, error)
}

// DeploymentHandler serves deployment state, reports and operator actions.
// ⭐ SSOT: deployment endpoints live here only
type DeploymentHandler struct {
	registry contracts.Registry
	ops      Operations
	logger   *logger.Logger
}

// NewDeploymentHandler creates a deployment handler
func NewDeploymentHandler(registry contracts.Registry, ops Operations, log *logger.Logger) *DeploymentHandler {
	return &DeploymentHandler{registry: registry, ops: ops, logger: log}
}

// List returns deployments, optionally filtered by status.
// GET /api/deployments?status=active
func (h *DeploymentHandler) List(w http.ResponseWriter, r *http.Request) {
	status := contracts.DeploymentStatus(r.URL.Query().Get("status"))
	switch status {
	case "", contracts.StatusPending, contracts.StatusActive, contracts.StatusStopped:
	default:
		respondError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	deployments, err := h.registry.ListDeployments(r.Context(), status)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list deployments")
		respondError(w, http.StatusInternalServerError, "Failed to list deployments")
		return
	}
	if deployments == nil {
		deployments = []*contracts.Deployment{}
	}
	respondJSON(w, http.StatusOK, deployments)
}

// load fetches the {id} deployment or writes the error response.
func (h *DeploymentHandler) load(w http.ResponseWriter, r *http.Request) (*contracts.Deployment, bool) {
	id := mux.Vars(r)["id"]
	d, err := h.registry.GetDeployment(r.Context(), id)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.WithField("deployment_id", id).WithError(err).Error("Failed to load deployment")
		}
		respondError(w, status, "Deployment not available")
		return nil, false
	}
	return d, true
}

// Get returns one deployment with its history.
// GET /api/deployments/{id}
func (h *DeploymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, ok := h.load(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// Comparison returns live-vs-validation drift.
// GET /api/deployments/{id}/comparison
func (h *DeploymentHandler) Comparison(w http.ResponseWriter, r *http.Request) {
	d, ok := h.load(w, r)
	if !ok {
		return
	}
	report, err := h.ops.Comparison(r.Context(), d)
	if err != nil {
		h.logger.WithField("deployment_id", d.ID).WithError(err).Error("Comparison failed")
		respondError(w, statusFor(err), "Comparison failed")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Promotion returns the promotion verdict. Nothing is promoted.
// GET /api/deployments/{id}/promotion
func (h *DeploymentHandler) Promotion(w http.ResponseWriter, r *http.Request) {
	d, ok := h.load(w, r)
	if !ok {
		return
	}
	report, err := h.ops.Promotion(r.Context(), d)
	if err != nil {
		h.logger.WithField("deployment_id", d.ID).WithError(err).Error("Promotion evaluation failed")
		respondError(w, statusFor(err), "Promotion evaluation failed")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// StopRequest is the optional body of a stop call.
type StopRequest struct {
	Reason string `json:"reason"`
}

// Stop liquidates and stops a deployment.
// POST /api/deployments/{id}/stop
func (h *DeploymentHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req StopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.ops.StopDeployment(r.Context(), id, req.Reason)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.WithField("deployment_id", id).WithError(err).Error("Stop failed")
		}
		respondError(w, status, "Stop failed")
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// RunSweep triggers a sweep over the active deployments and returns its summary.
// POST /api/sweeps/{name}
func (h *DeploymentHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		result interface{}
		err    error
	)
	switch name := mux.Vars(r)["name"]; name {
	case brain.SweepMonitoring:
		result, err = h.ops.RunMonitoring(ctx)
	case brain.SweepRebalance:
		result, err = h.ops.RunRebalance(ctx)
	case brain.SweepPromotion:
		result, err = h.ops.RunPromotion(ctx)
	default:
		respondError(w, http.StatusNotFound, "Unknown sweep")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Sweep failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}
