package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/domain"
	"github.com/limiquantix/consolidator/internal/drs"
	"github.com/limiquantix/consolidator/internal/fleet"
)

const defaultPassLimit = 20

// PassRunner runs consolidation passes on demand.
type PassRunner interface {
	RunPass(ctx context.Context) (*domain.PassSummary, error)
	LastPass() *domain.PassSummary
	Stats() drs.Stats
}

// Admitter places tenant requests in the fleet.
type Admitter interface {
	Admit(ctx context.Context, req domain.Request) (*fleet.VM, error)
}

// FleetReader exposes the current placement state.
type FleetReader interface {
	Snapshot() []domain.MachineSnapshot
}

// PassReader reads the pass outcome and fleet state published by the leader.
type PassReader interface {
	GetLastPass(ctx context.Context) (*domain.PassSummary, error)
	GetFleetSnapshot(ctx context.Context) ([]domain.MachineSnapshot, error)
}

// ConsolidationHandler serves the consolidation REST API.
type ConsolidationHandler struct {
	engine  PassRunner
	admit   Admitter
	fleet   FleetReader
	journal drs.JournalRepository
	logger  *zap.Logger

	// Followers answer pass and fleet reads from the leader's publications.
	published PassReader
	leader    drs.LeaderChecker
}

// NewConsolidationHandler creates a new consolidation handler.
func NewConsolidationHandler(engine PassRunner, admit Admitter, f FleetReader, journal drs.JournalRepository, logger *zap.Logger) *ConsolidationHandler {
	return &ConsolidationHandler{
		engine:  engine,
		admit:   admit,
		fleet:   f,
		journal: journal,
		logger:  logger.Named("consolidation-handler"),
	}
}

// SetFollowerReads serves the last pass and the fleet from reader whenever
// leader reports that this replica is not the leader.
func (h *ConsolidationHandler) SetFollowerReads(reader PassReader, leader drs.LeaderChecker) {
	h.published = reader
	h.leader = leader
}

func (h *ConsolidationHandler) isFollower() bool {
	return h.published != nil && h.leader != nil && !h.leader.IsLeader()
}

// RegisterRoutes registers consolidation API routes.
func (h *ConsolidationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/fleet", h.getFleet)
	mux.HandleFunc("POST /api/v1/requests", h.admitRequest)
	mux.HandleFunc("GET /api/v1/passes", h.listPasses)
	mux.HandleFunc("POST /api/v1/passes", h.runPass)
	mux.HandleFunc("GET /api/v1/passes/last", h.lastPass)
	mux.HandleFunc("GET /api/v1/passes/{id}/migrations", h.listMigrations)
	mux.HandleFunc("GET /api/v1/stats", h.getStats)
}

// admitRequestBody is the JSON form of a tenant request.
type admitRequestBody struct {
	Tenant                 string           `json:"tenant"`
	Type                   string           `json:"type"`
	Resources              domain.Resources `json:"resources"`
	Critical               bool             `json:"critical"`
	Custom                 bool             `json:"custom"`
	SupportsSecureEnclaves bool             `json:"supports_secure_enclaves"`
	StartTime              float64          `json:"start_time"`
	Duration               float64          `json:"duration"`
}

// runPassResponse carries a pass summary and, when the pass aborted, its error.
type runPassResponse struct {
	Pass  *domain.PassSummary `json:"pass,omitempty"`
	Error string              `json:"error,omitempty"`
}

func (h *ConsolidationHandler) getFleet(w http.ResponseWriter, r *http.Request) {
	if h.isFollower() {
		snapshot, err := h.published.GetFleetSnapshot(r.Context())
		if err == nil {
			h.writeJSON(w, http.StatusOK, map[string]interface{}{
				"machines": snapshot,
				"source":   "leader",
			})
			return
		}
		h.logger.Warn("Failed to read published fleet, serving local state", zap.Error(err))
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"machines": h.fleet.Snapshot(),
		"source":   "local",
	})
}

func (h *ConsolidationHandler) admitRequest(w http.ResponseWriter, r *http.Request) {
	var body admitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	req, err := domain.NewRequest(domain.RequestSpec{
		Tenant:                 body.Tenant,
		Type:                   domain.ComponentType{Name: body.Type},
		Resources:              body.Resources,
		Critical:               body.Critical,
		Custom:                 body.Custom,
		SupportsSecureEnclaves: body.SupportsSecureEnclaves,
		StartTime:              body.StartTime,
		Duration:               body.Duration,
	})
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	vm, err := h.admit.Admit(r.Context(), req)
	if err != nil {
		h.logger.Warn("Failed to admit request", zap.String("tenant", body.Tenant), zap.Error(err))
		h.writeError(w, err.Error(), statusFor(err))
		return
	}
	h.writeJSON(w, http.StatusCreated, vm.Snapshot())
}

func (h *ConsolidationHandler) listPasses(w http.ResponseWriter, r *http.Request) {
	limit := defaultPassLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	passes, err := h.journal.ListPasses(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list passes", zap.Error(err))
		h.writeError(w, err.Error(), statusFor(err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"passes": passes,
	})
}

func (h *ConsolidationHandler) runPass(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.RunPass(r.Context())
	if err != nil {
		h.writeJSON(w, statusFor(err), runPassResponse{Pass: summary, Error: err.Error()})
		return
	}
	h.writeJSON(w, http.StatusOK, runPassResponse{Pass: summary})
}

func (h *ConsolidationHandler) lastPass(w http.ResponseWriter, r *http.Request) {
	if h.isFollower() {
		last, err := h.published.GetLastPass(r.Context())
		if err != nil {
			h.writeError(w, err.Error(), statusFor(err))
			return
		}
		h.writeJSON(w, http.StatusOK, last)
		return
	}

	last := h.engine.LastPass()
	if last == nil {
		h.writeError(w, "no pass has run yet", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, last)
}

func (h *ConsolidationHandler) listMigrations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	records, err := h.journal.ListMigrations(r.Context(), id)
	if err != nil {
		h.writeError(w, err.Error(), statusFor(err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"pass_id":    id,
		"migrations": records,
	})
}

func (h *ConsolidationHandler) getStats(w http.ResponseWriter, r *http.Request) {
	stats := h.engine.Stats()
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"passes":        stats.Passes,
		"failed_passes": stats.FailedPasses,
		"migrations":    stats.Migrations,
		"total_time_ms": stats.TotalTime.Milliseconds(),
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrResourceExhausted):
		return http.StatusConflict
	case errors.Is(err, drs.ErrNotLeader), errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response.
func (h *ConsolidationHandler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeError writes an error response.
func (h *ConsolidationHandler) writeError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
