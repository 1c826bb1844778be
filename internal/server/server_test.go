package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/config"
	"github.com/limiquantix/consolidator/internal/consolidation"
	"github.com/limiquantix/consolidator/internal/domain"
	"github.com/limiquantix/consolidator/internal/fleet"
	"github.com/limiquantix/consolidator/internal/scheduler"
)

func newTestServer(t *testing.T) (*Server, *fleet.Fleet) {
	t.Helper()

	f := fleet.New(zap.NewNop())
	for _, id := range []string{"pm-1", "pm-2"} {
		_, err := f.AddMachine(domain.MachineSpec{
			ID:           id,
			Capacities:   domain.NewResources(4, 8),
			InitialState: domain.PowerStateRunning,
		})
		require.NoError(t, err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second},
		Consolidation: config.ConsolidationConfig{
			Enabled:  true,
			Interval: time.Hour,
			Engine:   consolidation.DefaultConfig(),
		},
		Scheduler: scheduler.DefaultConfig(),
		Metrics:   config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}

	s, err := New(cfg, f, zap.NewNop())
	require.NoError(t, err)
	return s, f
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(t)

	for _, path := range []string{"/health", "/healthz", "/live", "/ready"} {
		rec := do(t, s, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"), path)
	}
}

func TestServer_Metrics(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP")
}

func TestServer_AdmitAndConsolidate(t *testing.T) {
	s, f := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/requests", map[string]interface{}{
		"tenant":    "acme",
		"type":      "web-server",
		"resources": map[string]interface{}{"processing_power": 1, "memory": 2},
		"duration":  600,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var vm domain.VMSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&vm))
	assert.Equal(t, "acme", vm.Tenant)
	assert.Equal(t, "pm-1", vm.HostID)

	rec = do(t, s, http.MethodPost, "/api/v1/passes", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var run runPassResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&run))
	require.NotNil(t, run.Pass)
	assert.Empty(t, run.Error)
	assert.Equal(t, 1, run.Pass.Migrations)
	assert.Equal(t, []string{"pm-1"}, run.Pass.SwitchedOff)
	assert.Equal(t, 1, f.ActiveCount())

	rec = do(t, s, http.MethodGet, "/api/v1/passes/"+run.Pass.ID+"/migrations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var migrations struct {
		PassID     string                   `json:"pass_id"`
		Migrations []domain.MigrationRecord `json:"migrations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&migrations))
	require.Len(t, migrations.Migrations, 1)
	assert.Equal(t, vm.ID, migrations.Migrations[0].VMID)
	assert.Equal(t, "pm-2", migrations.Migrations[0].TargetID)

	rec = do(t, s, http.MethodGet, "/api/v1/passes?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var passes struct {
		Passes []domain.PassSummary `json:"passes"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&passes))
	require.Len(t, passes.Passes, 1)
	assert.Equal(t, run.Pass.ID, passes.Passes[0].ID)

	rec = do(t, s, http.MethodGet, "/api/v1/passes/last", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]float64
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 1.0, stats["passes"])
	assert.Equal(t, 1.0, stats["migrations"])

	rec = do(t, s, http.MethodGet, "/api/v1/fleet", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fleetResp struct {
		Machines []domain.MachineSnapshot `json:"machines"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&fleetResp))
	require.Len(t, fleetResp.Machines, 2)
	assert.Equal(t, domain.PowerStateOff, fleetResp.Machines[0].State)
	assert.Equal(t, []string{vm.ID}, fleetResp.Machines[1].VMIDs)
}

func TestServer_AdmitErrors(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/requests", map[string]interface{}{
		"resources": map[string]interface{}{"processing_power": 1, "memory": 2},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/requests", map[string]interface{}{
		"tenant":    "acme",
		"resources": map[string]interface{}{"processing_power": 64, "memory": 2},
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/requests", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestServer_LookupErrors(t *testing.T) {
	s, _ := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/passes/last", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/passes/unknown/migrations", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/passes?limit=0", nil).Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidArgument, http.StatusBadRequest},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrResourceExhausted, http.StatusConflict},
		{domain.ErrUnavailable, http.StatusServiceUnavailable},
		{domain.ErrMigration, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
