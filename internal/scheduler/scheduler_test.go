package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/domain"
	"github.com/limiquantix/consolidator/internal/fleet"
)

// =============================================================================
// Test helpers
// =============================================================================

func newTestFleet(t *testing.T, specs ...domain.MachineSpec) *fleet.Fleet {
	t.Helper()

	f := fleet.New(zap.NewNop())
	for _, spec := range specs {
		_, err := f.AddMachine(spec)
		require.NoError(t, err)
	}
	return f
}

func running(id string, cpu float64, mem int64) domain.MachineSpec {
	return domain.MachineSpec{ID: id, Capacities: domain.NewResources(cpu, mem), InitialState: domain.PowerStateRunning}
}

func stopped(id string, cpu float64, mem int64, secure bool) domain.MachineSpec {
	return domain.MachineSpec{ID: id, Capacities: domain.NewResources(cpu, mem), SecureEnclave: secure}
}

func newRequest(t *testing.T, cpu float64, mem int64, secure bool) domain.Request {
	t.Helper()

	req, err := domain.NewRequest(domain.RequestSpec{
		Tenant:                 "tenant-a",
		Type:                   domain.ComponentTypeWebServer,
		Resources:              domain.NewResources(cpu, mem),
		SupportsSecureEnclaves: secure,
		Duration:               60,
	})
	require.NoError(t, err)
	return req
}

func newScheduler(t *testing.T, f Fleet, cfg Config) *Scheduler {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	s, err := New(f, cfg, logger)
	require.NoError(t, err)
	return s
}

// =============================================================================
// Tests
// =============================================================================

func TestScheduler_Schedule_SingleMachine(t *testing.T) {
	f := newTestFleet(t, running("pm-1", 16, 65536))
	s := newScheduler(t, f, DefaultConfig())

	result, err := s.Schedule(context.Background(), newRequest(t, 2, 4096, false))
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	if result.MachineID != "pm-1" {
		t.Errorf("Expected pm-1, got %s", result.MachineID)
	}
	if result.PowerOn {
		t.Error("Expected no power-on for a running machine")
	}
}

func TestScheduler_Schedule_NoMachines(t *testing.T) {
	s := newScheduler(t, newTestFleet(t), DefaultConfig())

	_, err := s.Schedule(context.Background(), newRequest(t, 2, 4096, false))
	assert.ErrorIs(t, err, domain.ErrResourceExhausted)
}

func TestScheduler_Schedule_InsufficientResources(t *testing.T) {
	f := newTestFleet(t, running("pm-1", 4, 8192))
	cfg := DefaultConfig()
	cfg.PowerOnWhenFull = false
	s := newScheduler(t, f, cfg)

	_, err := s.Schedule(context.Background(), newRequest(t, 8, 4096, false))
	assert.ErrorIs(t, err, domain.ErrResourceExhausted)
}

func TestScheduler_Schedule_Headroom(t *testing.T) {
	f := newTestFleet(t, running("pm-1", 4, 8192))
	cfg := DefaultConfig()
	cfg.PowerOnWhenFull = false
	cfg.ReservedProcessingPower = 1
	cfg.ReservedMemory = 1024
	s := newScheduler(t, f, cfg)

	_, err := s.Schedule(context.Background(), newRequest(t, 3, 7168, false))
	assert.NoError(t, err)

	_, err = s.Schedule(context.Background(), newRequest(t, 3.5, 1024, false))
	assert.ErrorIs(t, err, domain.ErrResourceExhausted)
}

func TestScheduler_Schedule_SpreadStrategy(t *testing.T) {
	f := newTestFleet(t, running("pm-1", 16, 65536), running("pm-2", 16, 65536))
	ctx := context.Background()

	// pm-1 already hosts two VMs
	for i := 0; i < 2; i++ {
		_, err := f.Place(ctx, newRequest(t, 1, 1024, false), "pm-1")
		require.NoError(t, err)
	}

	cfg := DefaultConfig()
	cfg.PlacementStrategy = StrategySpread
	s := newScheduler(t, f, cfg)

	result, err := s.Schedule(ctx, newRequest(t, 1, 1024, false))
	require.NoError(t, err)
	assert.Equal(t, "pm-2", result.MachineID, "spread prefers the emptier machine")
}

func TestScheduler_Schedule_PackStrategy(t *testing.T) {
	f := newTestFleet(t, running("pm-1", 16, 65536), running("pm-2", 16, 65536))
	ctx := context.Background()

	_, err := f.Place(ctx, newRequest(t, 1, 1024, false), "pm-2")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.PlacementStrategy = StrategyPack
	s := newScheduler(t, f, cfg)

	result, err := s.Schedule(ctx, newRequest(t, 1, 1024, false))
	require.NoError(t, err)
	assert.Equal(t, "pm-2", result.MachineID, "pack prefers the busier machine")
}

func TestScheduler_Schedule_BalanceStrategy(t *testing.T) {
	f := newTestFleet(t, running("pm-1", 8, 8192), running("pm-2", 8, 8192))
	ctx := context.Background()

	_, err := f.Place(ctx, newRequest(t, 4, 4096, false), "pm-1")
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.PlacementStrategy = StrategyBalance
	s := newScheduler(t, f, cfg)

	result, err := s.Schedule(ctx, newRequest(t, 1, 1024, false))
	require.NoError(t, err)
	assert.Equal(t, "pm-2", result.MachineID)
	assert.InDelta(t, 100.0, result.Score, 1e-9)
}

func TestScheduler_Schedule_FirstFit(t *testing.T) {
	f := newTestFleet(t, running("pm-1", 2, 2048), running("pm-2", 8, 8192), running("pm-3", 8, 8192))
	s := newScheduler(t, f, DefaultConfig())

	result, err := s.Schedule(context.Background(), newRequest(t, 4, 4096, false))
	require.NoError(t, err)
	assert.Equal(t, "pm-2", result.MachineID)
}

func TestScheduler_Schedule_SecureRequest(t *testing.T) {
	f := newTestFleet(t,
		running("pm-1", 16, 65536),
		domain.MachineSpec{ID: "pm-sec", Capacities: domain.NewResources(16, 65536), SecureEnclave: true, InitialState: domain.PowerStateRunning},
	)
	s := newScheduler(t, f, DefaultConfig())

	result, err := s.Schedule(context.Background(), newRequest(t, 1, 1024, true))
	require.NoError(t, err)
	assert.Equal(t, "pm-sec", result.MachineID)
}

func TestScheduler_Schedule_SpreadAvoidsSecureMachine(t *testing.T) {
	f := newTestFleet(t,
		domain.MachineSpec{ID: "pm-sec", Capacities: domain.NewResources(16, 65536), SecureEnclave: true, InitialState: domain.PowerStateRunning},
		running("pm-1", 16, 65536),
	)
	cfg := DefaultConfig()
	cfg.PlacementStrategy = StrategySpread
	s := newScheduler(t, f, cfg)

	result, err := s.Schedule(context.Background(), newRequest(t, 1, 1024, false))
	require.NoError(t, err)
	assert.Equal(t, "pm-1", result.MachineID)
}

func TestScheduler_Admit_PowersOnMachine(t *testing.T) {
	f := newTestFleet(t,
		running("pm-1", 2, 2048),
		stopped("pm-2", 2, 2048, true),
		stopped("pm-3", 8, 8192, false),
	)
	s := newScheduler(t, f, DefaultConfig())

	vm, err := s.Admit(context.Background(), newRequest(t, 4, 4096, false))
	require.NoError(t, err)

	assert.Equal(t, "pm-3", vm.Host())
	pm3, err := f.Machine("pm-3")
	require.NoError(t, err)
	assert.True(t, pm3.IsRunning())

	pm2, err := f.Machine("pm-2")
	require.NoError(t, err)
	assert.False(t, pm2.IsRunning())
}

func TestScheduler_Admit_NothingFits(t *testing.T) {
	f := newTestFleet(t, running("pm-1", 2, 2048), stopped("pm-2", 2, 2048, false))
	s := newScheduler(t, f, DefaultConfig())

	_, err := s.Admit(context.Background(), newRequest(t, 4, 4096, false))
	assert.ErrorIs(t, err, domain.ErrResourceExhausted)
	assert.Equal(t, 1, f.ActiveCount())
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.PlacementStrategy = "random"
	assert.ErrorIs(t, cfg.Validate(), domain.ErrInvalidArgument)

	cfg = DefaultConfig()
	cfg.ReservedMemory = -1
	assert.ErrorIs(t, cfg.Validate(), domain.ErrInvalidArgument)
}
