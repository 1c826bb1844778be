package report

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/magiconair/properties"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limiquantix/consolidator/internal/domain"
)

func newSampleStats() *Stats {
	s := &Stats{}
	s.AddVMs(6)
	s.Sample(3, 300, 10)
	s.Sample(2, 200, 10)
	s.Sample(1, 100, 10)
	s.AddPass(&domain.PassSummary{Migrations: 2, Duration: 4 * time.Millisecond})
	s.AddPass(&domain.PassSummary{Migrations: 1, Duration: 2 * time.Millisecond})
	s.Elapsed = 1500 * time.Millisecond
	return s
}

func TestStats_Aggregates(t *testing.T) {
	s := newSampleStats()

	assert.InDelta(t, 6000.0, s.TotalPowerConsumption, 1e-9)
	assert.Equal(t, 3, s.MaxActivePMs)
	assert.InDelta(t, 2.0, s.AverageActivePMs(), 1e-9)
	assert.Equal(t, 2, s.Runs)
	assert.Equal(t, 3, s.Migrations)
	assert.Equal(t, 3*time.Millisecond, s.AverageTime())
	assert.InDelta(t, 3.0, s.Performance(), 1e-9)
}

func TestStats_Empty(t *testing.T) {
	s := &Stats{}
	assert.Zero(t, s.AverageActivePMs())
	assert.Zero(t, s.AverageTime())
	assert.Zero(t, s.Performance())
}

func TestStats_WriteProperties(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.properties")
	require.NoError(t, newSampleStats().WriteProperties(path))

	p, err := properties.LoadFile(path, properties.UTF8)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		KeyTotalPowerConsumption, KeyMigrations, KeyMaxActivePMs, KeyAverageActivePMs,
		KeyRuns, KeyAmountOfVMs, KeyAverageTime, KeyTime, KeyPerformance,
	}, p.Keys())

	assert.Equal(t, "6000", p.GetString(KeyTotalPowerConsumption, ""))
	assert.Equal(t, 3, p.GetInt(KeyMigrations, -1))
	assert.Equal(t, 3, p.GetInt(KeyMaxActivePMs, -1))
	assert.InDelta(t, 2.0, p.GetFloat64(KeyAverageActivePMs, -1), 1e-9)
	assert.Equal(t, 2, p.GetInt(KeyRuns, -1))
	assert.Equal(t, 6, p.GetInt(KeyAmountOfVMs, -1))
	assert.InDelta(t, 3.0, p.GetFloat64(KeyAverageTime, -1), 1e-9)
	assert.InDelta(t, 1500.0, p.GetFloat64(KeyTime, -1), 1e-9)
	assert.InDelta(t, 3.0, p.GetFloat64(KeyPerformance, -1), 1e-9)
}

func TestStats_WriteEscapesKeys(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newSampleStats().Write(&buf))

	assert.Contains(t, buf.String(), `total\ power\ consumption = 6000`)
	assert.Contains(t, buf.String(), "averageTime = 3")
}
