// Package report accumulates simulation statistics and writes them as a
// Java-style properties file for the experiment harness.
package report

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/magiconair/properties"

	"github.com/limiquantix/consolidator/internal/domain"
)

// Property keys read by the experiment harness.
const (
	KeyTotalPowerConsumption = "total power consumption"
	KeyMigrations            = "migrations"
	KeyMaxActivePMs          = "max active pms"
	KeyAverageActivePMs      = "average active pms"
	KeyRuns                  = "runs"
	KeyAmountOfVMs           = "amount of vms"
	KeyAverageTime           = "averageTime"
	KeyTime                  = "time"
	KeyPerformance           = "performance"
)

// Stats accumulates the figures of one simulation run. It is not safe for
// concurrent use.
type Stats struct {
	// TotalPowerConsumption is the static energy drawn by running machines,
	// in watt-seconds of simulated time.
	TotalPowerConsumption float64
	Migrations            int
	MaxActivePMs          int
	// Runs counts consolidation passes.
	Runs int
	// AmountOfVMs counts the VMs admitted over the run.
	AmountOfVMs int
	// PassTime is the wall-clock time spent inside consolidation passes.
	PassTime time.Duration
	// Elapsed is the wall-clock duration of the whole run.
	Elapsed time.Duration

	activeSum int
	samples   int
}

// Sample records the fleet state over one simulated step of dt seconds.
func (s *Stats) Sample(activePMs int, watts, dt float64) {
	s.TotalPowerConsumption += watts * dt
	s.activeSum += activePMs
	s.samples++
	if activePMs > s.MaxActivePMs {
		s.MaxActivePMs = activePMs
	}
}

// AddPass records a finished consolidation pass.
func (s *Stats) AddPass(summary *domain.PassSummary) {
	s.Runs++
	s.Migrations += summary.Migrations
	s.PassTime += summary.Duration
}

// AddVMs records admitted VMs.
func (s *Stats) AddVMs(n int) {
	s.AmountOfVMs += n
}

// AverageActivePMs returns the mean number of active machines per sample.
func (s *Stats) AverageActivePMs() float64 {
	if s.samples == 0 {
		return 0
	}
	return float64(s.activeSum) / float64(s.samples)
}

// AverageTime returns the mean wall-clock time per consolidation pass.
func (s *Stats) AverageTime() time.Duration {
	if s.Runs == 0 {
		return 0
	}
	return s.PassTime / time.Duration(s.Runs)
}

// Performance returns the number of VMs served per average active machine.
func (s *Stats) Performance() float64 {
	avg := s.AverageActivePMs()
	if avg == 0 {
		return 0
	}
	return float64(s.AmountOfVMs) / avg
}

// Properties renders the statistics. Times are in milliseconds.
func (s *Stats) Properties() *properties.Properties {
	p := properties.NewProperties()
	set := func(key, value string) {
		// Set only fails on circular references, which plain numbers cannot contain.
		_, _, _ = p.Set(key, value)
	}

	set(KeyTotalPowerConsumption, formatFloat(s.TotalPowerConsumption))
	set(KeyMigrations, strconv.Itoa(s.Migrations))
	set(KeyMaxActivePMs, strconv.Itoa(s.MaxActivePMs))
	set(KeyAverageActivePMs, formatFloat(s.AverageActivePMs()))
	set(KeyRuns, strconv.Itoa(s.Runs))
	set(KeyAmountOfVMs, strconv.Itoa(s.AmountOfVMs))
	set(KeyAverageTime, formatFloat(milliseconds(s.AverageTime())))
	set(KeyTime, formatFloat(milliseconds(s.Elapsed)))
	set(KeyPerformance, formatFloat(s.Performance()))

	return p
}

// Write writes the statistics in properties format.
func (s *Stats) Write(w io.Writer) error {
	if _, err := s.Properties().Write(w, properties.UTF8); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// WriteProperties writes the statistics to path, replacing any existing file.
func (s *Stats) WriteProperties(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report %s: %w", path, err)
	}
	if err := s.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
