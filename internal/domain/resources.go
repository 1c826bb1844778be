package domain

import (
	"fmt"
	"math"
)

// ResourceEpsilon is the tolerance used when comparing processing power.
const ResourceEpsilon = 1e-6

// Resources is a resource vector used both for capacities and for demands.
// Processing power is fractional and accumulates rounding error; memory is exact.
type Resources struct {
	ProcessingPower float64 `json:"processing_power" mapstructure:"processing_power"`
	Memory          int64   `json:"memory" mapstructure:"memory"`
}

// NewResources returns a resource vector.
func NewResources(processingPower float64, memory int64) Resources {
	return Resources{ProcessingPower: processingPower, Memory: memory}
}

// a safe less than or equal to comparator which takes epsilon into consideration.
func lessThanOrEqual(f1, f2 float64) bool {
	v := f1 - f2
	if math.Abs(v) < ResourceEpsilon {
		return true
	}
	return v < 0
}

// FitsWithin reports whether r is component-wise less than or equal to other.
func (r Resources) FitsWithin(other Resources) bool {
	return lessThanOrEqual(r.ProcessingPower, other.ProcessingPower) &&
		r.Memory <= other.Memory
}

// Add returns the component-wise sum.
func (r Resources) Add(other Resources) Resources {
	return Resources{
		ProcessingPower: r.ProcessingPower + other.ProcessingPower,
		Memory:          r.Memory + other.Memory,
	}
}

// Subtract returns the component-wise difference. The result may be negative;
// check FitsWithin before treating it as remaining capacity.
func (r Resources) Subtract(other Resources) Resources {
	return Resources{
		ProcessingPower: r.ProcessingPower - other.ProcessingPower,
		Memory:          r.Memory - other.Memory,
	}
}

// TotalProcessingPower returns the processing power dimension.
func (r Resources) TotalProcessingPower() float64 {
	return r.ProcessingPower
}

// RequiredMemory returns the memory dimension.
func (r Resources) RequiredMemory() int64 {
	return r.Memory
}

// IsZero returns whether all dimensions are empty.
func (r Resources) IsZero() bool {
	return math.Abs(r.ProcessingPower) < ResourceEpsilon && r.Memory == 0
}

// IsNegative returns whether any dimension is below zero.
func (r Resources) IsNegative() bool {
	return r.ProcessingPower < -ResourceEpsilon || r.Memory < 0
}

func (r Resources) String() string {
	return fmt.Sprintf("{cpu:%g mem:%d}", r.ProcessingPower, r.Memory)
}
