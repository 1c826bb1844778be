package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResources_FitsWithin(t *testing.T) {
	tests := []struct {
		name  string
		r     Resources
		other Resources
		want  bool
	}{
		{"equal", NewResources(4, 8), NewResources(4, 8), true},
		{"smaller", NewResources(1, 2), NewResources(4, 8), true},
		{"cpu over", NewResources(4.5, 8), NewResources(4, 8), false},
		{"memory over", NewResources(4, 9), NewResources(4, 8), false},
		{"cpu within epsilon", NewResources(4+ResourceEpsilon/2, 8), NewResources(4, 8), true},
		{"zero", Resources{}, Resources{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.r.FitsWithin(tt.other))
		})
	}
}

func TestResources_FractionalAccumulation(t *testing.T) {
	// Ten slices of 0.1 add up to slightly more than 1.0 in binary floating
	// point, which must still fit in a capacity of 1.0.
	var sum Resources
	for i := 0; i < 10; i++ {
		sum = sum.Add(NewResources(0.1, 1))
	}

	assert.InDelta(t, 1.0, sum.TotalProcessingPower(), ResourceEpsilon)
	assert.Equal(t, int64(10), sum.RequiredMemory())
	assert.True(t, sum.FitsWithin(NewResources(1.0, 10)))
}

func TestResources_AddSubtract(t *testing.T) {
	a := NewResources(3, 6)
	b := NewResources(1.5, 2)

	sum := a.Add(b)
	assert.InEpsilon(t, 4.5, sum.ProcessingPower, 1e-9)
	assert.Equal(t, int64(8), sum.Memory)

	// Operands are values and stay untouched.
	assert.Equal(t, NewResources(3, 6), a)
	assert.Equal(t, NewResources(1.5, 2), b)

	diff := b.Subtract(a)
	assert.True(t, diff.IsNegative())
	assert.True(t, a.Subtract(a).IsZero())
	assert.Equal(t, a, sum.Subtract(b))
}

func TestResources_String(t *testing.T) {
	assert.Equal(t, "{cpu:2.5 mem:1024}", NewResources(2.5, 1024).String())
}
