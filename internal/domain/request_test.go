package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequest(t *testing.T) {
	req, err := NewRequest(RequestSpec{
		Tenant:                 "acme",
		Type:                   ComponentTypeDatabase,
		Resources:              NewResources(2, 4096),
		Critical:               true,
		SupportsSecureEnclaves: true,
		StartTime:              10,
		Duration:               50,
	})
	require.NoError(t, err)

	assert.Equal(t, "acme", req.Tenant())
	assert.Equal(t, ComponentTypeDatabase, req.ComponentType())
	assert.Equal(t, NewResources(2, 4096), req.Resources())
	assert.True(t, req.IsCritical())
	assert.False(t, req.IsCustom())
	assert.True(t, req.SupportsSecureEnclaves())
	assert.InDelta(t, 60.0, req.EndTime(), 1e-9)
}

func TestNewRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		spec RequestSpec
	}{
		{"missing tenant", RequestSpec{Tenant: "  ", Duration: 1}},
		{"negative start", RequestSpec{Tenant: "acme", StartTime: -1}},
		{"negative duration", RequestSpec{Tenant: "acme", Duration: -5}},
		{"negative resources", RequestSpec{Tenant: "acme", Resources: NewResources(-1, 0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRequest(tt.spec)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}
