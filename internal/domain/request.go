package domain

import (
	"fmt"
	"strings"
)

// ComponentType identifies the kind of component instance a tenant requests.
type ComponentType struct {
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description,omitempty" mapstructure:"description"`
}

// Well-known component types.
var (
	ComponentTypeWebServer = ComponentType{Name: "web-server", Description: "Stateless HTTP frontend"}
	ComponentTypeAppServer = ComponentType{Name: "app-server", Description: "Application logic tier"}
	ComponentTypeDatabase  = ComponentType{Name: "database", Description: "Stateful storage tier"}
)

func (c ComponentType) String() string {
	return c.Name
}

// Request is a tenant's demand for a component instance. The fields are
// necessary to find or create a matching component instance. A Request is
// immutable once constructed.
type Request struct {
	tenant                 string
	componentType          ComponentType
	resources              Resources
	critical               bool
	custom                 bool
	supportsSecureEnclaves bool
	startTime              float64
	duration               float64
}

// RequestSpec carries the fields of a Request before validation.
type RequestSpec struct {
	Tenant                 string        `mapstructure:"tenant"`
	Type                   ComponentType `mapstructure:"type"`
	Resources              Resources     `mapstructure:"resources"`
	Critical               bool          `mapstructure:"critical"`
	Custom                 bool          `mapstructure:"custom"`
	SupportsSecureEnclaves bool          `mapstructure:"supports_secure_enclaves"`
	StartTime              float64       `mapstructure:"start_time"`
	Duration               float64       `mapstructure:"duration"`
}

// NewRequest validates spec and builds an immutable Request.
func NewRequest(spec RequestSpec) (Request, error) {
	if strings.TrimSpace(spec.Tenant) == "" {
		return Request{}, fmt.Errorf("%w: tenant is required", ErrInvalidArgument)
	}
	if spec.StartTime < 0 {
		return Request{}, fmt.Errorf("%w: start time %g is negative", ErrInvalidArgument, spec.StartTime)
	}
	if spec.Duration < 0 {
		return Request{}, fmt.Errorf("%w: duration %g is negative", ErrInvalidArgument, spec.Duration)
	}
	if spec.Resources.IsNegative() {
		return Request{}, fmt.Errorf("%w: resources %s are negative", ErrInvalidArgument, spec.Resources)
	}

	return Request{
		tenant:                 spec.Tenant,
		componentType:          spec.Type,
		resources:              spec.Resources,
		critical:               spec.Critical,
		custom:                 spec.Custom,
		supportsSecureEnclaves: spec.SupportsSecureEnclaves,
		startTime:              spec.StartTime,
		duration:               spec.Duration,
	}, nil
}

// Tenant returns the name of the requesting tenant.
func (r Request) Tenant() string { return r.tenant }

// ComponentType returns the requested component type.
func (r Request) ComponentType() ComponentType { return r.componentType }

// Resources returns the requested resources.
func (r Request) Resources() Resources { return r.resources }

// IsCritical returns true if the request handles critical data.
func (r Request) IsCritical() bool { return r.critical }

// IsCustom returns true if a custom component type shall be used.
func (r Request) IsCustom() bool { return r.custom }

// SupportsSecureEnclaves returns true if the instance must run inside a secure enclave.
func (r Request) SupportsSecureEnclaves() bool { return r.supportsSecureEnclaves }

// StartTime returns the scheduled start, in simulated seconds.
func (r Request) StartTime() float64 { return r.startTime }

// Duration returns how long the instance runs, in simulated seconds.
func (r Request) Duration() float64 { return r.duration }

// EndTime returns StartTime + Duration.
func (r Request) EndTime() float64 { return r.startTime + r.duration }
