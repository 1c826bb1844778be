// Package domain contains domain models and business logic errors.
package domain

import "errors"

// Common domain errors
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when trying to create a resource that already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidArgument is returned when an invalid argument is provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrResourceExhausted is returned when no machine can take a placement.
	ErrResourceExhausted = errors.New("resources exhausted")

	// ErrUnavailable is returned when a service or resource is unavailable.
	ErrUnavailable = errors.New("service unavailable")
)

// Consolidation errors
var (
	// ErrResourceViolation is returned when a migration or reservation would exceed
	// a machine's capacity. Reaching it during a commit indicates a logic defect.
	ErrResourceViolation = errors.New("resource violation")

	// ErrMigration is returned when the substrate could not move a VM between machines.
	ErrMigration = errors.New("migration failed")

	// ErrManagement is returned on invalid references or precondition violations,
	// e.g. switching off a machine that still hosts VMs.
	ErrManagement = errors.New("management error")
)
