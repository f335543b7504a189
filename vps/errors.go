package vps

import "fmt"

// ErrNotFound is returned when no instance matches the lookup
var ErrNotFound = fmt.Errorf("vps: instance not found")

// ErrNotProvisioned is returned when an action targets an instance with no
// provider instance id assigned
var ErrNotProvisioned = fmt.Errorf("vps: instance has no provider instance assigned")

// ErrUnauthorized is returned when the caller neither owns the instance nor
// is an administrator
var ErrUnauthorized = fmt.Errorf("vps: caller does not own this instance")

// InvalidStateError is returned when the instance status does not pass the
// action gate
type InvalidStateError struct {
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("vps: instance status %s does not permit this action", e.Status)
}

// ConflictError is returned when a provider instance is already bound to a
// different order; silent reassignment is never allowed
type ConflictError struct {
	ProviderInstanceID int64
	BoundOrderID       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("vps: provider instance %d is already bound to order %s", e.ProviderInstanceID, e.BoundOrderID)
}
