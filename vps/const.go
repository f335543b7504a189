package vps

// Status is the custom type for the instance lifecycle state
type Status string

// Define the valid statuses of an instance
const (
	StatusProvisioning Status = "PROVISIONING"
	StatusRunning      Status = "RUNNING"
	StatusStopped      Status = "STOPPED"
	StatusSuspended    Status = "SUSPENDED"
	StatusExpired      Status = "EXPIRED"
	StatusTerminated   Status = "TERMINATED"
)

// Lifecycle action types proxied to the provider
const (
	ActionStart         = "start"
	ActionStop          = "stop"
	ActionRestart       = "restart"
	ActionShutdown      = "shutdown"
	ActionRescue        = "rescue"
	ActionResetPassword = "resetPassword"
)

// KnownAction reports whether the action name is a proxied lifecycle action
func KnownAction(action string) bool {
	switch action {
	case ActionStart, ActionStop, ActionRestart, ActionShutdown, ActionRescue, ActionResetPassword:
		return true
	}
	return false
}

// ReadyForAction is the customer-facing gate for lifecycle actions
func ReadyForAction(s Status) bool {
	switch s {
	case StatusRunning, StatusStopped, StatusProvisioning:
		return true
	}
	return false
}

// Manageable is the looser admin-facing gate, additionally allowing SUSPENDED
func Manageable(s Status) bool {
	return ReadyForAction(s) || s == StatusSuspended
}

// ProjectedStatus is the optimistic local status after an accepted action.
// It is a projection, not a confirmed provider state; reconciliation is the
// source of truth later.
func ProjectedStatus(action string, current Status) Status {
	switch action {
	case ActionStart, ActionRestart:
		return StatusRunning
	case ActionStop, ActionShutdown:
		return StatusStopped
	}
	return current
}
