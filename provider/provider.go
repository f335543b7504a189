package provider

import "fmt"

// Instance is an upstream compute instance as reported by the provider
type Instance struct {
	InstanceID int64  `json:"instanceId"`
	Name       string `json:"name"`
	Region     string `json:"region"`
	IPAddress  string `json:"ipAddress"`
	Status     string `json:"status"`
	ImageID    string `json:"imageId"`
}

// Image is an OS image offered by the provider
type Image struct {
	ImageID     string `json:"imageId"`
	Name        string `json:"name"`
	OSType      string `json:"osType"`
	Version     string `json:"version"`
	SizeMB      int64  `json:"sizeMb"`
	Description string `json:"description"`
}

// Snapshot is a provider-side snapshot of an instance
type Snapshot struct {
	SnapshotID  string `json:"snapshotId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	SizeMB      int64  `json:"sizeMb"`
	CreatedDate string `json:"createdDate"`
}

// ActionResult is the provider's acknowledgement of an asynchronous operation.
// The caller does not block for completion; true state is observed via
// reconciliation later.
type ActionResult struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

// PasswordReset carries the freshly generated root password along with the
// acknowledgement of the reset operation
type PasswordReset struct {
	ActionResult
	RootPassword string `json:"rootPassword"`
}

// UpstreamError wraps any non-2xx response from the provider. Callers branch
// on this type instead of interpreting HTTP status codes themselves.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}
