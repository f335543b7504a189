package notification

import "context"

// ProvisionedEvent carries everything the "server ready" mail needs. It is
// published fire-and-forget: a lost mail never fails a provisioning.
type ProvisionedEvent struct {
	UserID        string `json:"userId"`
	Email         string `json:"email"`
	ServerAddr    string `json:"serverAddr"`
	RootPassword  string `json:"rootPassword"`
	Region        string `json:"region"`
	DashboardLink string `json:"dashboardLink"`
}

// Notifier is the collaborator contract the provisioning orchestrator uses
type Notifier interface {
	SendVpsProvisioned(ctx context.Context, event ProvisionedEvent) error
}
