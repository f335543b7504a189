package vps

import "time"

// Instance is a provisioned (or pre-provisioned, unassigned) VPS. Rows are
// never hard-deleted; termination is a terminal status so the action history
// stays intact.
type Instance struct {
	ID     string `json:"id" gorm:"primaryKey"`
	UserID string `json:"userId" gorm:"index"`

	// OrderID is empty for instances that pre-exist unassigned
	OrderID string `json:"orderId" gorm:"index"`

	// ProviderInstanceID is the opaque upstream identifier; nil until the
	// instance is bound to a provider machine. Unique across all rows, which
	// is the actual concurrency control against double-provisioning.
	ProviderInstanceID *int64 `json:"providerInstanceId" gorm:"uniqueIndex"`

	Status      Status `json:"status" gorm:"index"`
	IPAddress   string `json:"ipAddress"`
	DisplayName string `json:"displayName"`
	Region      string `json:"region"`

	EncryptedPassword []byte `json:"-"`

	ExpiresAt     *time.Time `json:"expiresAt"`
	SuspendedAt   *time.Time `json:"suspendedAt"`
	SuspendReason string     `json:"suspendReason"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// applyExpiry flips a past-expiry instance to EXPIRED. Returns true when the
// status changed and the row needs persisting. Expiry is pull-based: nothing
// expires until the next read.
func applyExpiry(inst *Instance, now time.Time) bool {
	if inst == nil || inst.ExpiresAt == nil {
		return false
	}
	if inst.Status == StatusExpired || inst.Status == StatusTerminated {
		return false
	}
	if now.Before(*inst.ExpiresAt) {
		return false
	}
	inst.Status = StatusExpired
	return true
}
