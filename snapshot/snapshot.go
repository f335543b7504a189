package snapshot

import "time"

// Snapshot is a point-in-time backup reference tied to a VPS instance and a
// provider-side snapshot identifier. Rows are created by explicit request or
// by reconciliation, and deleted when the provider no longer reports them.
type Snapshot struct {
	ID            string `json:"id" gorm:"primaryKey"`
	VpsInstanceID string `json:"vpsInstanceId" gorm:"index:idx_snapshots_instance_provider,unique"`
	ProviderID    string `json:"providerId" gorm:"index:idx_snapshots_instance_provider,unique"`

	Name      string    `json:"name"`
	SizeMB    int64     `json:"sizeMb"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
