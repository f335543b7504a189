package vps

import "time"

// Action lifecycle outcomes as recorded in the audit trail
const (
	ActionSubmitted = "SUBMITTED"
	ActionFailed    = "FAILED"
)

// Action is the append-only audit record of a lifecycle command. Rows are
// never mutated after the outcome is recorded and never deleted.
type Action struct {
	ID         string `json:"id" gorm:"primaryKey"`
	InstanceID string `json:"instanceId" gorm:"index"`
	UserID     string `json:"userId"`

	Type      string `json:"type"`
	Status    string `json:"status"`
	RequestID string `json:"requestId"` // provider correlation id, when the call was accepted

	CreatedAt time.Time `json:"createdAt"`
}
