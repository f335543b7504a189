package order

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// KeyList is a list of SSH key references stored as a JSON text column
type KeyList []string

// Value implements driver.Valuer
func (k KeyList) Value() (driver.Value, error) {
	if k == nil {
		return "[]", nil
	}
	encoded, err := json.Marshal(k)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

// Scan implements sql.Scanner
func (k *KeyList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*k = nil
		return nil
	case string:
		return json.Unmarshal([]byte(v), k)
	case []byte:
		return json.Unmarshal(v, k)
	default:
		return fmt.Errorf("cannot scan %T into KeyList", src)
	}
}

// Order identifies a purchase intent moving through the fulfillment state machine
type Order struct {
	ID     string `json:"id" gorm:"primaryKey"`
	Number string `json:"number" gorm:"uniqueIndex"` // human readable, monotonic per month
	UserID string `json:"userId" gorm:"index"`

	ProductID     string `json:"productId"`
	Status        Status `json:"status" gorm:"index"`
	BillingMonths int    `json:"billingMonths"`
	RegionCode    string `json:"regionCode"`
	ImageID       string `json:"imageId"` // empty when the requested image could not be resolved

	// frozen at creation: TotalCents == BaseCents + RegionAdjustmentCents + OSAdjustmentCents
	TotalCents            int64 `json:"totalCents"`
	BaseCents             int64 `json:"baseCents"`
	RegionAdjustmentCents int64 `json:"regionAdjustmentCents"`
	OSAdjustmentCents     int64 `json:"osAdjustmentCents"`

	SSHKeyIDs KeyList `json:"sshKeyIds" gorm:"type:text"`
	UserData  string  `json:"userData"`

	ContactEmail    string `json:"contactEmail"`
	PaymentIntentID string `json:"-"`
	PaymentStatus   string `json:"paymentStatus"`
	AdminNotes      string `json:"-"`

	PaidAt      *time.Time `json:"paidAt"`
	CompletedAt *time.Time `json:"completedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}
