package invoice

import "time"

// Status of an invoice
const (
	StatusOpen = "OPEN"
	StatusPaid = "PAID"
)

// Invoice is the derived financial record bound 1:1 to an Order
type Invoice struct {
	ID      string `json:"id" gorm:"primaryKey"`
	Number  string `json:"number" gorm:"uniqueIndex"` // monotonic per month, independent of order numbers
	OrderID string `json:"orderId" gorm:"uniqueIndex"`
	UserID  string `json:"userId" gorm:"index"`

	// TotalCents == AmountCents + TaxCents at the fixed rate
	AmountCents int64 `json:"amountCents"`
	TaxCents    int64 `json:"taxCents"`
	TotalCents  int64 `json:"totalCents"`

	Status    string     `json:"status"`
	PaidAt    *time.Time `json:"paidAt"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// TaxFor computes the tax portion for an amount at the given rate in basis points
func TaxFor(amountCents int64, rateBasisPoints int64) int64 {
	return amountCents * rateBasisPoints / 10000
}
