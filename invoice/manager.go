package invoice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nimbushost/nimbus/order"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Options provides initialization parameters for Manager
type Options struct {
	DB     *gorm.DB
	Logger *zap.Logger

	// TaxRateBasisPoints is the fixed tax rate, e.g. 1900 for 19%
	TaxRateBasisPoints int64

	// Clock is injectable for deterministic invoice numbering in tests
	Clock func() time.Time
}

// Manager handles the database operations relating to Invoice
type Manager struct {
	Options
}

// NewManager returns a new Manager for invoices
func NewManager(option Options) (*Manager, error) {
	if option.DB == nil {
		return nil, fmt.Errorf("nil DB is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Clock == nil {
		option.Clock = time.Now
	}
	if err := option.DB.AutoMigrate(&Invoice{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize invoice.Manager")
	}
	return &Manager{
		Options: option,
	}, nil
}

func nextSequence(last string) int {
	parts := strings.Split(last, "-")
	if len(parts) != 3 {
		return 1
	}
	seq, err := strconv.Atoi(parts[2])
	if err != nil {
		return 1
	}
	return seq + 1
}

// newForOrder freezes the order's charge into an invoice row at the given
// tax rate. The total is always amount plus tax; an already-paid order
// produces a paid invoice directly.
func newForOrder(o *order.Order, number string, taxRateBasisPoints int64) Invoice {
	amount := o.TotalCents
	tax := TaxFor(amount, taxRateBasisPoints)
	inv := Invoice{
		ID:          uuid.New().String(),
		Number:      number,
		OrderID:     o.ID,
		UserID:      o.UserID,
		AmountCents: amount,
		TaxCents:    tax,
		TotalCents:  amount + tax,
		Status:      StatusOpen,
	}
	if o.PaidAt != nil {
		inv.Status = StatusPaid
		inv.PaidAt = o.PaidAt
	}
	return inv
}

// EnsureForOrder creates the invoice for the order if none exists yet.
// Concurrent callers race at the unique index on order_id; the loser's
// insert is a no-op and both observe the single surviving row, so "invoice
// already exists" is success, not an error.
func (m *Manager) EnsureForOrder(ctx context.Context, o *order.Order) (*Invoice, error) {
	var result Invoice
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prefix := fmt.Sprintf("INV-%s-", m.Clock().Format("200601"))

		var last Invoice
		seq := 1
		lookupRes := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("number LIKE ?", prefix+"%").
			Order("number desc").
			First(&last)
		if lookupRes.Error == nil {
			seq = nextSequence(last.Number)
		} else if !errors.Is(lookupRes.Error, gorm.ErrRecordNotFound) {
			return lookupRes.Error
		}

		candidate := newForOrder(o, fmt.Sprintf("%s%04d", prefix, seq), m.TaxRateBasisPoints)

		createRes := tx.
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "order_id"}},
				DoNothing: true,
			}).
			Create(&candidate)
		if createRes.Error != nil {
			return createRes.Error
		}

		// re-read so the concurrent loser returns the surviving row
		return tx.Where("order_id = ?", o.ID).First(&result).Error
	}, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		m.Logger.Error("Unable to ensure invoice for order",
			zap.String("OrderID", o.ID),
			zap.Error(err),
		)
		return nil, extErrors.Wrap(err, "Cannot ensure invoice")
	}
	return &result, nil
}

// GetByOrderID returns the invoice for the order or nil when none exists
func (m *Manager) GetByOrderID(ctx context.Context, orderID string) (*Invoice, error) {
	inv := Invoice{}

	result := m.DB.WithContext(ctx).Where("order_id = ?", orderID).First(&inv)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.Logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get invoice by order id")
	}

	return &inv, nil
}

// Ensurer is the single-row invoice guarantee the transition hook relies on
type Ensurer interface {
	EnsureForOrder(ctx context.Context, o *order.Order) (*Invoice, error)
}

// TransitionHook returns an order hook that generates the invoice on the
// first transition into PAID or COMPLETED. Safe to call repeatedly: the
// hook skips transitions that were already past those states, and the
// ensure itself treats an existing invoice as success.
func TransitionHook(e Ensurer) order.Hook {
	return func(ctx context.Context, o *order.Order, from order.Status) error {
		entering := o.Status == order.StatusPaid || o.Status == order.StatusCompleted
		wasAlready := from == order.StatusPaid || from == order.StatusCompleted
		if !entering || wasAlready {
			return nil
		}
		_, err := e.EnsureForOrder(ctx, o)
		return err
	}
}
