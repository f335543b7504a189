package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Manager handles the database operations relating to Order
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for orders
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Order{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize order.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// NumberFor formats an order number for the given month and sequence
func NumberFor(t time.Time, seq int) string {
	return fmt.Sprintf("ORD-%s-%04d", t.Format("200601"), seq)
}

// nextSequence parses the trailing sequence of the highest existing number
// for the month. The caller must hold the last row FOR UPDATE.
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

// Create persists a new order, assigning the next monotonic number for the
// current month inside the same transaction
func (m *Manager) Create(ctx context.Context, o *Order) error {
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		month := o.CreatedAt
		if month.IsZero() {
			month = time.Now()
		}
		prefix := fmt.Sprintf("ORD-%s-", month.Format("200601"))

		var last Order
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

		o.Number = NumberFor(month, seq)
		return tx.Create(o).Error
	}, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		m.logger.Error("Unable to create new order in database",
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot create order")
	}
	return nil
}

// GetByID returns the order or nil when none exists
func (m *Manager) GetByID(ctx context.Context, id string) (*Order, error) {
	o := Order{}

	result := m.db.WithContext(ctx).Where("id = ?", id).First(&o)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get order by id")
	}

	return &o, nil
}

// Update saves mutable non-status fields (payment linkage, admin notes)
func (m *Manager) Update(ctx context.Context, o *Order) error {
	result := m.db.WithContext(ctx).Save(o)

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return result.Error
	}
	return nil
}

// List returns the orders of a user, newest first
func (m *Manager) List(ctx context.Context, userID string, limit int) ([]Order, error) {
	results := make([]Order, 0, 1)
	baseQuery := m.db.WithContext(ctx).Order("created_at desc").Where("user_id = ?", userID)
	if limit > 0 {
		baseQuery = baseQuery.Limit(limit)
	}
	result := baseQuery.Find(&results)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return results, nil
}

// UpdateFunc mutates the order in place; returning an error aborts the
// transaction and leaves the row untouched
type UpdateFunc func(current *Order) error

// UpdateWithLock re-reads the order FOR UPDATE under a serializable
// transaction, applies fn, and saves the result. This is the only mutation
// path for order status, which makes crash-and-retry of any step safe.
func (m *Manager) UpdateWithLock(ctx context.Context, id string, fn UpdateFunc) (*Order, error) {
	var updated Order
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Order
		lookupRes := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&current, "id = ?", id)
		if errors.Is(lookupRes.Error, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if lookupRes.Error != nil {
			return lookupRes.Error
		}
		if err := fn(&current); err != nil {
			return err
		}
		if saveRes := tx.Save(&current); saveRes.Error != nil {
			return saveRes.Error
		}
		updated = current
		return nil
	}, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
