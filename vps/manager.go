package vps

import (
	"context"
	"errors"
	"strings"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Instance and Action
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
	clock  func() time.Time
}

// NewManager returns a new Manager for instances
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Instance{}, &Action{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize vps.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
		clock:  time.Now,
	}, nil
}

// GetByID returns the instance or nil when none exists. Reading an instance
// whose expiry has passed flips it to EXPIRED and persists the change before
// returning, so the in-flight action observes the expired state.
func (m *Manager) GetByID(ctx context.Context, id string) (*Instance, error) {
	inst := Instance{}

	result := m.db.WithContext(ctx).Where("id = ?", id).First(&inst)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get instance by id")
	}

	if applyExpiry(&inst, m.clock()) {
		if err := m.Update(ctx, &inst); err != nil {
			return nil, extErrors.Wrap(err, "Cannot persist expiry")
		}
	}

	return &inst, nil
}

// GetByProviderID returns the instance bound to the provider instance id, or
// nil when none exists
func (m *Manager) GetByProviderID(ctx context.Context, providerInstanceID int64) (*Instance, error) {
	inst := Instance{}

	result := m.db.WithContext(ctx).Where("provider_instance_id = ?", providerInstanceID).First(&inst)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, extErrors.Wrap(result.Error, "Cannot get instance by provider id")
	}

	return &inst, nil
}

// Create persists a new instance
func (m *Manager) Create(ctx context.Context, inst *Instance) error {
	result := m.db.WithContext(ctx).Create(inst)
	if result.Error != nil {
		m.logger.Error("Unable to create new instance in database",
			zap.Error(result.Error),
		)
		return result.Error
	}
	return nil
}

// Update saves the instance
func (m *Manager) Update(ctx context.Context, inst *Instance) error {
	result := m.db.WithContext(ctx).Save(inst)

	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return result.Error
	}
	return nil
}

// ListForUser returns the instances owned by a user, newest first
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]Instance, error) {
	results := make([]Instance, 0, 1)
	result := m.db.WithContext(ctx).
		Order("created_at desc").
		Find(&results, "user_id = ?", userID)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return results, nil
}

// RecordAction appends an audit row; audit rows are never mutated afterwards
func (m *Manager) RecordAction(ctx context.Context, action *Action) error {
	result := m.db.WithContext(ctx).Create(action)
	if result.Error != nil {
		m.logger.Error("Unable to record action in database",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot record action")
	}
	return nil
}

// ListActions returns the audit trail of an instance, oldest first
func (m *Manager) ListActions(ctx context.Context, instanceID string) ([]Action, error) {
	results := make([]Action, 0, 1)
	result := m.db.WithContext(ctx).
		Order("created_at asc").
		Find(&results, "instance_id = ?", instanceID)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return results, nil
}

// IsUniqueViolation reports whether the error is a unique-constraint
// violation. The loser of a double-provision race re-reads and re-branches
// instead of failing outright.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE 23505") || strings.Contains(msg, "duplicate key")
}
