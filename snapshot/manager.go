package snapshot

import (
	"context"
	"errors"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager handles the database operations relating to Snapshot
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewManager returns a new Manager for snapshots
func NewManager(logger *zap.Logger, db *gorm.DB) (*Manager, error) {
	if err := db.AutoMigrate(&Snapshot{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize snapshot.Manager")
	}
	return &Manager{
		db:     db,
		logger: logger,
	}, nil
}

// ListForInstance returns the local snapshots of an instance
func (m *Manager) ListForInstance(ctx context.Context, vpsID string) ([]Snapshot, error) {
	results := make([]Snapshot, 0, 1)
	result := m.db.WithContext(ctx).
		Where("vps_instance_id = ?", vpsID).
		Order("created_at asc").
		Find(&results)
	if result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, result.Error
	}
	return results, nil
}

// Upsert creates the snapshot when its provider id is unseen for the
// instance, otherwise updates the mutable fields. No write is issued when
// nothing changed.
func (m *Manager) Upsert(ctx context.Context, s *Snapshot) error {
	var existing Snapshot
	result := m.db.WithContext(ctx).
		Where("vps_instance_id = ? AND provider_id = ?", s.VpsInstanceID, s.ProviderID).
		First(&existing)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		if createRes := m.db.WithContext(ctx).Create(s); createRes.Error != nil {
			return extErrors.Wrap(createRes.Error, "Cannot create snapshot")
		}
		return nil
	}
	if result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot look up snapshot")
	}

	if existing.Name == s.Name && existing.SizeMB == s.SizeMB {
		*s = existing
		return nil
	}
	existing.Name = s.Name
	existing.SizeMB = s.SizeMB
	if saveRes := m.db.WithContext(ctx).Save(&existing); saveRes.Error != nil {
		return extErrors.Wrap(saveRes.Error, "Cannot update snapshot")
	}
	*s = existing
	return nil
}

// DeleteAbsent removes every local snapshot of the instance whose provider
// id is not in keep
func (m *Manager) DeleteAbsent(ctx context.Context, vpsID string, keep []string) error {
	baseQuery := m.db.WithContext(ctx).Where("vps_instance_id = ?", vpsID)
	if len(keep) > 0 {
		baseQuery = baseQuery.Where("provider_id NOT IN ?", keep)
	}
	if result := baseQuery.Delete(&Snapshot{}); result.Error != nil {
		m.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return extErrors.Wrap(result.Error, "Cannot delete absent snapshots")
	}
	return nil
}

// Delete removes a single snapshot row
func (m *Manager) Delete(ctx context.Context, id string) error {
	if result := m.db.WithContext(ctx).Where("id = ?", id).Delete(&Snapshot{}); result.Error != nil {
		return extErrors.Wrap(result.Error, "Cannot delete snapshot")
	}
	return nil
}
