package vps

import (
	"context"
	"fmt"

	"github.com/nimbushost/nimbus/provider"
	"github.com/nimbushost/nimbus/snapshot"

	"go.uber.org/zap"
)

// SnapshotStore is the persistence surface for snapshot reconciliation
type SnapshotStore interface {
	ListForInstance(ctx context.Context, vpsID string) ([]snapshot.Snapshot, error)
	Upsert(ctx context.Context, s *snapshot.Snapshot) error
	DeleteAbsent(ctx context.Context, vpsID string, keep []string) error
	Delete(ctx context.Context, id string) error
}

// SyncerOptions provides initialization parameters for SnapshotSyncer
type SyncerOptions struct {
	Instances InstanceStore
	Snapshots SnapshotStore
	Provider  ProviderAPI
	Logger    *zap.Logger
}

// SnapshotSyncer reconciles provider-reported snapshots into local records.
// The merge is one-way: provider truth wins.
type SnapshotSyncer struct {
	SyncerOptions
}

// NewSnapshotSyncer returns a SnapshotSyncer
func NewSnapshotSyncer(option SyncerOptions) (*SnapshotSyncer, error) {
	if option.Instances == nil {
		return nil, fmt.Errorf("nil Instances is invalid")
	}
	if option.Snapshots == nil {
		return nil, fmt.Errorf("nil Snapshots is invalid")
	}
	if option.Provider == nil {
		return nil, fmt.Errorf("nil Provider is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &SnapshotSyncer{
		SyncerOptions: option,
	}, nil
}

// instance re-fetches and authorizes before any snapshot operation
func (s *SnapshotSyncer) instance(ctx context.Context, actor Actor, vpsID string) (*Instance, error) {
	inst, err := s.Instances.GetByID(ctx, vpsID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, ErrNotFound
	}
	if inst.UserID != actor.UserID && !actor.Admin {
		return nil, ErrUnauthorized
	}
	if inst.ProviderInstanceID == nil {
		return nil, ErrNotProvisioned
	}
	return inst, nil
}

// SyncSnapshots fetches the provider snapshot list and merges it into local
// records. Upserts run before deletes so a concurrent reader never observes
// an empty list mid-sync.
func (s *SnapshotSyncer) SyncSnapshots(ctx context.Context, actor Actor, vpsID string) ([]snapshot.Snapshot, error) {
	inst, err := s.instance(ctx, actor, vpsID)
	if err != nil {
		return nil, err
	}

	reported, err := s.Provider.ListSnapshots(ctx, *inst.ProviderInstanceID)
	if err != nil {
		return nil, err
	}

	keep := make([]string, 0, len(reported))
	for _, remote := range reported {
		local := snapshot.Snapshot{
			VpsInstanceID: inst.ID,
			ProviderID:    remote.SnapshotID,
			Name:          remote.Name,
			SizeMB:        remote.SizeMB,
		}
		if err := s.Snapshots.Upsert(ctx, &local); err != nil {
			return nil, err
		}
		keep = append(keep, remote.SnapshotID)
	}

	if err := s.Snapshots.DeleteAbsent(ctx, inst.ID, keep); err != nil {
		return nil, err
	}

	return s.Snapshots.ListForInstance(ctx, inst.ID)
}

// ListSnapshots returns the local snapshot records without contacting the
// provider
func (s *SnapshotSyncer) ListSnapshots(ctx context.Context, actor Actor, vpsID string) ([]snapshot.Snapshot, error) {
	inst, err := s.instance(ctx, actor, vpsID)
	if err != nil {
		return nil, err
	}
	return s.Snapshots.ListForInstance(ctx, inst.ID)
}

// CreateSnapshot asks the provider to snapshot the instance. The operation is
// asynchronous; the local record appears on the next sync.
func (s *SnapshotSyncer) CreateSnapshot(ctx context.Context, actor Actor, vpsID, name, description string) (*provider.ActionResult, error) {
	inst, err := s.instance(ctx, actor, vpsID)
	if err != nil {
		return nil, err
	}
	result, err := s.Provider.CreateSnapshot(ctx, *inst.ProviderInstanceID, name, description)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("Snapshot requested",
		zap.String("InstanceID", inst.ID),
		zap.String("RequestID", result.RequestID),
	)
	return result, nil
}

// DeleteSnapshot removes the snapshot upstream first, then drops the local
// record when one exists
func (s *SnapshotSyncer) DeleteSnapshot(ctx context.Context, actor Actor, vpsID, providerSnapshotID string) error {
	inst, err := s.instance(ctx, actor, vpsID)
	if err != nil {
		return err
	}
	if err := s.Provider.DeleteSnapshot(ctx, *inst.ProviderInstanceID, providerSnapshotID); err != nil {
		return err
	}
	locals, err := s.Snapshots.ListForInstance(ctx, inst.ID)
	if err != nil {
		return err
	}
	for _, local := range locals {
		if local.ProviderID == providerSnapshotID {
			return s.Snapshots.Delete(ctx, local.ID)
		}
	}
	return nil
}
