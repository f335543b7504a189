package vps

import (
	"context"
	"fmt"
	"time"

	"github.com/nimbushost/nimbus/notification"
	"github.com/nimbushost/nimbus/order"
	"github.com/nimbushost/nimbus/provider"
	"github.com/nimbushost/nimbus/snapshot"
)

// ---------------------------------------------------------------- instances

type fakeInstanceStore struct {
	instances map[string]*Instance
	actions   []Action
	clock     func() time.Time

	createCalls int
	updateCalls int
}

func newFakeInstanceStore(instances ...*Instance) *fakeInstanceStore {
	s := &fakeInstanceStore{
		instances: make(map[string]*Instance),
		clock:     time.Now,
	}
	for _, inst := range instances {
		s.instances[inst.ID] = inst
	}
	return s
}

func (s *fakeInstanceStore) GetByID(ctx context.Context, id string) (*Instance, error) {
	inst, ok := s.instances[id]
	if !ok {
		return nil, nil
	}
	copied := *inst
	if applyExpiry(&copied, s.clock()) {
		*inst = copied
		s.updateCalls++
	}
	result := copied
	return &result, nil
}

func (s *fakeInstanceStore) GetByProviderID(ctx context.Context, providerInstanceID int64) (*Instance, error) {
	for _, inst := range s.instances {
		if inst.ProviderInstanceID != nil && *inst.ProviderInstanceID == providerInstanceID {
			copied := *inst
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeInstanceStore) Create(ctx context.Context, inst *Instance) error {
	s.createCalls++
	if inst.ProviderInstanceID != nil {
		for _, existing := range s.instances {
			if existing.ProviderInstanceID != nil && *existing.ProviderInstanceID == *inst.ProviderInstanceID {
				return fmt.Errorf("ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)")
			}
		}
	}
	copied := *inst
	s.instances[inst.ID] = &copied
	return nil
}

func (s *fakeInstanceStore) Update(ctx context.Context, inst *Instance) error {
	s.updateCalls++
	copied := *inst
	s.instances[inst.ID] = &copied
	return nil
}

func (s *fakeInstanceStore) RecordAction(ctx context.Context, action *Action) error {
	s.actions = append(s.actions, *action)
	return nil
}

// ------------------------------------------------------------------- orders

// fakeOrders implements both OrderStore and TransitionService with the real
// transition table
type fakeOrders struct {
	orders map[string]*order.Order
}

func newFakeOrders(orders ...*order.Order) *fakeOrders {
	s := &fakeOrders{orders: make(map[string]*order.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeOrders) GetByID(ctx context.Context, id string) (*order.Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	copied := *o
	return &copied, nil
}

func (s *fakeOrders) Update(ctx context.Context, o *order.Order) error {
	stored, ok := s.orders[o.ID]
	if !ok {
		return order.ErrNotFound
	}
	*stored = *o
	return nil
}

func (s *fakeOrders) Transition(ctx context.Context, orderID string, target order.Status) (*order.Order, error) {
	o, ok := s.orders[orderID]
	if !ok {
		return nil, order.ErrNotFound
	}
	if !order.CanTransition(o.Status, target) {
		return nil, &order.InvalidTransitionError{From: o.Status, To: target}
	}
	o.Status = target
	copied := *o
	return &copied, nil
}

// -------------------------------------------------------------------- vault

type fakeVault struct{}

func (fakeVault) Encrypt(plaintext string) ([]byte, error) {
	return []byte("enc:" + plaintext), nil
}

func (fakeVault) Decrypt(blob []byte) (string, error) {
	return string(blob[len("enc:"):]), nil
}

// ----------------------------------------------------------------- notifier

type fakeNotifier struct {
	events []notification.ProvisionedEvent
	err    error
}

func (n *fakeNotifier) SendVpsProvisioned(ctx context.Context, event notification.ProvisionedEvent) error {
	n.events = append(n.events, event)
	return n.err
}

// ----------------------------------------------------------------- provider

type fakeProvider struct {
	result    provider.ActionResult
	reset     provider.PasswordReset
	snapshots []provider.Snapshot
	err       error

	calls []string
}

func (p *fakeProvider) action(name string) (*provider.ActionResult, error) {
	p.calls = append(p.calls, name)
	if p.err != nil {
		return nil, p.err
	}
	copied := p.result
	return &copied, nil
}

func (p *fakeProvider) StartInstance(ctx context.Context, id int64) (*provider.ActionResult, error) {
	return p.action(ActionStart)
}

func (p *fakeProvider) StopInstance(ctx context.Context, id int64) (*provider.ActionResult, error) {
	return p.action(ActionStop)
}

func (p *fakeProvider) RestartInstance(ctx context.Context, id int64) (*provider.ActionResult, error) {
	return p.action(ActionRestart)
}

func (p *fakeProvider) ShutdownInstance(ctx context.Context, id int64) (*provider.ActionResult, error) {
	return p.action(ActionShutdown)
}

func (p *fakeProvider) RescueInstance(ctx context.Context, id int64) (*provider.ActionResult, error) {
	return p.action(ActionRescue)
}

func (p *fakeProvider) ResetPassword(ctx context.Context, id int64) (*provider.PasswordReset, error) {
	p.calls = append(p.calls, ActionResetPassword)
	if p.err != nil {
		return nil, p.err
	}
	copied := p.reset
	return &copied, nil
}

func (p *fakeProvider) ListSnapshots(ctx context.Context, id int64) ([]provider.Snapshot, error) {
	p.calls = append(p.calls, "listSnapshots")
	if p.err != nil {
		return nil, p.err
	}
	return p.snapshots, nil
}

func (p *fakeProvider) CreateSnapshot(ctx context.Context, id int64, name, description string) (*provider.ActionResult, error) {
	p.calls = append(p.calls, "createSnapshot")
	if p.err != nil {
		return nil, p.err
	}
	copied := p.result
	return &copied, nil
}

func (p *fakeProvider) DeleteSnapshot(ctx context.Context, id int64, snapshotID string) error {
	p.calls = append(p.calls, "deleteSnapshot:"+snapshotID)
	return p.err
}

// ---------------------------------------------------------------- snapshots

type fakeSnapshotStore struct {
	byProviderID map[string]*snapshot.Snapshot

	created []string
	updated []string
	deleted []string
}

func newFakeSnapshotStore(existing ...*snapshot.Snapshot) *fakeSnapshotStore {
	s := &fakeSnapshotStore{byProviderID: make(map[string]*snapshot.Snapshot)}
	for _, snap := range existing {
		s.byProviderID[snap.ProviderID] = snap
	}
	return s
}

func (s *fakeSnapshotStore) ListForInstance(ctx context.Context, vpsID string) ([]snapshot.Snapshot, error) {
	results := make([]snapshot.Snapshot, 0, len(s.byProviderID))
	for _, snap := range s.byProviderID {
		if snap.VpsInstanceID == vpsID {
			results = append(results, *snap)
		}
	}
	return results, nil
}

func (s *fakeSnapshotStore) Upsert(ctx context.Context, snap *snapshot.Snapshot) error {
	existing, ok := s.byProviderID[snap.ProviderID]
	if !ok {
		copied := *snap
		s.byProviderID[snap.ProviderID] = &copied
		s.created = append(s.created, snap.ProviderID)
		return nil
	}
	if existing.Name == snap.Name && existing.SizeMB == snap.SizeMB {
		return nil
	}
	existing.Name = snap.Name
	existing.SizeMB = snap.SizeMB
	s.updated = append(s.updated, snap.ProviderID)
	return nil
}

func (s *fakeSnapshotStore) DeleteAbsent(ctx context.Context, vpsID string, keep []string) error {
	keepSet := make(map[string]bool)
	for _, id := range keep {
		keepSet[id] = true
	}
	for id, snap := range s.byProviderID {
		if snap.VpsInstanceID == vpsID && !keepSet[id] {
			delete(s.byProviderID, id)
			s.deleted = append(s.deleted, id)
		}
	}
	return nil
}

func (s *fakeSnapshotStore) Delete(ctx context.Context, id string) error {
	for providerID, snap := range s.byProviderID {
		if snap.ID == id {
			delete(s.byProviderID, providerID)
			s.deleted = append(s.deleted, providerID)
			return nil
		}
	}
	return nil
}
