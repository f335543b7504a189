package vps

import (
	"context"
	"fmt"
	"time"

	"github.com/nimbushost/nimbus/notification"
	"github.com/nimbushost/nimbus/order"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// InstanceStore is the persistence surface for instances
type InstanceStore interface {
	GetByID(ctx context.Context, id string) (*Instance, error)
	GetByProviderID(ctx context.Context, providerInstanceID int64) (*Instance, error)
	Create(ctx context.Context, inst *Instance) error
	Update(ctx context.Context, inst *Instance) error
	RecordAction(ctx context.Context, action *Action) error
}

// OrderStore is the order persistence surface the orchestrator needs
type OrderStore interface {
	GetByID(ctx context.Context, id string) (*order.Order, error)
	Update(ctx context.Context, o *order.Order) error
}

// TransitionService drives order status changes through the state machine
type TransitionService interface {
	Transition(ctx context.Context, orderID string, target order.Status) (*order.Order, error)
}

// CredentialVault encrypts credentials at rest
type CredentialVault interface {
	Encrypt(plaintext string) ([]byte, error)
	Decrypt(blob []byte) (string, error)
}

// OrchestratorOptions provides initialization parameters for Orchestrator
type OrchestratorOptions struct {
	Instances    InstanceStore
	Orders       OrderStore
	Transitioner TransitionService
	Vault        CredentialVault
	Notifier     notification.Notifier
	Logger       *zap.Logger

	DashboardLink string
	Clock         func() time.Time
}

// Orchestrator binds orders to provider instances. Every decision re-reads
// persisted state, which is what makes whole-operation retry safe after a
// crash or timeout at any point.
type Orchestrator struct {
	OrchestratorOptions
}

// NewOrchestrator returns an Orchestrator
func NewOrchestrator(option OrchestratorOptions) (*Orchestrator, error) {
	if option.Instances == nil {
		return nil, fmt.Errorf("nil Instances is invalid")
	}
	if option.Orders == nil {
		return nil, fmt.Errorf("nil Orders is invalid")
	}
	if option.Transitioner == nil {
		return nil, fmt.Errorf("nil Transitioner is invalid")
	}
	if option.Vault == nil {
		return nil, fmt.Errorf("nil Vault is invalid")
	}
	if option.Notifier == nil {
		return nil, fmt.Errorf("nil Notifier is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Clock == nil {
		option.Clock = time.Now
	}
	return &Orchestrator{
		OrchestratorOptions: option,
	}, nil
}

// ProvisionInput is the admin-supplied binding of an order to a provider instance
type ProvisionInput struct {
	OrderID            string
	ProviderInstanceID int64
	IPAddress          string
	RootPassword       string
	Region             string
	DisplayName        string
	Notes              string
}

// provisionable is the precondition set for Provision; PROVISIONING is
// explicitly allowed so a crash mid-provisioning can be retried
var provisionable = []order.Status{order.StatusPaid, order.StatusProcessing, order.StatusProvisioning}

func orderProvisionable(s order.Status) bool {
	for _, allowed := range provisionable {
		if s == allowed {
			return true
		}
	}
	return false
}

// Provision executes the first-provision / retry / conflict algorithm.
// Calling it twice with identical arguments is idempotent: the second call
// updates in place, does not create a second row, and does not re-notify.
func (o *Orchestrator) Provision(ctx context.Context, in ProvisionInput) (*Instance, error) {
	ord, err := o.Orders.GetByID(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if ord == nil {
		return nil, order.ErrNotFound
	}
	if !orderProvisionable(ord.Status) {
		return nil, &order.InvalidStateError{Status: ord.Status, Want: provisionable}
	}

	if in.Notes != "" && in.Notes != ord.AdminNotes {
		ord.AdminNotes = in.Notes
		if err := o.Orders.Update(ctx, ord); err != nil {
			return nil, extErrors.Wrap(err, "Cannot record provisioning notes")
		}
	}

	existing, err := o.Instances.GetByProviderID(ctx, in.ProviderInstanceID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		inst, created, err := o.firstProvision(ctx, ord, in)
		if err != nil {
			return nil, err
		}
		if created {
			return inst, nil
		}
		// lost the race against a concurrent provision: re-read and re-branch
		existing, err = o.Instances.GetByProviderID(ctx, in.ProviderInstanceID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("provider instance %d vanished after conflict", in.ProviderInstanceID)
		}
	}

	if existing.OrderID != ord.ID {
		return nil, &ConflictError{
			ProviderInstanceID: in.ProviderInstanceID,
			BoundOrderID:       existing.OrderID,
		}
	}

	return o.retryProvision(ctx, ord, existing, in)
}

// firstProvision creates the instance row. Returns created == false when the
// unique index on provider_instance_id rejected the insert.
func (o *Orchestrator) firstProvision(ctx context.Context, ord *order.Order, in ProvisionInput) (*Instance, bool, error) {
	blob, err := o.Vault.Encrypt(in.RootPassword)
	if err != nil {
		return nil, false, extErrors.Wrap(err, "Cannot encrypt credentials")
	}

	region := in.Region
	if region == "" {
		region = ord.RegionCode
	}
	displayName := in.DisplayName
	if displayName == "" {
		displayName = ord.Number
	}
	providerID := in.ProviderInstanceID
	expiresAt := o.Clock().AddDate(0, ord.BillingMonths, 0)

	inst := &Instance{
		ID:                 uuid.New().String(),
		UserID:             ord.UserID,
		OrderID:            ord.ID,
		ProviderInstanceID: &providerID,
		Status:             StatusRunning,
		IPAddress:          in.IPAddress,
		DisplayName:        displayName,
		Region:             region,
		EncryptedPassword:  blob,
		ExpiresAt:          &expiresAt,
	}

	if err := o.Instances.Create(ctx, inst); err != nil {
		if IsUniqueViolation(err) {
			return nil, false, nil
		}
		return nil, false, extErrors.Wrap(err, "Cannot create instance")
	}

	if err := o.completeOrder(ctx, ord); err != nil {
		return nil, false, err
	}

	o.notify(ctx, ord, inst, in.RootPassword)
	return inst, true, nil
}

// retryProvision is the idempotent same-order path: refresh the mutable
// fields and re-complete the order. The notification is re-sent only when no
// password was previously stored, which is how "already notified" is tracked.
func (o *Orchestrator) retryProvision(ctx context.Context, ord *order.Order, existing *Instance, in ProvisionInput) (*Instance, error) {
	alreadyNotified := len(existing.EncryptedPassword) > 0

	blob, err := o.Vault.Encrypt(in.RootPassword)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot encrypt credentials")
	}

	existing.IPAddress = in.IPAddress
	existing.EncryptedPassword = blob
	if existing.Status == StatusProvisioning {
		existing.Status = StatusRunning
	}
	if in.Region != "" {
		existing.Region = in.Region
	}
	if in.DisplayName != "" {
		existing.DisplayName = in.DisplayName
	}
	if existing.ExpiresAt == nil {
		expiresAt := o.Clock().AddDate(0, ord.BillingMonths, 0)
		existing.ExpiresAt = &expiresAt
	}

	if err := o.Instances.Update(ctx, existing); err != nil {
		return nil, extErrors.Wrap(err, "Cannot update instance")
	}

	if err := o.completeOrder(ctx, ord); err != nil {
		return nil, err
	}

	if !alreadyNotified {
		o.notify(ctx, ord, existing, in.RootPassword)
	}
	return existing, nil
}

// completeOrder walks the order along its forward edges until COMPLETED
func (o *Orchestrator) completeOrder(ctx context.Context, ord *order.Order) error {
	current, err := o.Orders.GetByID(ctx, ord.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return order.ErrNotFound
	}
	for current.Status != order.StatusCompleted {
		next, ok := order.NextTowardCompletion(current.Status)
		if !ok {
			return &order.InvalidStateError{Status: current.Status, Want: provisionable}
		}
		current, err = o.Transitioner.Transition(ctx, ord.ID, next)
		if err != nil {
			return err
		}
	}
	return nil
}

// notify publishes the "server ready" notification. Failures are logged and
// swallowed: the instance is provisioned even if the mail never arrives.
func (o *Orchestrator) notify(ctx context.Context, ord *order.Order, inst *Instance, rootPassword string) {
	err := o.Notifier.SendVpsProvisioned(ctx, notification.ProvisionedEvent{
		UserID:        ord.UserID,
		Email:         ord.ContactEmail,
		ServerAddr:    inst.IPAddress,
		RootPassword:  rootPassword,
		Region:        inst.Region,
		DashboardLink: o.DashboardLink,
	})
	if err != nil {
		o.Logger.Error("Unable to send provisioned notification",
			zap.String("OrderID", ord.ID),
			zap.String("InstanceID", inst.ID),
			zap.Error(err),
		)
		// fail through: provisioning stands even when the notification is lost
	}
}

// AssignExisting binds a pre-existing unassigned instance to an order
func (o *Orchestrator) AssignExisting(ctx context.Context, orderID, vpsID string) (*Instance, error) {
	ord, err := o.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if ord == nil {
		return nil, order.ErrNotFound
	}
	if !orderProvisionable(ord.Status) {
		return nil, &order.InvalidStateError{Status: ord.Status, Want: provisionable}
	}

	inst, err := o.Instances.GetByID(ctx, vpsID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, ErrNotFound
	}
	if inst.OrderID != "" && inst.OrderID != ord.ID {
		var providerID int64
		if inst.ProviderInstanceID != nil {
			providerID = *inst.ProviderInstanceID
		}
		return nil, &ConflictError{
			ProviderInstanceID: providerID,
			BoundOrderID:       inst.OrderID,
		}
	}

	inst.OrderID = ord.ID
	inst.UserID = ord.UserID
	if inst.ExpiresAt == nil {
		expiresAt := o.Clock().AddDate(0, ord.BillingMonths, 0)
		inst.ExpiresAt = &expiresAt
	}
	if err := o.Instances.Update(ctx, inst); err != nil {
		return nil, extErrors.Wrap(err, "Cannot assign instance")
	}

	if err := o.completeOrder(ctx, ord); err != nil {
		return nil, err
	}
	return inst, nil
}
