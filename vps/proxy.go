package vps

import (
	"context"
	"fmt"
	"time"

	"github.com/nimbushost/nimbus/provider"

	"github.com/google/uuid"
	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// ProviderAPI is the slice of the provider client the proxy needs
type ProviderAPI interface {
	StartInstance(ctx context.Context, instanceID int64) (*provider.ActionResult, error)
	StopInstance(ctx context.Context, instanceID int64) (*provider.ActionResult, error)
	RestartInstance(ctx context.Context, instanceID int64) (*provider.ActionResult, error)
	ShutdownInstance(ctx context.Context, instanceID int64) (*provider.ActionResult, error)
	RescueInstance(ctx context.Context, instanceID int64) (*provider.ActionResult, error)
	ResetPassword(ctx context.Context, instanceID int64) (*provider.PasswordReset, error)
	ListSnapshots(ctx context.Context, instanceID int64) ([]provider.Snapshot, error)
	CreateSnapshot(ctx context.Context, instanceID int64, name, description string) (*provider.ActionResult, error)
	DeleteSnapshot(ctx context.Context, instanceID int64, snapshotID string) error
}

// Actor identifies the caller for ownership checks
type Actor struct {
	UserID string
	Admin  bool
}

// ProxyOptions provides initialization parameters for ActionProxy
type ProxyOptions struct {
	Instances InstanceStore
	Provider  ProviderAPI
	Vault     CredentialVault
	Logger    *zap.Logger

	Clock func() time.Time
}

// ActionProxy is the authorization-checked pass-through of lifecycle actions
// to the provider. The local status it writes is an optimistic projection;
// confirmed state arrives via reconciliation.
type ActionProxy struct {
	ProxyOptions
}

// NewActionProxy returns an ActionProxy
func NewActionProxy(option ProxyOptions) (*ActionProxy, error) {
	if option.Instances == nil {
		return nil, fmt.Errorf("nil Instances is invalid")
	}
	if option.Provider == nil {
		return nil, fmt.Errorf("nil Provider is invalid")
	}
	if option.Vault == nil {
		return nil, fmt.Errorf("nil Vault is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Clock == nil {
		option.Clock = time.Now
	}
	return &ActionProxy{
		ProxyOptions: option,
	}, nil
}

// authorize re-fetches the instance and runs the local checks. All
// validation happens before any provider call; the proxy never issues a
// speculative upstream request.
func (p *ActionProxy) authorize(ctx context.Context, actor Actor, vpsID string, needProvider bool) (*Instance, error) {
	inst, err := p.Instances.GetByID(ctx, vpsID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, ErrNotFound
	}
	if inst.UserID != actor.UserID && !actor.Admin {
		return nil, ErrUnauthorized
	}
	if needProvider && inst.ProviderInstanceID == nil {
		return nil, ErrNotProvisioned
	}
	return inst, nil
}

func (p *ActionProxy) gate(inst *Instance, actor Actor) error {
	allowed := ReadyForAction(inst.Status)
	if actor.Admin {
		allowed = Manageable(inst.Status)
	}
	if !allowed {
		return &InvalidStateError{Status: inst.Status}
	}
	return nil
}

func (p *ActionProxy) record(ctx context.Context, inst *Instance, actor Actor, actionType, status, requestID string) *Action {
	action := &Action{
		ID:         uuid.New().String(),
		InstanceID: inst.ID,
		UserID:     actor.UserID,
		Type:       actionType,
		Status:     status,
		RequestID:  requestID,
	}
	if err := p.Instances.RecordAction(ctx, action); err != nil {
		p.Logger.Error("Unable to record action audit row",
			zap.String("InstanceID", inst.ID),
			zap.String("Action", actionType),
			zap.Error(err),
		)
	}
	return action
}

// Execute proxies a lifecycle action to the provider and projects the new
// local status deterministically from the action
func (p *ActionProxy) Execute(ctx context.Context, actor Actor, vpsID, actionType string) (*Action, error) {
	if !KnownAction(actionType) {
		return nil, fmt.Errorf("unknown action %q", actionType)
	}
	if actionType == ActionResetPassword {
		return nil, fmt.Errorf("use ResetPassword for password resets")
	}

	inst, err := p.authorize(ctx, actor, vpsID, true)
	if err != nil {
		return nil, err
	}
	if err := p.gate(inst, actor); err != nil {
		return nil, err
	}

	providerID := *inst.ProviderInstanceID
	var result *provider.ActionResult
	switch actionType {
	case ActionStart:
		result, err = p.Provider.StartInstance(ctx, providerID)
	case ActionStop:
		result, err = p.Provider.StopInstance(ctx, providerID)
	case ActionRestart:
		result, err = p.Provider.RestartInstance(ctx, providerID)
	case ActionShutdown:
		result, err = p.Provider.ShutdownInstance(ctx, providerID)
	case ActionRescue:
		result, err = p.Provider.RescueInstance(ctx, providerID)
	}
	if err != nil {
		p.record(ctx, inst, actor, actionType, ActionFailed, "")
		return nil, err
	}

	action := p.record(ctx, inst, actor, actionType, ActionSubmitted, result.RequestID)

	if projected := ProjectedStatus(actionType, inst.Status); projected != inst.Status {
		inst.Status = projected
		if err := p.Instances.Update(ctx, inst); err != nil {
			p.Logger.Error("Unable to project instance status",
				zap.String("InstanceID", inst.ID),
				zap.Error(err),
			)
			// fail through: reconciliation corrects the local record later
		}
	}

	return action, nil
}

// GetRootPassword decrypts and returns the stored credential. The contract
// is show-once: the server does not track whether it was viewed.
func (p *ActionProxy) GetRootPassword(ctx context.Context, actor Actor, vpsID string) (string, error) {
	inst, err := p.authorize(ctx, actor, vpsID, false)
	if err != nil {
		return "", err
	}
	if len(inst.EncryptedPassword) == 0 {
		return "", ErrNotProvisioned
	}
	return p.Vault.Decrypt(inst.EncryptedPassword)
}

// ResetPassword obtains a fresh password from the provider and overwrites
// the stored credential; the old password becomes permanently unrecoverable
func (p *ActionProxy) ResetPassword(ctx context.Context, actor Actor, vpsID string) (string, error) {
	inst, err := p.authorize(ctx, actor, vpsID, true)
	if err != nil {
		return "", err
	}
	if err := p.gate(inst, actor); err != nil {
		return "", err
	}

	reset, err := p.Provider.ResetPassword(ctx, *inst.ProviderInstanceID)
	if err != nil {
		p.record(ctx, inst, actor, ActionResetPassword, ActionFailed, "")
		return "", err
	}

	blob, err := p.Vault.Encrypt(reset.RootPassword)
	if err != nil {
		return "", extErrors.Wrap(err, "Cannot encrypt new credentials")
	}
	inst.EncryptedPassword = blob
	if err := p.Instances.Update(ctx, inst); err != nil {
		return "", extErrors.Wrap(err, "Cannot store new credentials")
	}

	p.record(ctx, inst, actor, ActionResetPassword, ActionSubmitted, reset.RequestID)
	return reset.RootPassword, nil
}

// Suspend marks the instance SUSPENDED with a reason (admin only)
func (p *ActionProxy) Suspend(ctx context.Context, actor Actor, vpsID, reason string) (*Instance, error) {
	if !actor.Admin {
		return nil, ErrUnauthorized
	}
	inst, err := p.authorize(ctx, actor, vpsID, false)
	if err != nil {
		return nil, err
	}
	if inst.Status == StatusSuspended {
		return inst, nil
	}
	if inst.Status == StatusTerminated {
		return nil, &InvalidStateError{Status: inst.Status}
	}

	now := p.Clock()
	inst.Status = StatusSuspended
	inst.SuspendedAt = &now
	inst.SuspendReason = reason
	if err := p.Instances.Update(ctx, inst); err != nil {
		return nil, extErrors.Wrap(err, "Cannot suspend instance")
	}
	p.record(ctx, inst, actor, "suspend", ActionSubmitted, "")
	return inst, nil
}

// Unsuspend lifts a suspension, returning the instance to STOPPED (admin only)
func (p *ActionProxy) Unsuspend(ctx context.Context, actor Actor, vpsID string) (*Instance, error) {
	if !actor.Admin {
		return nil, ErrUnauthorized
	}
	inst, err := p.authorize(ctx, actor, vpsID, false)
	if err != nil {
		return nil, err
	}
	if inst.Status != StatusSuspended {
		return nil, &InvalidStateError{Status: inst.Status}
	}

	inst.Status = StatusStopped
	inst.SuspendedAt = nil
	inst.SuspendReason = ""
	if err := p.Instances.Update(ctx, inst); err != nil {
		return nil, extErrors.Wrap(err, "Cannot unsuspend instance")
	}
	p.record(ctx, inst, actor, "unsuspend", ActionSubmitted, "")
	return inst, nil
}
