package vps

import (
	"context"
	"testing"
	"time"

	"github.com/nimbushost/nimbus/provider"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testProxy(t *testing.T, instances *fakeInstanceStore, api *fakeProvider) *ActionProxy {
	p, err := NewActionProxy(ProxyOptions{
		Instances: instances,
		Provider:  api,
		Vault:     fakeVault{},
		Logger:    zap.NewNop(),
		Clock:     func() time.Time { return time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return p
}

func runningInstance() *Instance {
	providerID := int64(42)
	return &Instance{
		ID:                 "vps-1",
		UserID:             "user-1",
		OrderID:            "order-1",
		ProviderInstanceID: &providerID,
		Status:             StatusRunning,
		IPAddress:          "203.0.113.7",
		EncryptedPassword:  []byte("enc:hunter2"),
	}
}

func TestExecuteProjectsStatus(t *testing.T) {
	instances := newFakeInstanceStore(runningInstance())
	api := &fakeProvider{result: provider.ActionResult{RequestID: "req-1", Status: "accepted"}}
	p := testProxy(t, instances, api)

	owner := Actor{UserID: "user-1"}
	action, err := p.Execute(context.Background(), owner, "vps-1", ActionStop)
	require.NoError(t, err)
	require.Equal(t, ActionStop, action.Type)
	require.Equal(t, ActionSubmitted, action.Status)
	require.Equal(t, "req-1", action.RequestID)
	require.Equal(t, []string{ActionStop}, api.calls)

	inst, err := instances.GetByID(context.Background(), "vps-1")
	require.NoError(t, err)
	require.Equal(t, StatusStopped, inst.Status)

	require.Len(t, instances.actions, 1)
	require.Equal(t, "user-1", instances.actions[0].UserID)
}

func TestExecuteRescueKeepsStatus(t *testing.T) {
	instances := newFakeInstanceStore(runningInstance())
	api := &fakeProvider{result: provider.ActionResult{RequestID: "req-1"}}
	p := testProxy(t, instances, api)

	_, err := p.Execute(context.Background(), Actor{UserID: "user-1"}, "vps-1", ActionRescue)
	require.NoError(t, err)

	inst, err := instances.GetByID(context.Background(), "vps-1")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, inst.Status)
}

func TestExecuteProviderFailureRecorded(t *testing.T) {
	instances := newFakeInstanceStore(runningInstance())
	api := &fakeProvider{err: &provider.UpstreamError{StatusCode: 500, Message: "boom"}}
	p := testProxy(t, instances, api)

	_, err := p.Execute(context.Background(), Actor{UserID: "user-1"}, "vps-1", ActionStart)
	require.Error(t, err)

	var upstream *provider.UpstreamError
	require.ErrorAs(t, err, &upstream)

	require.Len(t, instances.actions, 1)
	require.Equal(t, ActionFailed, instances.actions[0].Status)

	// local status untouched on provider failure
	inst, err := instances.GetByID(context.Background(), "vps-1")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, inst.Status)
}

func TestExecuteOwnership(t *testing.T) {
	instances := newFakeInstanceStore(runningInstance())
	api := &fakeProvider{result: provider.ActionResult{RequestID: "req-1"}}
	p := testProxy(t, instances, api)

	_, err := p.Execute(context.Background(), Actor{UserID: "someone-else"}, "vps-1", ActionStart)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Empty(t, api.calls)

	// admin passes the ownership check on someone else's instance
	_, err = p.Execute(context.Background(), Actor{UserID: "admin-1", Admin: true}, "vps-1", ActionStart)
	require.NoError(t, err)
}

func TestExecuteSuspendedGate(t *testing.T) {
	suspended := runningInstance()
	suspended.Status = StatusSuspended
	instances := newFakeInstanceStore(suspended)
	api := &fakeProvider{result: provider.ActionResult{RequestID: "req-1"}}
	p := testProxy(t, instances, api)

	// customers are locked out of suspended instances
	_, err := p.Execute(context.Background(), Actor{UserID: "user-1"}, "vps-1", ActionStart)
	var invalid *InvalidStateError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, StatusSuspended, invalid.Status)
	require.Empty(t, api.calls)

	// admins are not
	_, err = p.Execute(context.Background(), Actor{UserID: "admin-1", Admin: true}, "vps-1", ActionStart)
	require.NoError(t, err)
	require.Equal(t, []string{ActionStart}, api.calls)
}

func TestExecuteUnknownAction(t *testing.T) {
	p := testProxy(t, newFakeInstanceStore(runningInstance()), &fakeProvider{})

	_, err := p.Execute(context.Background(), Actor{UserID: "user-1"}, "vps-1", "selfDestruct")
	require.Error(t, err)
}

func TestExecuteNotProvisioned(t *testing.T) {
	unassigned := runningInstance()
	unassigned.ProviderInstanceID = nil
	p := testProxy(t, newFakeInstanceStore(unassigned), &fakeProvider{})

	_, err := p.Execute(context.Background(), Actor{UserID: "user-1"}, "vps-1", ActionStart)
	require.ErrorIs(t, err, ErrNotProvisioned)
}

func TestExpiredInstanceDeniesAction(t *testing.T) {
	expired := runningInstance()
	past := time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC)
	expired.ExpiresAt = &past
	instances := newFakeInstanceStore(expired)
	instances.clock = func() time.Time { return time.Date(2021, 3, 1, 0, 0, 0, 0, time.UTC) }
	api := &fakeProvider{result: provider.ActionResult{RequestID: "req-1"}}
	p := testProxy(t, instances, api)

	_, err := p.Execute(context.Background(), Actor{UserID: "user-1"}, "vps-1", ActionStart)
	var invalid *InvalidStateError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, StatusExpired, invalid.Status)
	require.Empty(t, api.calls)

	// the expiry flip was persisted by the read itself
	inst, err := instances.GetByID(context.Background(), "vps-1")
	require.NoError(t, err)
	require.Equal(t, StatusExpired, inst.Status)
}

func TestGetRootPassword(t *testing.T) {
	instances := newFakeInstanceStore(runningInstance())
	p := testProxy(t, instances, &fakeProvider{})

	password, err := p.GetRootPassword(context.Background(), Actor{UserID: "user-1"}, "vps-1")
	require.NoError(t, err)
	require.Equal(t, "hunter2", password)

	_, err = p.GetRootPassword(context.Background(), Actor{UserID: "someone-else"}, "vps-1")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestGetRootPasswordNotProvisioned(t *testing.T) {
	bare := runningInstance()
	bare.EncryptedPassword = nil
	p := testProxy(t, newFakeInstanceStore(bare), &fakeProvider{})

	_, err := p.GetRootPassword(context.Background(), Actor{UserID: "user-1"}, "vps-1")
	require.ErrorIs(t, err, ErrNotProvisioned)
}

func TestResetPassword(t *testing.T) {
	instances := newFakeInstanceStore(runningInstance())
	api := &fakeProvider{reset: provider.PasswordReset{
		ActionResult: provider.ActionResult{RequestID: "req-9"},
		RootPassword: "swordfish",
	}}
	p := testProxy(t, instances, api)

	password, err := p.ResetPassword(context.Background(), Actor{UserID: "user-1"}, "vps-1")
	require.NoError(t, err)
	require.Equal(t, "swordfish", password)

	// the old credential is gone for good
	stored, err := p.GetRootPassword(context.Background(), Actor{UserID: "user-1"}, "vps-1")
	require.NoError(t, err)
	require.Equal(t, "swordfish", stored)

	require.Len(t, instances.actions, 1)
	require.Equal(t, ActionResetPassword, instances.actions[0].Type)
	require.Equal(t, "req-9", instances.actions[0].RequestID)
}

func TestSuspendUnsuspend(t *testing.T) {
	instances := newFakeInstanceStore(runningInstance())
	p := testProxy(t, instances, &fakeProvider{})

	// customers cannot suspend
	_, err := p.Suspend(context.Background(), Actor{UserID: "user-1"}, "vps-1", "chargeback")
	require.ErrorIs(t, err, ErrUnauthorized)

	admin := Actor{UserID: "admin-1", Admin: true}
	inst, err := p.Suspend(context.Background(), admin, "vps-1", "chargeback")
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, inst.Status)
	require.Equal(t, "chargeback", inst.SuspendReason)
	require.NotNil(t, inst.SuspendedAt)

	// suspending twice is a no-op
	again, err := p.Suspend(context.Background(), admin, "vps-1", "chargeback")
	require.NoError(t, err)
	require.Equal(t, StatusSuspended, again.Status)

	inst, err = p.Unsuspend(context.Background(), admin, "vps-1")
	require.NoError(t, err)
	require.Equal(t, StatusStopped, inst.Status)
	require.Nil(t, inst.SuspendedAt)
	require.Empty(t, inst.SuspendReason)

	// unsuspending a non-suspended instance is rejected
	_, err = p.Unsuspend(context.Background(), admin, "vps-1")
	var invalid *InvalidStateError
	require.ErrorAs(t, err, &invalid)
}
