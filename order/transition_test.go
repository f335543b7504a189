package order

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	orders map[string]*Order
}

func newFakeStore(orders ...*Order) *fakeStore {
	s := &fakeStore{orders: make(map[string]*Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeStore) GetByID(ctx context.Context, id string) (*Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	copied := *o
	return &copied, nil
}

func (s *fakeStore) UpdateWithLock(ctx context.Context, id string, fn UpdateFunc) (*Order, error) {
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	working := *o
	if err := fn(&working); err != nil {
		return nil, err
	}
	*o = working
	copied := working
	return &copied, nil
}

func testTransitioner(t *testing.T, store Store) *Transitioner {
	tr, err := NewTransitioner(TransitionerOptions{
		Store:  store,
		Logger: zap.NewNop(),
		Clock:  func() time.Time { return time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return tr
}

func TestTransitionTable(t *testing.T) {
	legal := map[Status][]Status{
		StatusPending:      {StatusPaid, StatusCancelled},
		StatusPaid:         {StatusProcessing, StatusCancelled},
		StatusProcessing:   {StatusProvisioning, StatusCancelled},
		StatusProvisioning: {StatusCompleted, StatusCancelled},
		StatusCompleted:    {},
		StatusCancelled:    {},
	}
	all := []Status{StatusPending, StatusPaid, StatusProcessing, StatusProvisioning, StatusCompleted, StatusCancelled}

	for from, allowed := range legal {
		allowedSet := make(map[Status]bool)
		for _, to := range allowed {
			allowedSet[to] = true
		}
		for _, to := range all {
			require.Equal(t, allowedSet[to], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestSkippingForwardStatesRejected(t *testing.T) {
	require.False(t, CanTransition(StatusPaid, StatusProvisioning))
	require.False(t, CanTransition(StatusProcessing, StatusCompleted))
	require.False(t, CanTransition(StatusPending, StatusCompleted))

	// forward progress happens one edge at a time
	next, ok := NextTowardCompletion(StatusPaid)
	require.True(t, ok)
	require.Equal(t, StatusProcessing, next)
}

func TestIllegalTransitionLeavesStatusUnchanged(t *testing.T) {
	store := newFakeStore(&Order{ID: "o1", Status: StatusPending})
	tr := testTransitioner(t, store)

	_, err := tr.Transition(context.Background(), "o1", StatusCompleted)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, StatusPending, invalid.From)
	require.Equal(t, StatusCompleted, invalid.To)
	require.Equal(t, StatusPending, store.orders["o1"].Status)
}

func TestEnteringPaidSetsPaidAt(t *testing.T) {
	store := newFakeStore(&Order{ID: "o1", Status: StatusPending})
	tr := testTransitioner(t, store)

	updated, err := tr.Transition(context.Background(), "o1", StatusPaid)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, updated.Status)
	require.NotNil(t, updated.PaidAt)
}

func TestEnteringCompletedFreezesPayment(t *testing.T) {
	store := newFakeStore(&Order{ID: "o1", Status: StatusProvisioning})
	tr := testTransitioner(t, store)

	updated, err := tr.Transition(context.Background(), "o1", StatusCompleted)
	require.NoError(t, err)
	require.NotNil(t, updated.CompletedAt)
	require.Equal(t, "paid", updated.PaymentStatus)
}

func TestHooksFireAfterCommit(t *testing.T) {
	store := newFakeStore(&Order{ID: "o1", Status: StatusPending})
	tr := testTransitioner(t, store)

	var gotFrom Status
	var gotStatus Status
	tr.OnTransition(func(ctx context.Context, o *Order, from Status) error {
		gotFrom = from
		gotStatus = o.Status
		return nil
	})

	_, err := tr.Transition(context.Background(), "o1", StatusPaid)
	require.NoError(t, err)
	require.Equal(t, StatusPending, gotFrom)
	require.Equal(t, StatusPaid, gotStatus)
}

func TestHooksDoNotFireOnRejectedTransition(t *testing.T) {
	store := newFakeStore(&Order{ID: "o1", Status: StatusCompleted})
	tr := testTransitioner(t, store)

	calls := 0
	tr.OnTransition(func(ctx context.Context, o *Order, from Status) error {
		calls++
		return nil
	})

	_, err := tr.Transition(context.Background(), "o1", StatusCancelled)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, 0, calls)
}

func TestHookFailureSurfacesButTransitionSticks(t *testing.T) {
	store := newFakeStore(&Order{ID: "o1", Status: StatusPending})
	tr := testTransitioner(t, store)

	tr.OnTransition(func(ctx context.Context, o *Order, from Status) error {
		return fmt.Errorf("downstream unavailable")
	})

	_, err := tr.Transition(context.Background(), "o1", StatusPaid)
	require.Error(t, err)
	require.Equal(t, StatusPaid, store.orders["o1"].Status)
}

func TestCustomerCancelOnlyFromPending(t *testing.T) {
	store := newFakeStore(
		&Order{ID: "pending", Status: StatusPending},
		&Order{ID: "paid", Status: StatusPaid},
	)
	tr := testTransitioner(t, store)

	updated, err := tr.Cancel(context.Background(), "pending", true)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, updated.Status)

	_, err = tr.Cancel(context.Background(), "paid", true)
	var invalid *InvalidStateError
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, StatusPaid, store.orders["paid"].Status)
}

func TestAdminCancelFromAnyNonTerminal(t *testing.T) {
	store := newFakeStore(&Order{ID: "o1", Status: StatusProvisioning})
	tr := testTransitioner(t, store)

	updated, err := tr.Cancel(context.Background(), "o1", false)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, updated.Status)
}
