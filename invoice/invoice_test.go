package invoice

import (
	"context"
	"testing"
	"time"

	"github.com/nimbushost/nimbus/order"

	"github.com/stretchr/testify/require"
)

// fakeEnsurer mirrors EnsureForOrder's contract: the first call creates the
// row, later calls return the survivor without creating again
type fakeEnsurer struct {
	calls   int
	created int
	inv     *Invoice
}

func (f *fakeEnsurer) EnsureForOrder(ctx context.Context, o *order.Order) (*Invoice, error) {
	f.calls++
	if f.inv == nil {
		f.created++
		inv := newForOrder(o, "INV-202405-0001", 1900)
		f.inv = &inv
	}
	return f.inv, nil
}

func TestTaxFor(t *testing.T) {
	require.Equal(t, int64(190), TaxFor(1000, 1900))
	require.Equal(t, int64(0), TaxFor(0, 1900))
	require.Equal(t, int64(113), TaxFor(599, 1900))
}

func TestNextSequence(t *testing.T) {
	require.Equal(t, 2, nextSequence("INV-202405-0001"))
	require.Equal(t, 100, nextSequence("INV-202405-0099"))
	require.Equal(t, 1, nextSequence("garbage"))
}

func TestNewForOrderTotalIsAmountPlusTax(t *testing.T) {
	o := &order.Order{ID: "o1", UserID: "u1", TotalCents: 2199}

	inv := newForOrder(o, "INV-202405-0001", 1900)
	require.Equal(t, "INV-202405-0001", inv.Number)
	require.Equal(t, int64(2199), inv.AmountCents)
	require.Equal(t, TaxFor(2199, 1900), inv.TaxCents)
	require.Equal(t, inv.AmountCents+inv.TaxCents, inv.TotalCents)
	require.Equal(t, StatusOpen, inv.Status)

	paidAt := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)
	o.PaidAt = &paidAt
	paid := newForOrder(o, "INV-202405-0002", 1900)
	require.Equal(t, StatusPaid, paid.Status)
	require.Equal(t, &paidAt, paid.PaidAt)
}

func TestTransitionHookFiresOnFirstPaidEntry(t *testing.T) {
	e := &fakeEnsurer{}
	hook := TransitionHook(e)

	o := &order.Order{ID: "o1", UserID: "u1", TotalCents: 2199, Status: order.StatusPaid}
	require.NoError(t, hook(context.Background(), o, order.StatusPending))
	require.Equal(t, 1, e.calls)
	require.Equal(t, e.inv.AmountCents+e.inv.TaxCents, e.inv.TotalCents)
}

func TestTransitionHookSkipsNonInvoicedStates(t *testing.T) {
	e := &fakeEnsurer{}
	hook := TransitionHook(e)

	o := &order.Order{ID: "o1", Status: order.StatusProcessing}
	require.NoError(t, hook(context.Background(), o, order.StatusPaid))

	o.Status = order.StatusProvisioning
	require.NoError(t, hook(context.Background(), o, order.StatusProcessing))

	o.Status = order.StatusCancelled
	require.NoError(t, hook(context.Background(), o, order.StatusProvisioning))

	require.Equal(t, 0, e.calls)
}

func TestTransitionHookCompletionDoesNotCreateSecondInvoice(t *testing.T) {
	e := &fakeEnsurer{}
	hook := TransitionHook(e)

	o := &order.Order{ID: "o1", UserID: "u1", TotalCents: 2199, Status: order.StatusPaid}
	require.NoError(t, hook(context.Background(), o, order.StatusPending))

	o.Status = order.StatusCompleted
	require.NoError(t, hook(context.Background(), o, order.StatusProvisioning))

	require.Equal(t, 2, e.calls)
	require.Equal(t, 1, e.created)
}
