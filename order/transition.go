package order

import (
	"context"
	"fmt"
	"time"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// Store is the persistence surface the Transitioner needs
type Store interface {
	GetByID(ctx context.Context, id string) (*Order, error)
	UpdateWithLock(ctx context.Context, id string, fn UpdateFunc) (*Order, error)
}

// Hook runs after a committed transition. Hooks must be idempotent: a failed
// hook leaves the transition in place and the caller retries the whole
// operation.
type Hook func(ctx context.Context, o *Order, from Status) error

// TransitionerOptions provides initialization parameters for Transitioner
type TransitionerOptions struct {
	Store  Store
	Logger *zap.Logger

	// Clock is injectable for deterministic timestamps in tests
	Clock func() time.Time
}

// Transitioner validates and executes order status transitions and fires
// post-transition hooks. Side effects (invoice generation) are hooks rather
// than inline logic so more can be added without touching the state machine.
type Transitioner struct {
	TransitionerOptions
	hooks []Hook
}

// NewTransitioner returns a Transitioner
func NewTransitioner(option TransitionerOptions) (*Transitioner, error) {
	if option.Store == nil {
		return nil, fmt.Errorf("nil Store is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	if option.Clock == nil {
		option.Clock = time.Now
	}
	return &Transitioner{
		TransitionerOptions: option,
	}, nil
}

// OnTransition registers a post-transition hook
func (t *Transitioner) OnTransition(h Hook) {
	t.hooks = append(t.hooks, h)
}

// Transition moves the order to target if the edge is legal, applying the
// entry side effects for PAID and COMPLETED inside the same row-locked
// transaction
func (t *Transitioner) Transition(ctx context.Context, orderID string, target Status) (*Order, error) {
	var from Status
	now := t.Clock()

	updated, err := t.Store.UpdateWithLock(ctx, orderID, func(current *Order) error {
		if !CanTransition(current.Status, target) {
			return &InvalidTransitionError{From: current.Status, To: target}
		}
		from = current.Status
		current.Status = target

		switch target {
		case StatusPaid:
			if current.PaidAt == nil {
				paidAt := now
				current.PaidAt = &paidAt
			}
		case StatusCompleted:
			if current.CompletedAt == nil {
				completedAt := now
				current.CompletedAt = &completedAt
			}
			// freeze the payment status on completion
			if current.PaymentStatus == "" {
				current.PaymentStatus = "paid"
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, hook := range t.hooks {
		if err := hook(ctx, updated, from); err != nil {
			t.Logger.Error("Post-transition hook failed",
				zap.String("OrderID", updated.ID),
				zap.String("From", string(from)),
				zap.String("To", string(target)),
				zap.Error(err),
			)
			return updated, extErrors.Wrap(err, "Transition committed but a post-transition hook failed")
		}
	}

	return updated, nil
}

// Cancel cancels the order. Customers may only cancel from PENDING; the
// admin path follows the regular transition table (any non-terminal state).
func (t *Transitioner) Cancel(ctx context.Context, orderID string, byCustomer bool) (*Order, error) {
	if byCustomer {
		o, err := t.Store.GetByID(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if o == nil {
			return nil, ErrNotFound
		}
		if o.Status != StatusPending {
			return nil, &InvalidStateError{Status: o.Status, Want: []Status{StatusPending}}
		}
	}
	return t.Transition(ctx, orderID, StatusCancelled)
}
