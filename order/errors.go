package order

import "fmt"

// ErrNotFound is returned when no order matches the lookup
var ErrNotFound = fmt.Errorf("order: not found")

// InvalidTransitionError is returned when the requested edge is not in the
// transition table; the order status is left unchanged.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order: illegal transition %s -> %s", e.From, e.To)
}

// InvalidStateError is returned when a precondition on the current order
// status is not met
type InvalidStateError struct {
	Status Status
	Want   []Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("order: status %s does not satisfy precondition %v", e.Status, e.Want)
}
