package order

// Status is the custom type for the order fulfillment state
type Status string

// Orders move strictly along PENDING -> PAID -> PROCESSING -> PROVISIONING
// -> COMPLETED, with CANCELLED reachable from every non-terminal state.
const (
	StatusPending      Status = "PENDING"
	StatusPaid         Status = "PAID"
	StatusProcessing   Status = "PROCESSING"
	StatusProvisioning Status = "PROVISIONING"
	StatusCompleted    Status = "COMPLETED"
	StatusCancelled    Status = "CANCELLED"
)

// transitions is the static lookup table of legal successors. Skipping a
// step (e.g. PENDING -> COMPLETED) is rejected even when it looks harmless,
// since it bypasses the payment and provisioning guarantees.
var transitions = map[Status][]Status{
	StatusPending:      {StatusPaid, StatusCancelled},
	StatusPaid:         {StatusProcessing, StatusCancelled},
	StatusProcessing:   {StatusProvisioning, StatusCancelled},
	StatusProvisioning: {StatusCompleted, StatusCancelled},
	StatusCompleted:    {},
	StatusCancelled:    {},
}

// CanTransition reports whether the edge from -> to is in the table
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status has no outgoing edges
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}

// nextTowardCompletion maps each in-flight status to its single forward edge
var nextTowardCompletion = map[Status]Status{
	StatusPaid:         StatusProcessing,
	StatusProcessing:   StatusProvisioning,
	StatusProvisioning: StatusCompleted,
}

// NextTowardCompletion returns the next forward step for an order being
// driven to COMPLETED by the provisioning orchestrator
func NextTowardCompletion(s Status) (Status, bool) {
	next, ok := nextTowardCompletion[s]
	return next, ok
}
