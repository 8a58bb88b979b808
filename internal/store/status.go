package store

import "github.com/safar/flower-store/internal/models"

// allowedTransitions is the order status state machine. delivered and
// cancelled are terminal; cancelled is reachable from any non-terminal state.
var allowedTransitions = map[string][]string{
	models.OrderStatusPending:    {models.OrderStatusProcessing, models.OrderStatusCancelled},
	models.OrderStatusProcessing: {models.OrderStatusShipped, models.OrderStatusCancelled},
	models.OrderStatusShipped:    {models.OrderStatusDelivered, models.OrderStatusCancelled},
	models.OrderStatusDelivered:  {},
	models.OrderStatusCancelled:  {},
}

// CanTransition reports whether an order may move from one status to another.
// A transition to the current status is allowed and treated as a no-op by
// UpdateOrderStatus, which makes repeated identical calls idempotent.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
