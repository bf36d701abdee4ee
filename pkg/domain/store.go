package domain

import "context"

// OrderFilter narrows ListOrders results. Zero-value fields are ignored.
type OrderFilter struct {
	States     []OrderState
	CustomerID string
	Priority   Priority
}

// Matches reports whether the order satisfies every set filter field.
func (f OrderFilter) Matches(o Order) bool {
	if f.CustomerID != "" && o.CustomerID != f.CustomerID {
		return false
	}
	if f.Priority != "" && o.Priority != f.Priority {
		return false
	}
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if o.State == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// OrderStore persists order snapshots and their transition history. The event
// log remains the durability source of truth; the store serves reads and is
// rebuilt from the log after a crash when the two disagree.
type OrderStore interface {
	// PutOrder inserts or replaces the order snapshot.
	PutOrder(ctx context.Context, order Order) error
	// GetOrder returns the order or an OrderNotFoundError.
	GetOrder(ctx context.Context, id string) (Order, error)
	// ListOrders returns orders matching the filter, ordered by creation time.
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	// AppendTransition records one audit entry for the order.
	AppendTransition(ctx context.Context, rec TransitionRecord) error
	// Transitions returns the order's audit trail in applied order.
	Transitions(ctx context.Context, orderID string) ([]TransitionRecord, error)
	// CountCreatedOn returns how many orders carry the YYYYMMDD date stamp in
	// their ID. Used to allocate the next daily order sequence number.
	CountCreatedOn(ctx context.Context, dateStamp string) (int, error)
	Close() error
}
