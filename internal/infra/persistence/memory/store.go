// Package memory provides the in-memory order store used by tests and
// ephemeral deployments.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"stitchcore/pkg/domain"
)

var _ domain.OrderStore = (*Store)(nil)

// Store keeps orders and transition history in process memory.
type Store struct {
	mu          sync.RWMutex
	orders      map[string]domain.Order
	transitions map[string][]domain.TransitionRecord
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		orders:      make(map[string]domain.Order),
		transitions: make(map[string][]domain.TransitionRecord),
	}
}

// PutOrder inserts or replaces the order snapshot.
func (s *Store) PutOrder(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

// GetOrder returns a copy of the order or an OrderNotFoundError.
func (s *Store) GetOrder(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.OrderNotFoundError{OrderID: id}
	}
	return cloneOrder(order), nil
}

// ListOrders returns matching orders ordered by creation time, then ID.
func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Order, 0, len(s.orders))
	for _, order := range s.orders {
		if filter.Matches(order) {
			out = append(out, cloneOrder(order))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AppendTransition records one audit entry.
func (s *Store) AppendTransition(_ context.Context, rec domain.TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions[rec.OrderID] = append(s.transitions[rec.OrderID], rec)
	return nil
}

// Transitions returns the order's audit trail in applied order.
func (s *Store) Transitions(_ context.Context, orderID string) ([]domain.TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := s.transitions[orderID]
	out := make([]domain.TransitionRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// CountCreatedOn counts orders carrying the date stamp in their ID.
func (s *Store) CountCreatedOn(_ context.Context, dateStamp string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	marker := "-" + dateStamp + "-"
	n := 0
	for id := range s.orders {
		if strings.Contains(id, marker) {
			n++
		}
	}
	return n, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func cloneOrder(o domain.Order) domain.Order {
	out := o
	if o.Measurements != nil {
		out.Measurements = make(domain.MeasurementSet, len(o.Measurements))
		for k, v := range o.Measurements {
			out.Measurements[k] = v
		}
	}
	if o.RetryCounts != nil {
		out.RetryCounts = make(map[string]int, len(o.RetryCounts))
		for k, v := range o.RetryCounts {
			out.RetryCounts[k] = v
		}
	}
	if o.Files != nil {
		out.Files = make(map[string]bool, len(o.Files))
		for k, v := range o.Files {
			out.Files[k] = v
		}
	}
	if o.Metadata != nil {
		out.Metadata = make(map[string]any, len(o.Metadata))
		for k, v := range o.Metadata {
			out.Metadata[k] = v
		}
	}
	if o.Error != nil {
		errCopy := *o.Error
		out.Error = &errCopy
	}
	return out
}
