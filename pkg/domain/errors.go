package domain

import "fmt"

// IllegalTransitionError is returned when an event is not defined for the
// order's current state. It indicates caller error and is always surfaced.
type IllegalTransitionError struct {
	OrderID string
	State   OrderState
	Trigger Trigger
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: event %s not defined for order %s in state %s", e.Trigger, e.OrderID, e.State)
}

// OrderNotFoundError is returned when the order ID is unknown.
type OrderNotFoundError struct {
	OrderID string
}

func (e OrderNotFoundError) Error() string {
	return fmt.Sprintf("order %s not found", e.OrderID)
}

// ConcurrentModificationError is returned when another transition is already
// in flight for the same order.
type ConcurrentModificationError struct {
	OrderID string
}

func (e ConcurrentModificationError) Error() string {
	return fmt.Sprintf("order %s has a transition in flight", e.OrderID)
}

// FieldError describes a hard validation failure for one measurement code.
type FieldError struct {
	Code   string  `json:"code"`
	Reason string  `json:"reason"`
	Value  float64 `json:"value,omitempty"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("measurement %s: %s", e.Code, e.Reason)
}

// FieldWarning describes an advisory validation finding.
type FieldWarning struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Verdict is the deterministic output of the sanity gate. OverallConfidence
// is informational; pass/fail is decided by per-field thresholds only.
type Verdict struct {
	Pass              bool           `json:"pass"`
	Failures          []FieldError   `json:"failures,omitempty"`
	Warnings          []FieldWarning `json:"warnings,omitempty"`
	OverallConfidence float64        `json:"overall_confidence"`
}
