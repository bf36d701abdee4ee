// Package domain defines the core persistent entities, value types, and
// verdict primitives used by stitchcore.
package domain

import "time"

// OrderState identifies a node in the canonical order lifecycle graph.
type OrderState string

// Canonical order lifecycle states (ops manual section 1.2). The graph is a
// single forward path from CREATED through production and fulfillment, with
// bounded loops around validation, queueing, and QA.
const (
	// StateCreated is the initial state assigned on order submission.
	StateCreated OrderState = "CREATED"
	// StateReceived indicates the order is accepted and awaiting a body scan.
	StateReceived OrderState = "RECEIVED"
	// StateScanReceived indicates a measurement set has been attached.
	StateScanReceived OrderState = "SCAN_RECEIVED"
	// StateProcessing covers measurement transformation and pattern generation.
	StateProcessing OrderState = "PROCESSING"
	// StateValidation is the time-boxed sanity-gate pass over the measurements.
	StateValidation OrderState = "VALIDATION"
	// StatePatternReady indicates pattern files are generated and downloadable.
	StatePatternReady OrderState = "PATTERN_READY"
	// StateQueueWait indicates a cutter job is pending in the work queue.
	StateQueueWait OrderState = "QUEUE_WAIT"
	// StateCutting indicates the cutter job is in flight on the plotter.
	StateCutting OrderState = "CUTTING"
	// StatePatternCut indicates templates are cut and ready for staging.
	StatePatternCut OrderState = "PATTERN_CUT"
	// StateStaging is the pre-QA staging area.
	StateStaging OrderState = "STAGING"
	// StateQA is the inspection pass, including the dispute sub-flow.
	StateQA OrderState = "QA"
	// StateStaging2 is the post-QA staging area feeding production.
	StateStaging2 OrderState = "STAGING2"
	// StateSewing indicates garment sewing is underway.
	StateSewing OrderState = "SEWING"
	// StateAssembly indicates garment assembly is underway.
	StateAssembly OrderState = "ASSEMBLY"
	// StateFinishing indicates final pressing and detailing.
	StateFinishing OrderState = "FINISHING"
	// StateReadyForPickup indicates the garment awaits customer choice.
	StateReadyForPickup OrderState = "READY_FOR_PICKUP"
	// StatePickedUp is terminal: customer collected in person.
	StatePickedUp OrderState = "PICKED_UP"
	// StateShipping indicates the garment is with the carrier.
	StateShipping OrderState = "SHIPPING"
	// StateDelivered is terminal: carrier confirmed delivery.
	StateDelivered OrderState = "DELIVERED"
	// StateAlterations indicates post-delivery alteration work.
	StateAlterations OrderState = "ALTERATIONS"
	// StateCompleted is terminal: alterations accepted and order settled.
	StateCompleted OrderState = "COMPLETED"
	// StateCancelled indicates the order was cancelled pre-fulfillment.
	StateCancelled OrderState = "CANCELLED"
	// StateRefundProcessing indicates a refund is being issued.
	StateRefundProcessing OrderState = "REFUND_PROCESSING"
	// StateClosed is terminal: cancelled order fully wound down.
	StateClosed OrderState = "CLOSED"
)

// Substate qualifies a nested, time-boxed sub-process inside a parent state.
// Substates always resolve back into the parent graph and never widen the set
// of legal transitions.
type Substate string

// Recognised substates.
const (
	// SubstateNone is the zero value for orders outside any sub-process.
	SubstateNone Substate = ""
	// SubstateManualReview marks a PROCESSING order whose validation retries
	// are exhausted and which requires a human-triggered transition.
	SubstateManualReview Substate = "manual_review"
	// SubstateCutterFault marks a CUTTING order whose job was dead-lettered.
	SubstateCutterFault Substate = "cutter_fault"
	// SubstateDisputeWindow marks a failed QA verdict inside the 24h dispute window.
	SubstateDisputeWindow Substate = "dispute_window"
	// SubstateReinspection marks a disputed QA verdict awaiting reinspection.
	SubstateReinspection Substate = "reinspection"
	// SubstateTotalFail marks a reinspection that confirmed the original fail.
	SubstateTotalFail Substate = "total_fail"
	// SubstateDisputeUpheld marks a reinspection that overturned the fail.
	SubstateDisputeUpheld Substate = "dispute_upheld"
)

// Priority orders queue jobs; it never affects transition legality.
type Priority string

// Queue priorities, strongest first.
const (
	PriorityRush   Priority = "rush"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank returns the scheduling rank of the priority; lower drains first.
// Unknown values rank after low so a malformed job never starves valid ones.
func (p Priority) Rank() int {
	switch p {
	case PriorityRush:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Valid reports whether the priority is one of the four recognised levels.
func (p Priority) Valid() bool {
	return p == PriorityRush || p == PriorityHigh || p == PriorityNormal || p == PriorityLow
}

// Trigger identifies the event that caused a transition.
type Trigger string

// Transition triggers. TriggerSLATimeout is applied by the SLA monitor and is
// recorded identically to user- and system-triggered events.
const (
	TriggerReceive             Trigger = "RECEIVE"
	TriggerSubmitScan          Trigger = "SUBMIT_SCAN"
	TriggerStartProcessing     Trigger = "START_PROCESSING"
	TriggerValidate            Trigger = "VALIDATE"
	TriggerValidationPassed    Trigger = "VALIDATION_PASSED"
	TriggerValidationFailed    Trigger = "VALIDATION_FAILED"
	TriggerValidationExhausted Trigger = "VALIDATION_EXHAUSTED"
	TriggerManualApprove       Trigger = "MANUAL_APPROVE"
	TriggerResumeValidation    Trigger = "RESUME_VALIDATION"
	TriggerSubmitToCutter      Trigger = "SUBMIT_TO_CUTTER"
	TriggerJobStarted          Trigger = "JOB_STARTED"
	TriggerJobRequeued         Trigger = "JOB_REQUEUED"
	TriggerJobCompleted        Trigger = "JOB_COMPLETED"
	TriggerJobDeadLetter       Trigger = "JOB_DEAD_LETTER"
	TriggerRetryCut            Trigger = "RETRY_CUT"
	TriggerStage               Trigger = "STAGE"
	TriggerStartQA             Trigger = "START_QA"
	TriggerQAPassed            Trigger = "QA_PASSED"
	TriggerQAFailed            Trigger = "QA_FAILED"
	TriggerDispute             Trigger = "DISPUTE"
	TriggerReinspectPass       Trigger = "REINSPECT_PASS"
	TriggerReinspectFail       Trigger = "REINSPECT_FAIL"
	TriggerStage2              Trigger = "STAGE2"
	TriggerStartSewing         Trigger = "START_SEWING"
	TriggerStartAssembly       Trigger = "START_ASSEMBLY"
	TriggerStartFinishing      Trigger = "START_FINISHING"
	TriggerReady               Trigger = "READY"
	TriggerPickup              Trigger = "PICKUP"
	TriggerShip                Trigger = "SHIP"
	TriggerDeliver             Trigger = "DELIVER"
	TriggerRequestAlterations  Trigger = "REQUEST_ALTERATIONS"
	TriggerComplete            Trigger = "COMPLETE"
	TriggerCancel              Trigger = "CANCEL"
	TriggerStartRefund         Trigger = "START_REFUND"
	TriggerClose               Trigger = "CLOSE"
	TriggerSLATimeout          Trigger = "SLA_TIMEOUT"
)

// OrderError captures a surfaced failure attached to an order.
type OrderError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Order is the root entity owned by the state machine engine. Orders are
// never deleted; terminal states end the lifecycle.
//
// LastTrigger is the most recently applied trigger, including internal
// cascade steps. LastCommand is the most recent externally supplied trigger,
// held until the next applied event: a retried command replays as a no-op
// even when its cascade moved LastTrigger past it, while the same command can
// recur legitimately once a later event has applied. StateEnteredAt marks
// when the current state/substate position was entered and is never touched
// by mutations that leave the position unchanged, such as priority updates.
type Order struct {
	ID             string          `json:"id"`
	CustomerID     string          `json:"customer_id"`
	GarmentType    string          `json:"garment_type"`
	FitType        string          `json:"fit_type"`
	State          OrderState      `json:"state"`
	Substate       Substate        `json:"substate,omitempty"`
	LastTrigger    Trigger         `json:"last_trigger,omitempty"`
	LastCommand    Trigger         `json:"last_command,omitempty"`
	Priority       Priority        `json:"priority"`
	Measurements   MeasurementSet  `json:"measurements,omitempty"`
	RetryCounts    map[string]int  `json:"retry_counts,omitempty"`
	Files          map[string]bool `json:"files_available,omitempty"`
	Error          *OrderError     `json:"error,omitempty"`
	Metadata       map[string]any  `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StateEnteredAt time.Time       `json:"state_entered_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Terminal reports whether the order's state admits no further transitions.
func (o Order) Terminal() bool {
	return TerminalState(o.State)
}

// TerminalState reports whether s is one of the four terminal states.
func TerminalState(s OrderState) bool {
	switch s {
	case StatePickedUp, StateDelivered, StateCompleted, StateClosed:
		return true
	}
	return false
}

// RetryCount returns the recorded retry count for a failure class.
func (o Order) RetryCount(class string) int {
	if o.RetryCounts == nil {
		return 0
	}
	return o.RetryCounts[class]
}

// TransitionRecord is the immutable audit entry appended on every transition.
// The sequence of To values for one order is always a legal walk of the state
// graph; From always equals the previous record's To.
type TransitionRecord struct {
	OrderID   string         `json:"order_id"`
	From      OrderState     `json:"from_state"`
	To        OrderState     `json:"to_state"`
	Trigger   Trigger        `json:"trigger"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
