package core

import "stitchcore/pkg/domain"

type (
	OrderState       = domain.OrderState
	Substate         = domain.Substate
	Priority         = domain.Priority
	Trigger          = domain.Trigger
	Order            = domain.Order
	OrderError       = domain.OrderError
	TransitionRecord = domain.TransitionRecord
	Measurement      = domain.Measurement
	MeasurementSet   = domain.MeasurementSet
	Verdict          = domain.Verdict
	FieldError       = domain.FieldError
	FieldWarning     = domain.FieldWarning
	OrderStore       = domain.OrderStore
	OrderFilter      = domain.OrderFilter
)

const (
	StateCreated          = domain.StateCreated
	StateReceived         = domain.StateReceived
	StateScanReceived     = domain.StateScanReceived
	StateProcessing       = domain.StateProcessing
	StateValidation       = domain.StateValidation
	StatePatternReady     = domain.StatePatternReady
	StateQueueWait        = domain.StateQueueWait
	StateCutting          = domain.StateCutting
	StatePatternCut       = domain.StatePatternCut
	StateStaging          = domain.StateStaging
	StateQA               = domain.StateQA
	StateStaging2         = domain.StateStaging2
	StateSewing           = domain.StateSewing
	StateAssembly         = domain.StateAssembly
	StateFinishing        = domain.StateFinishing
	StateReadyForPickup   = domain.StateReadyForPickup
	StatePickedUp         = domain.StatePickedUp
	StateShipping         = domain.StateShipping
	StateDelivered        = domain.StateDelivered
	StateAlterations      = domain.StateAlterations
	StateCompleted        = domain.StateCompleted
	StateCancelled        = domain.StateCancelled
	StateRefundProcessing = domain.StateRefundProcessing
	StateClosed           = domain.StateClosed
)

const (
	PriorityRush   = domain.PriorityRush
	PriorityHigh   = domain.PriorityHigh
	PriorityNormal = domain.PriorityNormal
	PriorityLow    = domain.PriorityLow
)
