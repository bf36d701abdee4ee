package core

import "stitchcore/pkg/domain"

// edge is one legal transition out of a state. A transition may change only
// the substate (self-edge) or clear it; Substate carries the value set on the
// target state.
type edge struct {
	to       OrderState
	substate Substate
	// requireSubstate restricts the edge to orders currently in that substate.
	requireSubstate Substate
	// anySubstate permits the edge regardless of the current substate.
	anySubstate bool
}

// graph is the canonical order state machine. CANCEL is handled separately:
// it is legal from every pre-terminal state.
var graph = map[OrderState]map[Trigger]edge{
	StateCreated: {
		domain.TriggerReceive: {to: StateReceived, anySubstate: true},
	},
	StateReceived: {
		domain.TriggerSubmitScan: {to: StateScanReceived, anySubstate: true},
		domain.TriggerSLATimeout: {to: StateCancelled, anySubstate: true},
	},
	StateScanReceived: {
		domain.TriggerStartProcessing: {to: StateProcessing, anySubstate: true},
	},
	StateProcessing: {
		domain.TriggerValidate: {to: StateValidation},
		// Human actions out of manual review.
		domain.TriggerManualApprove:    {to: StatePatternReady, requireSubstate: domain.SubstateManualReview},
		domain.TriggerResumeValidation: {to: StateValidation, requireSubstate: domain.SubstateManualReview},
	},
	StateValidation: {
		domain.TriggerValidationPassed:    {to: StatePatternReady},
		domain.TriggerValidationFailed:    {to: StateProcessing},
		domain.TriggerValidationExhausted: {to: StateProcessing, substate: domain.SubstateManualReview},
	},
	StatePatternReady: {
		domain.TriggerSubmitToCutter: {to: StateQueueWait},
	},
	StateQueueWait: {
		domain.TriggerJobStarted: {to: StateCutting},
	},
	StateCutting: {
		domain.TriggerJobCompleted:  {to: StatePatternCut},
		domain.TriggerJobRequeued:   {to: StateQueueWait},
		domain.TriggerJobDeadLetter: {to: StateCutting, substate: domain.SubstateCutterFault},
		// Human action after a dead-lettered job.
		domain.TriggerRetryCut: {to: StateQueueWait, requireSubstate: domain.SubstateCutterFault},
	},
	StatePatternCut: {
		domain.TriggerStage: {to: StateStaging},
	},
	StateStaging: {
		domain.TriggerStartQA: {to: StateQA},
	},
	StateQA: {
		domain.TriggerQAPassed: {to: StateStaging2},
		domain.TriggerQAFailed: {to: StateQA, substate: domain.SubstateDisputeWindow},
		// Dispute sub-flow: window -> reinspection -> upheld/total fail.
		domain.TriggerDispute:       {to: StateQA, substate: domain.SubstateReinspection, requireSubstate: domain.SubstateDisputeWindow},
		domain.TriggerSLATimeout:    {to: StateStaging, requireSubstate: domain.SubstateDisputeWindow},
		domain.TriggerReinspectPass: {to: StateQA, substate: domain.SubstateDisputeUpheld, requireSubstate: domain.SubstateReinspection},
		domain.TriggerReinspectFail: {to: StateQA, substate: domain.SubstateTotalFail, requireSubstate: domain.SubstateReinspection},
		domain.TriggerStage2:        {to: StateStaging2, requireSubstate: domain.SubstateDisputeUpheld},
		// Rework after a confirmed fail is a human call.
		domain.TriggerStage: {to: StateStaging, requireSubstate: domain.SubstateTotalFail},
	},
	StateStaging2: {
		domain.TriggerStartSewing: {to: StateSewing},
	},
	StateSewing: {
		domain.TriggerStartAssembly: {to: StateAssembly},
	},
	StateAssembly: {
		domain.TriggerStartFinishing: {to: StateFinishing},
	},
	StateFinishing: {
		domain.TriggerReady: {to: StateReadyForPickup},
	},
	StateReadyForPickup: {
		domain.TriggerPickup:             {to: StatePickedUp},
		domain.TriggerShip:               {to: StateShipping},
		domain.TriggerRequestAlterations: {to: StateAlterations},
	},
	StateShipping: {
		domain.TriggerDeliver: {to: StateDelivered},
	},
	StateAlterations: {
		domain.TriggerComplete: {to: StateCompleted},
	},
	StateCancelled: {
		domain.TriggerStartRefund: {to: StateRefundProcessing, anySubstate: true},
	},
	StateRefundProcessing: {
		domain.TriggerClose: {to: StateClosed, anySubstate: true},
	},
}

// resolve returns the edge for (state, substate, trigger) if it is legal.
func resolve(state OrderState, substate Substate, trigger Trigger) (edge, bool) {
	if trigger == domain.TriggerCancel {
		if domain.TerminalState(state) || state == StateCancelled || state == StateRefundProcessing {
			return edge{}, false
		}
		return edge{to: StateCancelled, anySubstate: true}, true
	}
	edges, ok := graph[state]
	if !ok {
		return edge{}, false
	}
	e, ok := edges[trigger]
	if !ok {
		return edge{}, false
	}
	if !e.anySubstate && e.requireSubstate != substate {
		return edge{}, false
	}
	return e, true
}

// Legal reports whether the trigger is defined for the given position in the
// state graph. Exposed for API-layer validation and tooling.
func Legal(state OrderState, substate Substate, trigger Trigger) bool {
	_, ok := resolve(state, substate, trigger)
	return ok
}
