package core

import (
	"testing"

	"stitchcore/pkg/domain"
)

var allStates = []OrderState{
	StateCreated, StateReceived, StateScanReceived, StateProcessing,
	StateValidation, StatePatternReady, StateQueueWait, StateCutting,
	StatePatternCut, StateStaging, StateQA, StateStaging2, StateSewing,
	StateAssembly, StateFinishing, StateReadyForPickup, StatePickedUp,
	StateShipping, StateDelivered, StateAlterations, StateCompleted,
	StateCancelled, StateRefundProcessing, StateClosed,
}

func TestResolveEdges(t *testing.T) {
	cases := []struct {
		name     string
		state    OrderState
		substate Substate
		trigger  Trigger
		legal    bool
		wantTo   OrderState
		wantSub  Substate
	}{
		{name: "create to received", state: StateCreated, trigger: domain.TriggerReceive, legal: true, wantTo: StateReceived},
		{name: "scan attach", state: StateReceived, trigger: domain.TriggerSubmitScan, legal: true, wantTo: StateScanReceived},
		{name: "stale received times out", state: StateReceived, trigger: domain.TriggerSLATimeout, legal: true, wantTo: StateCancelled},
		{name: "validate", state: StateProcessing, trigger: domain.TriggerValidate, legal: true, wantTo: StateValidation},
		{name: "validate blocked in manual review", state: StateProcessing, substate: domain.SubstateManualReview, trigger: domain.TriggerValidate, legal: false},
		{name: "manual approve", state: StateProcessing, substate: domain.SubstateManualReview, trigger: domain.TriggerManualApprove, legal: true, wantTo: StatePatternReady},
		{name: "manual approve needs review substate", state: StateProcessing, trigger: domain.TriggerManualApprove, legal: false},
		{name: "resume validation", state: StateProcessing, substate: domain.SubstateManualReview, trigger: domain.TriggerResumeValidation, legal: true, wantTo: StateValidation},
		{name: "validation exhausted parks order", state: StateValidation, trigger: domain.TriggerValidationExhausted, legal: true, wantTo: StateProcessing, wantSub: domain.SubstateManualReview},
		{name: "dead letter flags cutter fault", state: StateCutting, trigger: domain.TriggerJobDeadLetter, legal: true, wantTo: StateCutting, wantSub: domain.SubstateCutterFault},
		{name: "retry cut", state: StateCutting, substate: domain.SubstateCutterFault, trigger: domain.TriggerRetryCut, legal: true, wantTo: StateQueueWait},
		{name: "retry cut needs fault substate", state: StateCutting, trigger: domain.TriggerRetryCut, legal: false},
		{name: "qa fail opens dispute window", state: StateQA, trigger: domain.TriggerQAFailed, legal: true, wantTo: StateQA, wantSub: domain.SubstateDisputeWindow},
		{name: "dispute", state: StateQA, substate: domain.SubstateDisputeWindow, trigger: domain.TriggerDispute, legal: true, wantTo: StateQA, wantSub: domain.SubstateReinspection},
		{name: "dispute needs open window", state: StateQA, trigger: domain.TriggerDispute, legal: false},
		{name: "window expiry returns to staging", state: StateQA, substate: domain.SubstateDisputeWindow, trigger: domain.TriggerSLATimeout, legal: true, wantTo: StateStaging},
		{name: "reinspect overturns fail", state: StateQA, substate: domain.SubstateReinspection, trigger: domain.TriggerReinspectPass, legal: true, wantTo: StateQA, wantSub: domain.SubstateDisputeUpheld},
		{name: "reinspect confirms fail", state: StateQA, substate: domain.SubstateReinspection, trigger: domain.TriggerReinspectFail, legal: true, wantTo: StateQA, wantSub: domain.SubstateTotalFail},
		{name: "upheld dispute proceeds", state: StateQA, substate: domain.SubstateDisputeUpheld, trigger: domain.TriggerStage2, legal: true, wantTo: StateStaging2},
		{name: "total fail reworks", state: StateQA, substate: domain.SubstateTotalFail, trigger: domain.TriggerStage, legal: true, wantTo: StateStaging},
		{name: "pickup", state: StateReadyForPickup, trigger: domain.TriggerPickup, legal: true, wantTo: StatePickedUp},
		{name: "ship", state: StateReadyForPickup, trigger: domain.TriggerShip, legal: true, wantTo: StateShipping},
		{name: "alterations", state: StateReadyForPickup, trigger: domain.TriggerRequestAlterations, legal: true, wantTo: StateAlterations},
		{name: "refund chain start", state: StateCancelled, trigger: domain.TriggerStartRefund, legal: true, wantTo: StateRefundProcessing},
		{name: "refund chain close", state: StateRefundProcessing, trigger: domain.TriggerClose, legal: true, wantTo: StateClosed},
		{name: "refund not reachable from qa", state: StateQA, trigger: domain.TriggerStartRefund, legal: false},
		{name: "forward jump rejected", state: StateReceived, trigger: domain.TriggerStartQA, legal: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, ok := resolve(tc.state, tc.substate, tc.trigger)
			if ok != tc.legal {
				t.Fatalf("resolve(%s, %q, %s) legal = %v, want %v", tc.state, tc.substate, tc.trigger, ok, tc.legal)
			}
			if !tc.legal {
				return
			}
			if e.to != tc.wantTo {
				t.Fatalf("to = %s, want %s", e.to, tc.wantTo)
			}
			if e.substate != tc.wantSub {
				t.Fatalf("substate = %q, want %q", e.substate, tc.wantSub)
			}
		})
	}
}

func TestCancelLegality(t *testing.T) {
	for _, state := range allStates {
		wantLegal := !domain.TerminalState(state) && state != StateCancelled && state != StateRefundProcessing
		if got := Legal(state, domain.SubstateNone, domain.TriggerCancel); got != wantLegal {
			t.Fatalf("cancel from %s legal = %v, want %v", state, got, wantLegal)
		}
	}
	// Cancellation cuts through substates too.
	if !Legal(StateQA, domain.SubstateReinspection, domain.TriggerCancel) {
		t.Fatal("cancel must be legal mid-dispute")
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, state := range []OrderState{StatePickedUp, StateDelivered, StateCompleted, StateClosed} {
		if edges, ok := graph[state]; ok && len(edges) > 0 {
			t.Fatalf("terminal state %s has outgoing edges %v", state, edges)
		}
	}
}

func TestEveryEdgeTargetsKnownState(t *testing.T) {
	known := make(map[OrderState]bool, len(allStates))
	for _, s := range allStates {
		known[s] = true
	}
	for state, edges := range graph {
		if !known[state] {
			t.Fatalf("graph keyed by unknown state %s", state)
		}
		for trigger, e := range edges {
			if !known[e.to] {
				t.Fatalf("edge %s/%s targets unknown state %s", state, trigger, e.to)
			}
		}
	}
}
