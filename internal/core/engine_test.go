package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"stitchcore/internal/eventlog"
	"stitchcore/internal/infra/persistence/memory"
	"stitchcore/pkg/domain"
)

type stubPattern struct {
	mu      sync.Mutex
	calls   int
	genErr  error
	payload []byte
}

func (p *stubPattern) Generate(_ context.Context, order Order) (PatternResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.genErr != nil {
		return PatternResult{}, p.genErr
	}
	return PatternResult{
		Files:      map[string]bool{"plt": true, "pds": true, "dxf": true},
		PayloadKey: "orders/" + order.ID + "/pattern.plt",
	}, nil
}

func (p *stubPattern) CutPayload(context.Context, Order) ([]byte, error) {
	if p.payload == nil {
		return []byte("IN;SP1;"), nil
	}
	return p.payload, nil
}

type stubCutterQueue struct {
	mu        sync.Mutex
	enqueued  []string
	cancelled []string
	repri     map[string]Priority
	nextJob   int
}

func (q *stubCutterQueue) Enqueue(_ context.Context, orderID string, _ []byte, _ domain.Priority) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextJob++
	q.enqueued = append(q.enqueued, orderID)
	return fmt.Sprintf("job-%d", q.nextJob), nil
}

func (q *stubCutterQueue) Cancel(_ context.Context, orderID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled = append(q.cancelled, orderID)
	return nil
}

func (q *stubCutterQueue) Reprioritize(_ context.Context, orderID string, priority domain.Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.repri == nil {
		q.repri = make(map[string]Priority)
	}
	q.repri[orderID] = priority
	return nil
}

type engineFixture struct {
	engine  *Engine
	store   *memory.Store
	log     *eventlog.MemoryLog
	queue   *stubCutterQueue
	pattern *stubPattern
}

func newEngineFixture(t *testing.T, opts ...Option) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:   memory.NewStore(),
		log:     eventlog.NewMemory(),
		queue:   &stubCutterQueue{},
		pattern: &stubPattern{},
	}
	base := []Option{WithQueue(f.queue), WithPatternGenerator(f.pattern)}
	f.engine = NewEngine(f.store, f.log, append(base, opts...)...)
	return f
}

func mustCreate(t *testing.T, f *engineFixture, req CreateOrderRequest) Order {
	t.Helper()
	order, err := f.engine.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return order
}

func mustTransition(t *testing.T, f *engineFixture, orderID string, trigger Trigger) Order {
	t.Helper()
	order, err := f.engine.Transition(context.Background(), orderID, trigger, nil)
	if err != nil {
		t.Fatalf("Transition(%s, %s): %v", orderID, trigger, err)
	}
	return order
}

func historyTriggers(t *testing.T, f *engineFixture, orderID string) []Trigger {
	t.Helper()
	recs, err := f.engine.History(context.Background(), orderID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	triggers := make([]Trigger, len(recs))
	for i, rec := range recs {
		triggers[i] = rec.Trigger
	}
	return triggers
}

func TestCreateOrderAssignsSequentialIDs(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := newEngineFixture(t, WithClock(func() time.Time { return fixed }))

	first := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1"})
	second := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-2"})

	if first.ID != "SDS-20260301-0001-A" {
		t.Fatalf("first id = %s", first.ID)
	}
	if second.ID != "SDS-20260301-0002-A" {
		t.Fatalf("second id = %s", second.ID)
	}
	if first.State != StateReceived || first.LastTrigger != domain.TriggerReceive {
		t.Fatalf("new order state = %s after %s", first.State, first.LastTrigger)
	}
	if first.Priority != domain.PriorityNormal {
		t.Fatalf("default priority = %s", first.Priority)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	f := newEngineFixture(t)
	if _, err := f.engine.CreateOrder(context.Background(), CreateOrderRequest{}); err == nil {
		t.Fatal("expected error for missing customer_id")
	}
	if _, err := f.engine.CreateOrder(context.Background(), CreateOrderRequest{CustomerID: "c", Priority: "extreme"}); err == nil {
		t.Fatal("expected error for unknown priority")
	}
}

func TestCreateOrderWithMeasurementsAttachesScan(t *testing.T) {
	f := newEngineFixture(t)
	order := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1", Measurements: fullMeasurementSet(0.95)})

	if order.State != StateScanReceived {
		t.Fatalf("state = %s, want %s", order.State, StateScanReceived)
	}
	got := historyTriggers(t, f, order.ID)
	want := []Trigger{"CREATE", domain.TriggerReceive, domain.TriggerSubmitScan}
	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestProcessingCascadeReachesPatternReady(t *testing.T) {
	f := newEngineFixture(t)
	order := mustCreate(t, f, CreateOrderRequest{
		CustomerID:   "cust-1",
		GarmentType:  "jacket",
		FitType:      "slim",
		Measurements: fullMeasurementSet(0.95),
	})

	order = mustTransition(t, f, order.ID, domain.TriggerStartProcessing)
	if order.State != StatePatternReady {
		t.Fatalf("state = %s, want %s", order.State, StatePatternReady)
	}
	if !order.Files["plt"] || !order.Files["pds"] || !order.Files["dxf"] {
		t.Fatalf("files = %v", order.Files)
	}
	if order.Error != nil {
		t.Fatalf("unexpected error %v", order.Error)
	}
	if key, _ := order.Metadata["cutter_payload_key"].(string); key == "" {
		t.Fatal("cutter payload key not recorded")
	}
	if f.pattern.calls != 1 {
		t.Fatalf("pattern generator calls = %d", f.pattern.calls)
	}

	got := historyTriggers(t, f, order.ID)
	want := []Trigger{
		"CREATE", domain.TriggerReceive, domain.TriggerSubmitScan,
		domain.TriggerStartProcessing, domain.TriggerValidate, domain.TriggerValidationPassed,
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
}

func TestHistoryIsContiguousWalk(t *testing.T) {
	f := newEngineFixture(t)
	order := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1", Measurements: fullMeasurementSet(0.95)})
	mustTransition(t, f, order.ID, domain.TriggerStartProcessing)
	mustTransition(t, f, order.ID, domain.TriggerSubmitToCutter)

	recs, err := f.engine.History(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].From != recs[i-1].To {
			t.Fatalf("record %d: from %s does not continue previous to %s", i, recs[i].From, recs[i-1].To)
		}
	}
}

func TestValidationRetriesThenManualReview(t *testing.T) {
	f := newEngineFixture(t)
	set := fullMeasurementSet(0.95)
	delete(set, "Nc")
	order := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1", Measurements: set})

	order = mustTransition(t, f, order.ID, domain.TriggerStartProcessing)
	if order.State != StateProcessing || order.Substate != domain.SubstateManualReview {
		t.Fatalf("state = %s/%s, want %s/%s", order.State, order.Substate, StateProcessing, domain.SubstateManualReview)
	}
	if n := order.RetryCount("validation"); n != maxValidationAttempts {
		t.Fatalf("validation retries = %d, want %d", n, maxValidationAttempts)
	}
	if order.Error == nil || order.Error.Code != "VALIDATION_FAILED" || order.Error.Retryable {
		t.Fatalf("error = %+v", order.Error)
	}
	if f.pattern.calls != 0 {
		t.Fatal("pattern generator must not run for a failed validation")
	}

	counts := map[Trigger]int{}
	for _, trig := range historyTriggers(t, f, order.ID) {
		counts[trig]++
	}
	if counts[domain.TriggerValidate] != 3 ||
		counts[domain.TriggerValidationFailed] != 2 ||
		counts[domain.TriggerValidationExhausted] != 1 {
		t.Fatalf("trigger counts = %v", counts)
	}
}

func TestManualApproveGeneratesPatterns(t *testing.T) {
	f := newEngineFixture(t)
	set := fullMeasurementSet(0.95)
	delete(set, "Nc")
	order := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1", Measurements: set})
	mustTransition(t, f, order.ID, domain.TriggerStartProcessing)

	order = mustTransition(t, f, order.ID, domain.TriggerManualApprove)
	if order.State != StatePatternReady || order.Substate != domain.SubstateNone {
		t.Fatalf("state = %s/%s", order.State, order.Substate)
	}
	if !order.Files["plt"] {
		t.Fatalf("files = %v", order.Files)
	}
	if order.Error != nil {
		t.Fatalf("error not cleared: %+v", order.Error)
	}
	if f.pattern.calls != 1 {
		t.Fatalf("pattern generator calls = %d", f.pattern.calls)
	}
}

func TestResumeValidationResetsBudget(t *testing.T) {
	f := newEngineFixture(t)
	set := fullMeasurementSet(0.95)
	delete(set, "Nc")
	order := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1", Measurements: set})
	mustTransition(t, f, order.ID, domain.TriggerStartProcessing)

	// The set is still incomplete, so the resumed loop burns a fresh budget
	// and parks the order again.
	order = mustTransition(t, f, order.ID, domain.TriggerResumeValidation)
	if order.State != StateProcessing || order.Substate != domain.SubstateManualReview {
		t.Fatalf("state = %s/%s", order.State, order.Substate)
	}
	if n := order.RetryCount("validation"); n != maxValidationAttempts {
		t.Fatalf("validation retries = %d, want fresh budget of %d", n, maxValidationAttempts)
	}
}

func TestSubmitScanIdempotent(t *testing.T) {
	f := newEngineFixture(t)
	order := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1"})

	if _, err := f.engine.SubmitScan(context.Background(), order.ID, fullMeasurementSet(0.95)); err != nil {
		t.Fatalf("SubmitScan: %v", err)
	}
	before := len(historyTriggers(t, f, order.ID))

	replayed, err := f.engine.SubmitScan(context.Background(), order.ID, fullMeasurementSet(0.95))
	if err != nil {
		t.Fatalf("replayed SubmitScan: %v", err)
	}
	if replayed.State != StateScanReceived {
		t.Fatalf("state = %s", replayed.State)
	}
	if after := len(historyTriggers(t, f, order.ID)); after != before {
		t.Fatalf("replay appended records: %d -> %d", before, after)
	}
}

func TestTransitionIdempotentOnLastTrigger(t *testing.T) {
	f := newEngineFixture(t)
	order := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1"})
	before := len(historyTriggers(t, f, order.ID))

	replayed, err := f.engine.Transition(context.Background(), order.ID, domain.TriggerReceive, nil)
	if err != nil {
		t.Fatalf("replayed trigger: %v", err)
	}
	if replayed.State != StateReceived {
		t.Fatalf("state = %s", replayed.State)
	}
	if after := len(historyTriggers(t, f, order.ID)); after != before {
		t.Fatalf("replay appended records: %d -> %d", before, after)
	}
}

func TestTransitionReplayAfterCascadeIsNoOp(t *testing.T) {
	f := newEngineFixture(t)
	order := mustCreate(t, f, CreateOrderRequest{
		CustomerID:   "cust-1",
		Measurements: fullMeasurementSet(0.95),
	})

	// The cascade moves LastTrigger well past the command itself.
	first := mustTransition(t, f, order.ID, domain.TriggerStartProcessing)
	if first.State != StatePatternReady {
		t.Fatalf("state = %s, want %s", first.State, StatePatternReady)
	}
	if first.LastTrigger != domain.TriggerValidationPassed {
		t.Fatalf("last trigger = %s", first.LastTrigger)
	}
	before := len(historyTriggers(t, f, order.ID))

	replayed, err := f.engine.Transition(context.Background(), order.ID, domain.TriggerStartProcessing, nil)
	if err != nil {
		t.Fatalf("replayed command: %v", err)
	}
	if replayed.State != StatePatternReady {
		t.Fatalf("replayed state = %s", replayed.State)
	}
	if after := len(historyTriggers(t, f, order.ID)); after != before {
		t.Fatalf("replay appended records: %d -> %d", before, after)
	}
	if f.pattern.calls != 1 {
		t.Fatalf("pattern generated %d times, want 1", f.pattern.calls)
	}

	// A different command invalidates the replay window again.
	mustTransition(t, f, order.ID, domain.TriggerSubmitToCutter)
	if _, err := f.engine.Transition(context.Background(), order.ID, domain.TriggerStartProcessing, nil); err == nil {
		t.Fatal("stale command after a later event must not replay as a no-op")
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	f := newEngineFixture(t)
	order := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1"})

	_, err := f.engine.Transition(context.Background(), order.ID, domain.TriggerStartQA, nil)
	var illegal domain.IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("error = %v, want IllegalTransitionError", err)
	}
	if illegal.State != StateReceived || illegal.Trigger != domain.TriggerStartQA {
		t.Fatalf("error detail = %+v", illegal)
	}
}

func TestUnknownOrder(t *testing.T) {
	f := newEngineFixture(t)
	_, err := f.engine.Transition(context.Background(), "SDS-20260301-9999-A", domain.TriggerReceive, nil)
	var notFound domain.OrderNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want OrderNotFoundError", err)
	}
}

func TestConcurrentModificationRejected(t *testing.T) {
	f := newEngineFixture(t)
	order := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1"})

	lock := f.engine.lockFor(order.ID)
	lock.Lock()
	defer lock.Unlock()

	_, err := f.engine.Transition(context.Background(), order.ID, domain.TriggerSubmitScan, nil)
	var concurrent domain.ConcurrentModificationError
	if !errors.As(err, &concurrent) {
		t.Fatalf("error = %v, want ConcurrentModificationError", err)
	}
}

func TestCutterRoundTrip(t *testing.T) {
	f := newEngineFixture(t)
	order := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1", Measurements: fullMeasurementSet(0.95)})
	mustTransition(t, f, order.ID, domain.TriggerStartProcessing)

	order = mustTransition(t, f, order.ID, domain.TriggerSubmitToCutter)
	if order.State != StateQueueWait {
		t.Fatalf("state = %s", order.State)
	}
	if len(f.queue.enqueued) != 1 || f.queue.enqueued[0] != order.ID {
		t.Fatalf("enqueued = %v", f.queue.enqueued)
	}

	job := domain.QueueJob{ID: "job-1", OrderID: order.ID, Attempts: 1}
	f.engine.JobStarted(job)
	order, _ = f.engine.GetOrder(context.Background(), order.ID)
	if order.State != StateCutting {
		t.Fatalf("state after start = %s", order.State)
	}

	f.engine.JobRequeued(job, time.Second, errors.New("cutter offline"))
	order, _ = f.engine.GetOrder(context.Background(), order.ID)
	if order.State != StateQueueWait {
		t.Fatalf("state after requeue = %s", order.State)
	}
	if order.RetryCount("cutter") != 1 {
		t.Fatalf("cutter retries = %d", order.RetryCount("cutter"))
	}
	if order.Error == nil || order.Error.Code != "DELIVERY_FAILED" || !order.Error.Retryable {
		t.Fatalf("error = %+v", order.Error)
	}

	job.Attempts = 2
	f.engine.JobStarted(job)
	f.engine.JobCompleted(job)
	order, _ = f.engine.GetOrder(context.Background(), order.ID)
	if order.State != StatePatternCut {
		t.Fatalf("state after completion = %s", order.State)
	}
	if order.Error != nil {
		t.Fatalf("error not cleared: %+v", order.Error)
	}
}

func TestDeadLetterThenRetryCut(t *testing.T) {
	f := newEngineFixture(t)
	order := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1", Measurements: fullMeasurementSet(0.95)})
	mustTransition(t, f, order.ID, domain.TriggerStartProcessing)
	mustTransition(t, f, order.ID, domain.TriggerSubmitToCutter)

	job := domain.QueueJob{ID: "job-1", OrderID: order.ID, Attempts: 5}
	f.engine.JobStarted(job)
	f.engine.JobDeadLettered(job, errors.New("cutter jam"))

	order, _ = f.engine.GetOrder(context.Background(), order.ID)
	if order.State != StateCutting || order.Substate != domain.SubstateCutterFault {
		t.Fatalf("state = %s/%s", order.State, order.Substate)
	}
	if order.Error == nil || order.Error.Code != "DEAD_LETTER" || order.Error.Retryable {
		t.Fatalf("error = %+v", order.Error)
	}

	order = mustTransition(t, f, order.ID, domain.TriggerRetryCut)
	if order.State != StateQueueWait || order.Substate != domain.SubstateNone {
		t.Fatalf("state = %s/%s", order.State, order.Substate)
	}
	if order.Error != nil {
		t.Fatalf("error not cleared: %+v", order.Error)
	}
	if len(f.queue.enqueued) != 2 {
		t.Fatalf("enqueued = %v", f.queue.enqueued)
	}
}

func TestQADisputeFlow(t *testing.T) {
	f := newEngineFixture(t)
	order := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1", Measurements: fullMeasurementSet(0.95)})
	mustTransition(t, f, order.ID, domain.TriggerStartProcessing)
	mustTransition(t, f, order.ID, domain.TriggerSubmitToCutter)
	job := domain.QueueJob{ID: "job-1", OrderID: order.ID, Attempts: 1}
	f.engine.JobStarted(job)
	f.engine.JobCompleted(job)
	mustTransition(t, f, order.ID, domain.TriggerStage)
	mustTransition(t, f, order.ID, domain.TriggerStartQA)

	order = mustTransition(t, f, order.ID, domain.TriggerQAFailed)
	if order.State != StateQA || order.Substate != domain.SubstateDisputeWindow {
		t.Fatalf("state = %s/%s", order.State, order.Substate)
	}
	order = mustTransition(t, f, order.ID, domain.TriggerDispute)
	if order.Substate != domain.SubstateReinspection {
		t.Fatalf("substate = %s", order.Substate)
	}
	order = mustTransition(t, f, order.ID, domain.TriggerReinspectFail)
	if order.Substate != domain.SubstateTotalFail {
		t.Fatalf("substate = %s", order.Substate)
	}
	order = mustTransition(t, f, order.ID, domain.TriggerStage)
	if order.State != StateStaging || order.Substate != domain.SubstateNone {
		t.Fatalf("state = %s/%s", order.State, order.Substate)
	}
}

func TestCancelAndRefundChain(t *testing.T) {
	f := newEngineFixture(t)
	order := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1"})

	order, err := f.engine.CancelOrder(context.Background(), order.ID, "customer request")
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if order.State != StateCancelled {
		t.Fatalf("state = %s", order.State)
	}
	if len(f.queue.cancelled) != 1 || f.queue.cancelled[0] != order.ID {
		t.Fatalf("queue cancellations = %v", f.queue.cancelled)
	}

	order = mustTransition(t, f, order.ID, domain.TriggerStartRefund)
	order = mustTransition(t, f, order.ID, domain.TriggerClose)
	if order.State != StateClosed {
		t.Fatalf("state = %s", order.State)
	}

	_, err = f.engine.Transition(context.Background(), order.ID, domain.TriggerStartRefund, nil)
	var illegal domain.IllegalTransitionError
	if !errors.As(err, &illegal) {
		t.Fatalf("transition on closed order: %v", err)
	}
}

func TestSetPriority(t *testing.T) {
	f := newEngineFixture(t)
	order := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1"})

	order, err := f.engine.SetPriority(context.Background(), order.ID, domain.PriorityRush)
	if err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	if order.Priority != domain.PriorityRush {
		t.Fatalf("priority = %s", order.Priority)
	}
	if f.queue.repri[order.ID] != domain.PriorityRush {
		t.Fatalf("queue reprioritizations = %v", f.queue.repri)
	}

	if _, err := f.engine.SetPriority(context.Background(), order.ID, "extreme"); err == nil {
		t.Fatal("expected error for unknown priority")
	}

	mustTransition(t, f, order.ID, domain.TriggerCancel)
	mustTransition(t, f, order.ID, domain.TriggerStartRefund)
	mustTransition(t, f, order.ID, domain.TriggerClose)
	if _, err := f.engine.SetPriority(context.Background(), order.ID, domain.PriorityLow); err == nil {
		t.Fatal("expected error on terminal order")
	}
}

func TestTransitionHooksObserveEveryRecord(t *testing.T) {
	var mu sync.Mutex
	var seen []Trigger
	hook := func(rec TransitionRecord) {
		mu.Lock()
		seen = append(seen, rec.Trigger)
		mu.Unlock()
	}
	f := newEngineFixture(t, WithTransitionHook(hook))
	order := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1", Measurements: fullMeasurementSet(0.95)})
	mustTransition(t, f, order.ID, domain.TriggerStartProcessing)

	mu.Lock()
	defer mu.Unlock()
	want := []Trigger{
		domain.TriggerReceive, domain.TriggerSubmitScan,
		domain.TriggerStartProcessing, domain.TriggerValidate, domain.TriggerValidationPassed,
	}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Fatalf("hook saw %v, want %v", seen, want)
	}
}

func TestEventLogMirrorsHistory(t *testing.T) {
	f := newEngineFixture(t)
	order := mustCreate(t, f, CreateOrderRequest{CustomerID: "cust-1", Measurements: fullMeasurementSet(0.95)})
	mustTransition(t, f, order.ID, domain.TriggerStartProcessing)

	recs, err := f.engine.History(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	var logged int
	err = f.log.Replay(context.Background(), 0, func(rec eventlog.Record) error {
		if rec.Kind == eventlog.KindTransition {
			logged++
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if logged != len(recs) {
		t.Fatalf("event log has %d transition records, history has %d", logged, len(recs))
	}
}
