package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stitchcore/internal/eventlog"
	"stitchcore/pkg/domain"
)

// CutterQueue is the engine's view of the work queue. Satisfied by
// queue.Queue; narrowed so tests can substitute a recorder.
type CutterQueue interface {
	Enqueue(ctx context.Context, orderID string, payload []byte, priority domain.Priority) (string, error)
	Cancel(ctx context.Context, orderID string) error
	Reprioritize(ctx context.Context, orderID string, priority domain.Priority) error
}

// PatternResult reports the artifacts produced for a validated order.
type PatternResult struct {
	// Files maps artifact kinds (plt, pds, dxf) to availability.
	Files map[string]bool
	// PayloadKey locates the cutter payload in the artifact store.
	PayloadKey string
}

// PatternGenerator turns a validated measurement set into cutter-ready
// pattern artifacts.
type PatternGenerator interface {
	Generate(ctx context.Context, order Order) (PatternResult, error)
	// CutPayload returns the byte payload to stream to the cutter for an
	// order whose patterns were previously generated.
	CutPayload(ctx context.Context, order Order) ([]byte, error)
}

// maxValidationAttempts bounds the automatic validation loop before an order
// is parked for manual review.
const maxValidationAttempts = 3

const retryClassValidation = "validation"
const retryClassCutter = "cutter"

// Engine owns every order mutation. Transitions for one order are serialized;
// transitions for distinct orders proceed concurrently. Every applied
// transition is appended to the event log before the order snapshot is
// updated.
type Engine struct {
	store   OrderStore
	log     eventlog.Log
	gate    SanityGate
	queue   CutterQueue
	pattern PatternGenerator
	logger  Logger
	metrics MetricsRecorder
	hooks   []func(TransitionRecord)
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	seq   struct {
		date string
		next int
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithQueue wires the cutter work queue.
func WithQueue(q CutterQueue) Option {
	return func(e *Engine) { e.queue = q }
}

// WithPatternGenerator wires the pattern generator.
func WithPatternGenerator(p PatternGenerator) Option {
	return func(e *Engine) { e.pattern = p }
}

// WithGate overrides the default sanity gate configuration.
func WithGate(g SanityGate) Option {
	return func(e *Engine) { e.gate = g }
}

// WithTransitionHook registers a callback invoked after every applied
// transition. Hooks run with the order lock held and must not call back into
// the engine.
func WithTransitionHook(hook func(TransitionRecord)) Option {
	return func(e *Engine) {
		if hook != nil {
			e.hooks = append(e.hooks, hook)
		}
	}
}

// WithClock overrides the time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs an engine over the given store and event log.
func NewEngine(store OrderStore, log eventlog.Log, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		log:     log,
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AttachQueue wires the cutter queue after construction. The queue observes
// the engine and the engine drives the queue, so one side has to be bound
// late during startup.
func (e *Engine) AttachQueue(q CutterQueue) {
	e.queue = q
}

// CreateOrderRequest carries the order intake fields.
type CreateOrderRequest struct {
	CustomerID   string                `json:"customer_id"`
	GarmentType  string                `json:"garment_type"`
	FitType      string                `json:"fit_type"`
	Priority     Priority              `json:"priority"`
	Measurements domain.MeasurementSet `json:"measurements,omitempty"`
}

// CreateOrder registers a new order. The order is moved to RECEIVED
// immediately; when a measurement set is supplied it is attached and the
// order advances to SCAN_RECEIVED in the same call.
func (e *Engine) CreateOrder(ctx context.Context, req CreateOrderRequest) (Order, error) {
	if req.CustomerID == "" {
		return Order{}, fmt.Errorf("customer_id is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = domain.PriorityNormal
	}
	if !priority.Valid() {
		return Order{}, fmt.Errorf("unknown priority %q", priority)
	}

	now := e.now().UTC()
	id, err := e.nextOrderID(ctx, now)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:             id,
		CustomerID:     req.CustomerID,
		GarmentType:    req.GarmentType,
		FitType:        req.FitType,
		State:          StateCreated,
		Priority:       priority,
		CreatedAt:      now,
		StateEnteredAt: now,
		UpdatedAt:      now,
	}

	lock := e.lockFor(order.ID)
	lock.Lock()
	defer lock.Unlock()

	rec := TransitionRecord{OrderID: order.ID, From: "", To: StateCreated, Trigger: "CREATE", Timestamp: now}
	if _, err := e.log.Append(ctx, eventlog.KindTransition, rec); err != nil {
		return Order{}, fmt.Errorf("append create record: %w", err)
	}
	if err := e.store.PutOrder(ctx, order); err != nil {
		return Order{}, err
	}
	if err := e.store.AppendTransition(ctx, rec); err != nil {
		return Order{}, err
	}
	e.logger.Info("order created", "order_id", order.ID, "priority", string(priority))

	if order, err = e.applyLocked(ctx, order, domain.TriggerReceive, nil); err != nil {
		return order, err
	}
	if len(req.Measurements) > 0 {
		order.Measurements = req.Measurements
		if order, err = e.applyLocked(ctx, order, domain.TriggerSubmitScan, nil); err != nil {
			return order, err
		}
	}
	return order, nil
}

// SubmitScan attaches a measurement set to a RECEIVED order.
func (e *Engine) SubmitScan(ctx context.Context, orderID string, set MeasurementSet) (Order, error) {
	lock := e.lockFor(orderID)
	if !lock.TryLock() {
		return Order{}, domain.ConcurrentModificationError{OrderID: orderID}
	}
	defer lock.Unlock()

	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.LastTrigger == domain.TriggerSubmitScan || order.LastCommand == domain.TriggerSubmitScan {
		return order, nil
	}
	order.Measurements = set
	order, err = e.applyLocked(ctx, order, domain.TriggerSubmitScan, nil)
	if err != nil {
		return order, err
	}
	order.LastCommand = domain.TriggerSubmitScan
	if err := e.store.PutOrder(ctx, order); err != nil {
		return order, err
	}
	return order, nil
}

// GetOrder returns the current order snapshot.
func (e *Engine) GetOrder(ctx context.Context, orderID string) (Order, error) {
	return e.store.GetOrder(ctx, orderID)
}

// ListOrders returns orders matching the filter.
func (e *Engine) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	return e.store.ListOrders(ctx, filter)
}

// History returns the order's transition audit trail.
func (e *Engine) History(ctx context.Context, orderID string) ([]TransitionRecord, error) {
	if _, err := e.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return e.store.Transitions(ctx, orderID)
}

// Transition applies a trigger to an order. Re-applying the trigger that was
// last applied is a no-op returning the current state. Transitions for one
// order are serialized; a caller racing an in-flight transition receives a
// ConcurrentModificationError.
func (e *Engine) Transition(ctx context.Context, orderID string, trigger Trigger, meta map[string]any) (Order, error) {
	start := time.Now()
	order, err := e.transition(ctx, orderID, trigger, meta, false)
	e.metrics.Observe(ctx, "transition", err == nil, time.Since(start))
	return order, err
}

// SetPriority updates the order's queue priority and repositions any pending
// cutter job. Priority never affects transition legality, so no transition
// record is written.
func (e *Engine) SetPriority(ctx context.Context, orderID string, priority Priority) (Order, error) {
	if !priority.Valid() {
		return Order{}, fmt.Errorf("unknown priority %q", priority)
	}
	lock := e.lockFor(orderID)
	if !lock.TryLock() {
		return Order{}, domain.ConcurrentModificationError{OrderID: orderID}
	}
	defer lock.Unlock()

	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.Terminal() {
		return Order{}, domain.IllegalTransitionError{OrderID: orderID, State: order.State, Trigger: "SET_PRIORITY"}
	}
	if order.Priority == priority {
		return order, nil
	}
	order.Priority = priority
	order.UpdatedAt = e.now().UTC()
	if err := e.store.PutOrder(ctx, order); err != nil {
		return Order{}, err
	}
	if e.queue != nil {
		if err := e.queue.Reprioritize(ctx, orderID, priority); err != nil {
			e.logger.Debug("no pending job to reprioritize", "order_id", orderID, "error", err.Error())
		}
	}
	e.logger.Info("priority changed", "order_id", orderID, "priority", string(priority))
	return order, nil
}

// CancelOrder cancels a pre-terminal order and withdraws any queued cutter
// job.
func (e *Engine) CancelOrder(ctx context.Context, orderID string, reason string) (Order, error) {
	meta := map[string]any{}
	if reason != "" {
		meta["reason"] = reason
	}
	order, err := e.Transition(ctx, orderID, domain.TriggerCancel, meta)
	if err != nil {
		return order, err
	}
	if e.queue != nil {
		if err := e.queue.Cancel(ctx, orderID); err != nil {
			e.logger.Debug("no queued job to cancel", "order_id", orderID, "error", err.Error())
		}
	}
	return order, nil
}

// applyEvent is the entry point for system-originated triggers (queue
// observer, SLA monitor). Unlike Transition it waits for any in-flight
// transition instead of failing fast, so internal events are never dropped.
func (e *Engine) applyEvent(orderID string, trigger Trigger, meta map[string]any) {
	ctx := context.Background()
	start := time.Now()
	_, err := e.transition(ctx, orderID, trigger, meta, true)
	e.metrics.Observe(ctx, "apply_event", err == nil, time.Since(start))
	if err != nil {
		var illegal domain.IllegalTransitionError
		if errors.As(err, &illegal) {
			// Duplicate queue redelivery after crash recovery lands here.
			e.logger.Warn("internal event not applicable", "order_id", orderID, "trigger", string(trigger), "error", err.Error())
			return
		}
		e.logger.Error("internal event failed", "order_id", orderID, "trigger", string(trigger), "error", err.Error())
	}
}

func (e *Engine) transition(ctx context.Context, orderID string, trigger Trigger, meta map[string]any, wait bool) (Order, error) {
	lock := e.lockFor(orderID)
	if wait {
		lock.Lock()
	} else if !lock.TryLock() {
		return Order{}, domain.ConcurrentModificationError{OrderID: orderID}
	}
	defer lock.Unlock()

	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	// LastTrigger catches replays of the last applied step; LastCommand
	// catches replays of an external command whose cascade has already moved
	// LastTrigger past it (START_PROCESSING lands on VALIDATION_PASSED).
	if order.LastTrigger == trigger || order.LastCommand == trigger {
		return order, nil
	}
	if order.Terminal() {
		return Order{}, domain.IllegalTransitionError{OrderID: orderID, State: order.State, Trigger: trigger}
	}
	if _, ok := resolve(order.State, order.Substate, trigger); !ok {
		return Order{}, domain.IllegalTransitionError{OrderID: orderID, State: order.State, Trigger: trigger}
	}

	order, err = e.dispatchLocked(ctx, order, trigger, meta)
	if err != nil || wait {
		return order, err
	}
	// Externally supplied triggers are remembered on the snapshot so an HTTP
	// retry of the same command is a no-op rather than IllegalTransition.
	order.LastCommand = trigger
	if err := e.store.PutOrder(ctx, order); err != nil {
		return order, err
	}
	return order, nil
}

func (e *Engine) dispatchLocked(ctx context.Context, order Order, trigger Trigger, meta map[string]any) (Order, error) {
	switch trigger {
	case domain.TriggerSubmitToCutter:
		return e.submitToCutterLocked(ctx, order, meta)
	case domain.TriggerRetryCut:
		return e.retryCutLocked(ctx, order, meta)
	case domain.TriggerStartProcessing:
		return e.startProcessingLocked(ctx, order, meta)
	case domain.TriggerManualApprove:
		return e.manualApproveLocked(ctx, order, meta)
	case domain.TriggerResumeValidation:
		return e.resumeValidationLocked(ctx, order, meta)
	case domain.TriggerJobRequeued:
		order.RetryCounts = bump(order.RetryCounts, retryClassCutter)
		order.Error = &OrderError{Code: "DELIVERY_FAILED", Message: metaString(meta, "cause"), Retryable: true}
		return e.applyLocked(ctx, order, trigger, meta)
	case domain.TriggerJobDeadLetter:
		order.Error = &OrderError{Code: "DEAD_LETTER", Message: metaString(meta, "cause"), Retryable: false}
		return e.applyLocked(ctx, order, trigger, meta)
	case domain.TriggerJobCompleted:
		order.Error = nil
		return e.applyLocked(ctx, order, trigger, meta)
	default:
		return e.applyLocked(ctx, order, trigger, meta)
	}
}

// manualApproveLocked releases a manual-review order straight to
// PATTERN_READY. Pattern generation still has to run since the automatic
// pass never reached it.
func (e *Engine) manualApproveLocked(ctx context.Context, order Order, meta map[string]any) (Order, error) {
	if e.pattern == nil {
		return Order{}, fmt.Errorf("order %s: no pattern generator configured", order.ID)
	}
	result, err := e.pattern.Generate(ctx, order)
	if err != nil {
		return Order{}, fmt.Errorf("generate patterns for %s: %w", order.ID, err)
	}
	order.Files = result.Files
	if order.Metadata == nil {
		order.Metadata = map[string]any{}
	}
	order.Metadata["cutter_payload_key"] = result.PayloadKey
	order.Error = nil
	return e.applyLocked(ctx, order, domain.TriggerManualApprove, meta)
}

// resumeValidationLocked re-enters the validation loop after a corrected
// measurement set (or threshold change) with a fresh retry budget.
func (e *Engine) resumeValidationLocked(ctx context.Context, order Order, meta map[string]any) (Order, error) {
	if order.RetryCounts != nil {
		delete(order.RetryCounts, retryClassValidation)
	}
	order.Error = nil
	order, err := e.applyLocked(ctx, order, domain.TriggerResumeValidation, meta)
	if err != nil {
		return order, err
	}
	return e.validationLoopLocked(ctx, order)
}

func bump(counts map[string]int, class string) map[string]int {
	if counts == nil {
		counts = map[string]int{}
	}
	counts[class]++
	return counts
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}

// startProcessingLocked runs the processing cascade: transformation and
// pattern generation, then the validation loop. The loop retries up to
// maxValidationAttempts times before parking the order for manual review.
func (e *Engine) startProcessingLocked(ctx context.Context, order Order, meta map[string]any) (Order, error) {
	order, err := e.applyLocked(ctx, order, domain.TriggerStartProcessing, meta)
	if err != nil {
		return order, err
	}
	return e.validationLoopLocked(ctx, order)
}

func (e *Engine) validationLoopLocked(ctx context.Context, order Order) (Order, error) {
	var err error
	for {
		// A resumed order is already sitting in VALIDATION.
		if order.State != StateValidation {
			order, err = e.applyLocked(ctx, order, domain.TriggerValidate, nil)
			if err != nil {
				return order, err
			}
		}

		verdict := e.gate.Evaluate(order.Measurements)
		if order.Metadata == nil {
			order.Metadata = map[string]any{}
		}
		order.Metadata["last_verdict"] = verdict

		if verdict.Pass {
			return e.validationPassedLocked(ctx, order, verdict)
		}

		attempts := order.RetryCount(retryClassValidation) + 1
		if order.RetryCounts == nil {
			order.RetryCounts = map[string]int{}
		}
		order.RetryCounts[retryClassValidation] = attempts
		order.Error = &OrderError{
			Code:      "VALIDATION_FAILED",
			Message:   verdict.Failures[0].Error(),
			Retryable: attempts < maxValidationAttempts,
		}
		e.logger.Warn("validation failed",
			"order_id", order.ID,
			"attempt", attempts,
			"failures", len(verdict.Failures))

		if attempts >= maxValidationAttempts {
			return e.applyLocked(ctx, order, domain.TriggerValidationExhausted, map[string]any{
				"attempts": attempts,
			})
		}
		order, err = e.applyLocked(ctx, order, domain.TriggerValidationFailed, map[string]any{
			"attempt": attempts,
		})
		if err != nil {
			return order, err
		}
	}
}

func (e *Engine) validationPassedLocked(ctx context.Context, order Order, verdict Verdict) (Order, error) {
	if e.pattern == nil {
		return Order{}, fmt.Errorf("order %s: no pattern generator configured", order.ID)
	}
	result, err := e.pattern.Generate(ctx, order)
	if err != nil {
		return Order{}, fmt.Errorf("generate patterns for %s: %w", order.ID, err)
	}
	order.Files = result.Files
	if order.Metadata == nil {
		order.Metadata = map[string]any{}
	}
	order.Metadata["cutter_payload_key"] = result.PayloadKey
	order.Error = nil
	return e.applyLocked(ctx, order, domain.TriggerValidationPassed, map[string]any{
		"overall_confidence": verdict.OverallConfidence,
	})
}

// submitToCutterLocked enqueues the cutter job before the transition is
// applied. A worker picking the job up immediately blocks on the order lock
// until the QUEUE_WAIT snapshot is durable.
func (e *Engine) submitToCutterLocked(ctx context.Context, order Order, meta map[string]any) (Order, error) {
	if e.queue == nil {
		return Order{}, fmt.Errorf("order %s: no cutter queue configured", order.ID)
	}
	if e.pattern == nil {
		return Order{}, fmt.Errorf("order %s: no pattern generator configured", order.ID)
	}
	payload, err := e.pattern.CutPayload(ctx, order)
	if err != nil {
		return Order{}, fmt.Errorf("load cutter payload for %s: %w", order.ID, err)
	}
	jobID, err := e.queue.Enqueue(ctx, order.ID, payload, order.Priority)
	if err != nil {
		return Order{}, fmt.Errorf("enqueue cutter job for %s: %w", order.ID, err)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["job_id"] = jobID
	return e.applyLocked(ctx, order, domain.TriggerSubmitToCutter, meta)
}

func (e *Engine) retryCutLocked(ctx context.Context, order Order, meta map[string]any) (Order, error) {
	if e.queue == nil || e.pattern == nil {
		return Order{}, fmt.Errorf("order %s: cutter path not configured", order.ID)
	}
	payload, err := e.pattern.CutPayload(ctx, order)
	if err != nil {
		return Order{}, fmt.Errorf("load cutter payload for %s: %w", order.ID, err)
	}
	jobID, err := e.queue.Enqueue(ctx, order.ID, payload, order.Priority)
	if err != nil {
		return Order{}, fmt.Errorf("enqueue cutter job for %s: %w", order.ID, err)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["job_id"] = jobID
	order.Error = nil
	return e.applyLocked(ctx, order, domain.TriggerRetryCut, meta)
}

// applyLocked performs one legality-checked transition with the order lock
// held. The record is appended to the event log before any snapshot write.
func (e *Engine) applyLocked(ctx context.Context, order Order, trigger Trigger, meta map[string]any) (Order, error) {
	edge, ok := resolve(order.State, order.Substate, trigger)
	if !ok {
		return Order{}, domain.IllegalTransitionError{OrderID: order.ID, State: order.State, Trigger: trigger}
	}

	now := e.now().UTC()
	rec := TransitionRecord{
		OrderID:   order.ID,
		From:      order.State,
		To:        edge.to,
		Trigger:   trigger,
		Timestamp: now,
		Metadata:  meta,
	}
	if _, err := e.log.Append(ctx, eventlog.KindTransition, rec); err != nil {
		return Order{}, fmt.Errorf("append transition record: %w", err)
	}

	if edge.to != order.State || edge.substate != order.Substate {
		order.StateEnteredAt = now
	}
	order.State = edge.to
	order.Substate = edge.substate
	order.LastTrigger = trigger
	// Any applied event invalidates the replay window of the previous
	// external command; the same command may legitimately recur later (a
	// second RETRY_CUT after another dead letter).
	order.LastCommand = ""
	order.UpdatedAt = now

	if err := e.store.PutOrder(ctx, order); err != nil {
		return Order{}, err
	}
	if err := e.store.AppendTransition(ctx, rec); err != nil {
		return Order{}, err
	}
	e.logger.Info("transition applied",
		"order_id", order.ID,
		"from", string(rec.From),
		"to", string(rec.To),
		"trigger", string(trigger))
	for _, hook := range e.hooks {
		hook(rec)
	}
	return order, nil
}

func (e *Engine) lockFor(orderID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[orderID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[orderID] = lock
	}
	return lock
}

// nextOrderID allocates the next ID in the SDS-YYYYMMDD-NNNN-R scheme. NNNN
// is a per-day sequence; R is the revision letter, always A for a new order.
func (e *Engine) nextOrderID(ctx context.Context, now time.Time) (string, error) {
	stamp := now.Format("20060102")

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seq.date != stamp {
		count, err := e.store.CountCreatedOn(ctx, stamp)
		if err != nil {
			return "", fmt.Errorf("allocate order sequence: %w", err)
		}
		e.seq.date = stamp
		e.seq.next = count + 1
	}
	n := e.seq.next
	e.seq.next++
	return fmt.Sprintf("SDS-%s-%04d-A", stamp, n), nil
}
