package core

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"stitchcore/pkg/domain"
)

// SLAPolicy bounds how long an order may sit in one position of the state
// graph. Alert breaches are advisory; Max breaches on timeout-transitionable
// positions apply SLA_TIMEOUT through the engine.
type SLAPolicy struct {
	Target time.Duration `json:"target_duration"`
	Alert  time.Duration `json:"alert_threshold"`
	Max    time.Duration `json:"max_duration"`
	// Timeout applies SLA_TIMEOUT when Max is breached. Only positions with
	// an SLA_TIMEOUT edge in the state graph may set it.
	Timeout bool `json:"timeout_transition"`
}

// SLAKey addresses a policy by graph position. Substate-qualified entries
// take precedence over the bare state entry.
type SLAKey struct {
	State    OrderState `json:"state"`
	Substate Substate   `json:"substate,omitempty"`
}

func (k SLAKey) String() string {
	if k.Substate == domain.SubstateNone {
		return string(k.State)
	}
	return string(k.State) + "/" + string(k.Substate)
}

// DefaultSLAPolicies returns the operations-manual policy table.
func DefaultSLAPolicies() map[SLAKey]SLAPolicy {
	return map[SLAKey]SLAPolicy{
		{State: StateReceived}:   {Target: 12 * time.Hour, Alert: 12 * time.Hour, Max: 24 * time.Hour, Timeout: true},
		{State: StateProcessing}: {Target: 3 * time.Minute, Alert: 3 * time.Minute, Max: 5 * time.Minute},
		{State: StateQueueWait}:  {Target: 15 * time.Minute, Alert: 30 * time.Minute, Max: time.Hour},
		{State: StateCutting}:    {Target: 30 * time.Minute, Alert: 30 * time.Minute, Max: 45 * time.Minute},
		{State: StateSewing}:     {Target: 8 * time.Hour, Alert: 8 * time.Hour, Max: 12 * time.Hour},
		{State: StateQA, Substate: domain.SubstateDisputeWindow}: {Target: 24 * time.Hour, Alert: 20 * time.Hour, Max: 24 * time.Hour, Timeout: true},
	}
}

// LoadSLAPolicies returns the default table with environment overrides
// applied. Overrides use Go duration syntax:
//
//	STITCHCORE_SLA_<STATE>_ALERT
//	STITCHCORE_SLA_<STATE>_MAX
//
// e.g. STITCHCORE_SLA_PROCESSING_MAX=10m.
func LoadSLAPolicies() (map[SLAKey]SLAPolicy, error) {
	policies := DefaultSLAPolicies()
	for key, policy := range policies {
		prefix := "STITCHCORE_SLA_" + strings.ReplaceAll(strings.ToUpper(key.String()), "/", "_")
		if raw := os.Getenv(prefix + "_ALERT"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("parse %s_ALERT: %w", prefix, err)
			}
			policy.Alert = d
		}
		if raw := os.Getenv(prefix + "_MAX"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("parse %s_MAX: %w", prefix, err)
			}
			policy.Max = d
		}
		policies[key] = policy
	}
	return policies, nil
}

// SLAAlert is the advisory event emitted when an order crosses its alert
// threshold or breaches its maximum duration.
type SLAAlert struct {
	OrderID  string        `json:"order_id"`
	State    OrderState    `json:"state"`
	Substate Substate      `json:"substate,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	Limit    time.Duration `json:"limit"`
	Breach   bool          `json:"max_breach"`
}

// AlertSink receives SLA alerts for escalation. Delivery is best effort.
type AlertSink interface {
	Alert(ctx context.Context, alert SLAAlert)
}

// logAlertSink is the default sink; it writes alerts to the engine logger.
type logAlertSink struct {
	logger Logger
}

func (s logAlertSink) Alert(_ context.Context, a SLAAlert) {
	s.logger.Warn("sla alert",
		"order_id", a.OrderID,
		"state", string(a.State),
		"substate", string(a.Substate),
		"elapsed", a.Elapsed.String(),
		"limit", a.Limit.String(),
		"max_breach", a.Breach)
}

// SLAMonitor periodically scans non-terminal orders against the policy
// table. It never mutates order state directly; max-duration breaches on
// timeout-transitionable positions go through the engine like any other
// trigger.
type SLAMonitor struct {
	engine   *Engine
	policies map[SLAKey]SLAPolicy
	interval time.Duration
	logger   Logger
	metrics  MetricsRecorder
	sink     AlertSink
	now      func() time.Time

	mu      sync.Mutex
	alerted map[string]string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SLAOption configures the monitor.
type SLAOption func(*SLAMonitor)

// WithSLAInterval sets the scan interval.
func WithSLAInterval(d time.Duration) SLAOption {
	return func(m *SLAMonitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithAlertSink routes alerts to an external escalation channel.
func WithAlertSink(sink AlertSink) SLAOption {
	return func(m *SLAMonitor) {
		if sink != nil {
			m.sink = sink
		}
	}
}

// WithSLALogger sets the monitor logger.
func WithSLALogger(l Logger) SLAOption {
	return func(m *SLAMonitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithSLAMetrics sets the metrics recorder.
func WithSLAMetrics(rec MetricsRecorder) SLAOption {
	return func(m *SLAMonitor) {
		if rec != nil {
			m.metrics = rec
		}
	}
}

// WithSLAClock overrides the time source. Tests only.
func WithSLAClock(now func() time.Time) SLAOption {
	return func(m *SLAMonitor) {
		if now != nil {
			m.now = now
		}
	}
}

// NewSLAMonitor constructs a monitor over the engine's order store.
func NewSLAMonitor(engine *Engine, policies map[SLAKey]SLAPolicy, opts ...SLAOption) *SLAMonitor {
	if policies == nil {
		policies = DefaultSLAPolicies()
	}
	m := &SLAMonitor{
		engine:   engine,
		policies: policies,
		interval: 30 * time.Second,
		logger:   noopLogger{},
		metrics:  noopMetricsRecorder{},
		now:      time.Now,
		alerted:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sink == nil {
		m.sink = logAlertSink{logger: m.logger}
	}
	return m
}

// Policies returns a copy of the active policy table.
func (m *SLAMonitor) Policies() map[SLAKey]SLAPolicy {
	out := make(map[SLAKey]SLAPolicy, len(m.policies))
	for k, v := range m.policies {
		out[k] = v
	}
	return out
}

// Start launches the scan loop.
func (m *SLAMonitor) Start() {
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.wg.Add(1)
	go m.run()
}

// Stop halts the scan loop and waits for it to drain.
func (m *SLAMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *SLAMonitor) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Scan(m.ctx)
		}
	}
}

// Scan evaluates every order sitting in a policed position. Exposed so tests
// and the startup path can force a pass without waiting for the ticker.
func (m *SLAMonitor) Scan(ctx context.Context) {
	states := make([]OrderState, 0, len(m.policies))
	seen := make(map[OrderState]bool, len(m.policies))
	for key := range m.policies {
		if !seen[key.State] {
			seen[key.State] = true
			states = append(states, key.State)
		}
	}
	orders, err := m.engine.ListOrders(ctx, OrderFilter{States: states})
	if err != nil {
		m.logger.Error("sla scan failed", "error", err.Error())
		return
	}
	now := m.now().UTC()
	for _, order := range orders {
		m.check(ctx, order, now)
	}
}

func (m *SLAMonitor) check(ctx context.Context, order Order, now time.Time) {
	policy, ok := m.policyFor(order.State, order.Substate)
	if !ok {
		return
	}
	position := SLAKey{State: order.State, Substate: order.Substate}.String()
	// Time in state is measured from the position entry timestamp, so
	// non-transition mutations such as priority updates never reset the SLA
	// clock. Snapshots predating the timestamp fall back to UpdatedAt.
	entered := order.StateEnteredAt
	if entered.IsZero() {
		entered = order.UpdatedAt
	}
	elapsed := now.Sub(entered)

	if policy.Timeout && policy.Max > 0 && elapsed >= policy.Max {
		m.logger.Warn("sla max breach, applying timeout",
			"order_id", order.ID, "position", position, "elapsed", elapsed.String())
		m.sink.Alert(ctx, SLAAlert{
			OrderID:  order.ID,
			State:    order.State,
			Substate: order.Substate,
			Elapsed:  elapsed,
			Limit:    policy.Max,
			Breach:   true,
		})
		m.metrics.Observe(ctx, "sla_timeout", true, elapsed)
		m.engine.applyEvent(order.ID, domain.TriggerSLATimeout, map[string]any{
			"position":   position,
			"elapsed_ms": elapsed.Milliseconds(),
			"limit_ms":   policy.Max.Milliseconds(),
		})
		m.clearAlert(order.ID)
		return
	}

	limit := policy.Alert
	breach := false
	if policy.Max > 0 && elapsed >= policy.Max {
		limit = policy.Max
		breach = true
	} else if policy.Alert <= 0 || elapsed < policy.Alert {
		m.clearAlert(order.ID)
		return
	}
	if !m.markAlerted(order.ID, position, breach) {
		return
	}
	m.sink.Alert(ctx, SLAAlert{
		OrderID:  order.ID,
		State:    order.State,
		Substate: order.Substate,
		Elapsed:  elapsed,
		Limit:    limit,
		Breach:   breach,
	})
	m.metrics.Observe(ctx, "sla_alert", !breach, elapsed)
}

func (m *SLAMonitor) policyFor(state OrderState, substate Substate) (SLAPolicy, bool) {
	if policy, ok := m.policies[SLAKey{State: state, Substate: substate}]; ok {
		return policy, true
	}
	if substate != domain.SubstateNone {
		if policy, ok := m.policies[SLAKey{State: state}]; ok {
			return policy, true
		}
	}
	return SLAPolicy{}, false
}

// markAlerted records that the alert fired for the order's current position
// so one breach produces one alert per severity, not one per scan.
func (m *SLAMonitor) markAlerted(orderID, position string, breach bool) bool {
	key := position
	if breach {
		key += "!max"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alerted[orderID] == key {
		return false
	}
	m.alerted[orderID] = key
	return true
}

func (m *SLAMonitor) clearAlert(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alerted, orderID)
}
