// Package httpapi exposes the order orchestration REST surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"stitchcore/internal/core"
	"stitchcore/internal/pattern"
	"stitchcore/pkg/domain"
)

// Handler routes /api/v1 order operations to the engine.
type Handler struct {
	Engine    *core.Engine
	Monitor   *core.SLAMonitor
	Artifacts *pattern.Generator
}

// NewHandler constructs the API handler.
func NewHandler(engine *core.Engine) *Handler {
	return &Handler{Engine: engine}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Engine == nil {
		writeError(w, http.StatusInternalServerError, "engine not configured")
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api/v1/orders":
		switch r.Method {
		case http.MethodPost:
			h.handleCreate(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	case strings.HasPrefix(path, "/api/v1/orders/"):
		h.handleOrder(w, r, strings.TrimPrefix(path, "/api/v1/orders/"))
		return
	case path == "/api/v1/config/sla":
		h.handleSLAConfig(w, r)
		return
	case path == "/healthz":
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
		return
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleOrder(w http.ResponseWriter, r *http.Request, remainder string) {
	parts := strings.SplitN(remainder, "/", 2)
	orderID := parts[0]
	if orderID == "" {
		http.NotFound(w, r)
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleStatus(w, r, orderID)
		return
	}

	switch {
	case parts[1] == "history" && r.Method == http.MethodGet:
		h.handleHistory(w, r, orderID)
	case parts[1] == "scan" && r.Method == http.MethodPost:
		h.handleScan(w, r, orderID)
	case parts[1] == "transition" && r.Method == http.MethodPost:
		h.handleTransition(w, r, orderID)
	case parts[1] == "priority" && r.Method == http.MethodPatch:
		h.handlePriority(w, r, orderID)
	case parts[1] == "cancel" && r.Method == http.MethodPost:
		h.handleCancel(w, r, orderID)
	case strings.HasPrefix(parts[1], "files/") && r.Method == http.MethodGet:
		h.handleArtifact(w, r, orderID, strings.TrimPrefix(parts[1], "files/"))
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req core.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid order payload")
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id required")
		return
	}
	if req.Priority != "" && !req.Priority.Valid() {
		writeError(w, http.StatusBadRequest, "unknown priority")
		return
	}
	order, err := h.Engine.CreateOrder(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, statusView(order))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := domain.OrderFilter{
		CustomerID: r.URL.Query().Get("customer_id"),
		Priority:   domain.Priority(r.URL.Query().Get("priority")),
	}
	if raw := r.URL.Query().Get("state"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.States = append(filter.States, domain.OrderState(s))
		}
	}
	orders, err := h.Engine.ListOrders(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(orders))
	for _, order := range orders {
		views = append(views, statusView(order))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": views})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, orderID string) {
	order, err := h.Engine.GetOrder(r.Context(), orderID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusView(order))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, orderID string) {
	recs, err := h.Engine.History(r.Context(), orderID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "transitions": recs})
}

func (h *Handler) handleScan(w http.ResponseWriter, r *http.Request, orderID string) {
	var req struct {
		Measurements domain.MeasurementSet `json:"measurements"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid scan payload")
		return
	}
	if len(req.Measurements) == 0 {
		writeError(w, http.StatusBadRequest, "measurements required")
		return
	}
	order, err := h.Engine.SubmitScan(r.Context(), orderID, req.Measurements)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusView(order))
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, orderID string) {
	var req struct {
		Trigger  string         `json:"trigger"`
		Metadata map[string]any `json:"metadata,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid transition payload")
		return
	}
	if req.Trigger == "" {
		writeError(w, http.StatusBadRequest, "trigger required")
		return
	}
	order, err := h.Engine.Transition(r.Context(), orderID, domain.Trigger(req.Trigger), req.Metadata)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusView(order))
}

func (h *Handler) handlePriority(w http.ResponseWriter, r *http.Request, orderID string) {
	var req struct {
		Priority string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid priority payload")
		return
	}
	if !domain.Priority(req.Priority).Valid() {
		writeError(w, http.StatusBadRequest, "unknown priority")
		return
	}
	order, err := h.Engine.SetPriority(r.Context(), orderID, domain.Priority(req.Priority))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusView(order))
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, orderID string) {
	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	// Body is optional for cancellation.
	_ = json.NewDecoder(r.Body).Decode(&req)
	order, err := h.Engine.CancelOrder(r.Context(), orderID, req.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusView(order))
}

func (h *Handler) handleArtifact(w http.ResponseWriter, r *http.Request, orderID, kind string) {
	if h.Artifacts == nil {
		writeError(w, http.StatusNotFound, "artifact store not configured")
		return
	}
	order, err := h.Engine.GetOrder(r.Context(), orderID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !order.Files[kind] {
		writeError(w, http.StatusNotFound, "artifact not available")
		return
	}
	info, rc, err := h.Artifacts.Artifact(r.Context(), orderID, kind)
	if err != nil {
		writeError(w, http.StatusNotFound, "artifact not available")
		return
	}
	defer func() { _ = rc.Close() }()
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, rc)
}

func (h *Handler) handleSLAConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.Monitor == nil {
		writeError(w, http.StatusNotFound, "sla monitor not configured")
		return
	}
	policies := h.Monitor.Policies()
	out := make([]map[string]any, 0, len(policies))
	for key, policy := range policies {
		out = append(out, map[string]any{
			"state":              key.State,
			"substate":           key.Substate,
			"target_duration":    policy.Target.String(),
			"alert_threshold":    policy.Alert.String(),
			"max_duration":       policy.Max.String(),
			"timeout_transition": policy.Timeout,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": out})
}

// stateProgress maps each lifecycle state to a rough completion percentage
// for the customer-facing poll view.
var stateProgress = map[domain.OrderState]int{
	domain.StateCreated:          0,
	domain.StateReceived:         5,
	domain.StateScanReceived:     10,
	domain.StateProcessing:       20,
	domain.StateValidation:       25,
	domain.StatePatternReady:     30,
	domain.StateQueueWait:        35,
	domain.StateCutting:          40,
	domain.StatePatternCut:       50,
	domain.StateStaging:          55,
	domain.StateQA:               60,
	domain.StateStaging2:         65,
	domain.StateSewing:           75,
	domain.StateAssembly:         85,
	domain.StateFinishing:        90,
	domain.StateReadyForPickup:   95,
	domain.StateShipping:         97,
	domain.StateAlterations:      97,
	domain.StatePickedUp:         100,
	domain.StateDelivered:        100,
	domain.StateCompleted:        100,
	domain.StateCancelled:        100,
	domain.StateRefundProcessing: 100,
	domain.StateClosed:           100,
}

func statusView(order domain.Order) map[string]any {
	view := map[string]any{
		"order_id":         order.ID,
		"customer_id":      order.CustomerID,
		"state":            order.State,
		"priority":         order.Priority,
		"files_available":  order.Files,
		"progress_percent": stateProgress[order.State],
		"created_at":       order.CreatedAt,
		"updated_at":       order.UpdatedAt,
	}
	if order.Substate != domain.SubstateNone {
		view["substate"] = order.Substate
	}
	if order.GarmentType != "" {
		view["garment_type"] = order.GarmentType
	}
	if order.FitType != "" {
		view["fit_type"] = order.FitType
	}
	if order.Error != nil {
		view["error"] = order.Error
	}
	return view
}

func writeEngineError(w http.ResponseWriter, err error) {
	var notFound domain.OrderNotFoundError
	var illegal domain.IllegalTransitionError
	var concurrent domain.ConcurrentModificationError
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &illegal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &concurrent):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
