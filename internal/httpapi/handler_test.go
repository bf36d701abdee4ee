package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stitchcore/internal/core"
	"stitchcore/internal/eventlog"
	"stitchcore/internal/httpapi"
	"stitchcore/internal/infra/blob"
	"stitchcore/internal/infra/persistence/memory"
	"stitchcore/internal/pattern"
	"stitchcore/pkg/domain"
)

type recordingQueue struct {
	enqueued  []string
	cancelled []string
	nextJob   int
}

func (q *recordingQueue) Enqueue(_ context.Context, orderID string, _ []byte, _ domain.Priority) (string, error) {
	q.nextJob++
	q.enqueued = append(q.enqueued, orderID)
	return fmt.Sprintf("job-%d", q.nextJob), nil
}

func (q *recordingQueue) Cancel(_ context.Context, orderID string) error {
	q.cancelled = append(q.cancelled, orderID)
	return nil
}

func (q *recordingQueue) Reprioritize(context.Context, string, domain.Priority) error { return nil }

func newTestHandler(t *testing.T) *httpapi.Handler {
	t.Helper()
	store := memory.NewStore()
	log := eventlog.NewMemory()
	artifacts := pattern.NewGenerator(blob.NewMemory())
	engine := core.NewEngine(store, log,
		core.WithQueue(&recordingQueue{}),
		core.WithPatternGenerator(artifacts),
	)
	monitor := core.NewSLAMonitor(engine, nil)
	return &httpapi.Handler{Engine: engine, Monitor: monitor, Artifacts: artifacts}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func measurementsPayload() map[string]any {
	values := map[string]float64{
		"Cg": 98, "Wg": 84, "Hg": 100, "Sh": 46, "Al": 64, "Il": 78,
		"Nc": 39, "Bg": 33, "Wr": 17, "Tg": 58, "Kg": 38, "Ca": 37, "Bw": 42,
		"Fwl": 44, "Bwl": 46, "Fsw": 40, "Si": 47, "Cd": 27, "Os": 104,
	}
	set := make(map[string]any, len(values))
	for code, v := range values {
		set[code] = map[string]any{"value": v, "unit": "cm", "confidence": 0.95}
	}
	return set
}

func createOrder(t *testing.T, h http.Handler, body map[string]any) string {
	t.Helper()
	rec, resp := doJSON(t, h, http.MethodPost, "/api/v1/orders", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	id, _ := resp["order_id"].(string)
	if id == "" {
		t.Fatalf("response missing order_id: %v", resp)
	}
	return id
}

func TestCreateOrderEndpoint(t *testing.T) {
	h := newTestHandler(t)

	id := createOrder(t, h, map[string]any{"customer_id": "cust-1", "garment_type": "jacket"})
	if !strings.HasPrefix(id, "SDS-") || !strings.HasSuffix(id, "-A") {
		t.Fatalf("order id = %s", id)
	}

	rec, resp := doJSON(t, h, http.MethodGet, "/api/v1/orders/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp["state"] != string(domain.StateReceived) {
		t.Fatalf("state = %v", resp["state"])
	}
	if resp["progress_percent"] != float64(5) {
		t.Fatalf("progress = %v", resp["progress_percent"])
	}
}

func TestCreateOrderRejectsBadRequests(t *testing.T) {
	h := newTestHandler(t)

	rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/orders", map[string]any{"garment_type": "jacket"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing customer status = %d", rec.Code)
	}
	rec, _ = doJSON(t, h, http.MethodPost, "/api/v1/orders", map[string]any{"customer_id": "c", "priority": "extreme"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad priority status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader("{not json"))
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d", rec2.Code)
	}
}

func TestOrderNotFound(t *testing.T) {
	h := newTestHandler(t)
	rec, _ := doJSON(t, h, http.MethodGet, "/api/v1/orders/SDS-20260301-9999-A", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestScanAndTransitionFlow(t *testing.T) {
	h := newTestHandler(t)
	id := createOrder(t, h, map[string]any{"customer_id": "cust-1", "garment_type": "jacket", "fit_type": "slim"})

	rec, resp := doJSON(t, h, http.MethodPost, "/api/v1/orders/"+id+"/scan",
		map[string]any{"measurements": measurementsPayload()})
	if rec.Code != http.StatusOK {
		t.Fatalf("scan status = %d, body %s", rec.Code, rec.Body)
	}
	if resp["state"] != string(domain.StateScanReceived) {
		t.Fatalf("state = %v", resp["state"])
	}

	rec, resp = doJSON(t, h, http.MethodPost, "/api/v1/orders/"+id+"/transition",
		map[string]any{"trigger": "START_PROCESSING"})
	if rec.Code != http.StatusOK {
		t.Fatalf("transition status = %d, body %s", rec.Code, rec.Body)
	}
	if resp["state"] != string(domain.StatePatternReady) {
		t.Fatalf("state = %v", resp["state"])
	}
	files, _ := resp["files_available"].(map[string]any)
	if files["plt"] != true || files["pds"] != true || files["dxf"] != true {
		t.Fatalf("files = %v", files)
	}
}

func TestScanRequiresMeasurements(t *testing.T) {
	h := newTestHandler(t)
	id := createOrder(t, h, map[string]any{"customer_id": "cust-1"})

	rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/orders/"+id+"/scan", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTransitionRejections(t *testing.T) {
	h := newTestHandler(t)
	id := createOrder(t, h, map[string]any{"customer_id": "cust-1"})

	rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/orders/"+id+"/transition", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty trigger status = %d", rec.Code)
	}
	rec, _ = doJSON(t, h, http.MethodPost, "/api/v1/orders/"+id+"/transition",
		map[string]any{"trigger": "START_QA"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("illegal transition status = %d", rec.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	h := newTestHandler(t)
	id := createOrder(t, h, map[string]any{"customer_id": "cust-1", "measurements": measurementsPayload()})

	rec, resp := doJSON(t, h, http.MethodGet, "/api/v1/orders/"+id+"/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	transitions, _ := resp["transitions"].([]any)
	if len(transitions) != 3 {
		t.Fatalf("history length = %d, want CREATE/RECEIVE/SUBMIT_SCAN", len(transitions))
	}
}

func TestPriorityEndpoint(t *testing.T) {
	h := newTestHandler(t)
	id := createOrder(t, h, map[string]any{"customer_id": "cust-1"})

	rec, resp := doJSON(t, h, http.MethodPatch, "/api/v1/orders/"+id+"/priority",
		map[string]any{"priority": "rush"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if resp["priority"] != "rush" {
		t.Fatalf("priority = %v", resp["priority"])
	}

	rec, _ = doJSON(t, h, http.MethodPatch, "/api/v1/orders/"+id+"/priority",
		map[string]any{"priority": "extreme"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad priority status = %d", rec.Code)
	}
}

func TestCancelEndpoint(t *testing.T) {
	h := newTestHandler(t)
	id := createOrder(t, h, map[string]any{"customer_id": "cust-1"})

	rec, resp := doJSON(t, h, http.MethodPost, "/api/v1/orders/"+id+"/cancel",
		map[string]any{"reason": "customer request"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if resp["state"] != string(domain.StateCancelled) {
		t.Fatalf("state = %v", resp["state"])
	}
}

func TestListEndpointFilters(t *testing.T) {
	h := newTestHandler(t)
	createOrder(t, h, map[string]any{"customer_id": "cust-1"})
	id2 := createOrder(t, h, map[string]any{"customer_id": "cust-2"})
	doJSON(t, h, http.MethodPost, "/api/v1/orders/"+id2+"/cancel", nil)

	rec, resp := doJSON(t, h, http.MethodGet, "/api/v1/orders?state=RECEIVED", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	orders, _ := resp["orders"].([]any)
	if len(orders) != 1 {
		t.Fatalf("filtered list = %v", resp["orders"])
	}

	rec, resp = doJSON(t, h, http.MethodGet, "/api/v1/orders?customer_id=cust-2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	orders, _ = resp["orders"].([]any)
	if len(orders) != 1 {
		t.Fatalf("customer list = %v", resp["orders"])
	}
}

func TestArtifactDownload(t *testing.T) {
	h := newTestHandler(t)
	id := createOrder(t, h, map[string]any{"customer_id": "cust-1", "measurements": measurementsPayload()})
	rec, _ := doJSON(t, h, http.MethodPost, "/api/v1/orders/"+id+"/transition",
		map[string]any{"trigger": "START_PROCESSING"})
	if rec.Code != http.StatusOK {
		t.Fatalf("transition status = %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+id+"/files/plt", nil)
	res := httptest.NewRecorder()
	h.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("download status = %d, body %s", res.Code, res.Body)
	}
	if ct := res.Header().Get("Content-Type"); ct != "application/vnd.hp-hpgl" {
		t.Fatalf("content type = %s", ct)
	}
	if !strings.HasPrefix(res.Body.String(), "IN;SP1;") {
		t.Fatalf("body = %q", res.Body.String()[:20])
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/orders/"+id+"/files/zip", nil)
	res = httptest.NewRecorder()
	h.ServeHTTP(res, req)
	if res.Code != http.StatusNotFound {
		t.Fatalf("unknown kind status = %d", res.Code)
	}
}

func TestSLAConfigEndpoint(t *testing.T) {
	h := newTestHandler(t)
	rec, resp := doJSON(t, h, http.MethodGet, "/api/v1/config/sla", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	policies, _ := resp["policies"].([]any)
	if len(policies) != 6 {
		t.Fatalf("policies = %d entries", len(policies))
	}
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t)
	rec, resp := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || resp["status"] != "ok" {
		t.Fatalf("status = %d, body %v", rec.Code, resp)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)
	rec, _ := doJSON(t, h, http.MethodDelete, "/api/v1/orders", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}
