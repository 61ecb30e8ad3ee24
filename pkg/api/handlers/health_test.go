package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestReadinessProbesTimeOutIndependently(t *testing.T) {
	// The first component hangs until its deadline; the second must still
	// run with a fresh, live context instead of inheriting the spent one.
	hung := Component{Name: "database", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	var secondCtxErr error
	healthy := Component{Name: "events", Check: func(ctx context.Context) error {
		secondCtxErr = ctx.Err()
		return nil
	}}

	h := NewHealthHandler([]Component{hung, healthy}, nil)
	h.probeTimeout = 20 * time.Millisecond

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()

	start := time.Now()
	h.Readiness(rec, req)
	elapsed := time.Since(start)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	var resp struct {
		Status  string   `json:"status"`
		Failing []string `json:"failing"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Failing) != 1 || resp.Failing[0] != "database" {
		t.Errorf("expected failing [database], got %v", resp.Failing)
	}
	if secondCtxErr != nil {
		t.Errorf("second probe received an already-dead context: %v", secondCtxErr)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("probes took %v, the hung component should be cut off at its own timeout", elapsed)
	}
}
