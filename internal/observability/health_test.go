package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandleHealth(t *testing.T) {
	Version = "1.2.3"
	Commit = "abc1234"
	t.Cleanup(func() { Version, Commit = "dev", "unknown" })

	rec := httptest.NewRecorder()
	HandleHealth()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Status != "ok" || resp.Version != "1.2.3" || resp.Commit != "abc1234" {
		t.Errorf("response = %+v", resp)
	}
}

func TestHandleReady_allChecksPass(t *testing.T) {
	handler := HandleReady(ReadinessChecks{
		WorkflowsLoaded:   func() bool { return true },
		CredentialsLoaded: func() bool { return true },
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ReadinessResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "ready" {
		t.Errorf("Status = %q, want ready", resp.Status)
	}
	if len(resp.Checks) != 2 {
		t.Errorf("Checks = %v, want both checks reported", resp.Checks)
	}
}

func TestHandleReady_failingCheck(t *testing.T) {
	handler := HandleReady(ReadinessChecks{
		WorkflowsLoaded:   func() bool { return false },
		CredentialsLoaded: func() bool { return true },
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var resp ReadinessResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Status != "not_ready" {
		t.Errorf("Status = %q, want not_ready", resp.Status)
	}
	if resp.Checks["workflows"].Status != "unavailable" {
		t.Errorf("workflows check = %+v", resp.Checks["workflows"])
	}
}

func TestHandleReady_nilChecksSkipped(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleReady(ReadinessChecks{})(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when no checks configured", rec.Code)
	}
}
