package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func probe(t *testing.T, h func(http.ResponseWriter, *http.Request), path string) (int, probeResult) {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	h(rec, req)

	var body probeResult
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealthz_AlwaysOK(t *testing.T) {
	t.Parallel()

	code, body := probe(t, New().Healthz, "/healthz")
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestHealthz_ContentType(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	New().Healthz(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyz_AllCheckersPass(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "pipeline", Check: func(context.Context) error { return nil }},
		Checker{Name: "gateway", Check: func(context.Context) error { return nil }},
	)

	code, body := probe(t, h.Readyz, "/readyz")
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
	for _, name := range []string{"pipeline", "gateway"} {
		if body.Checks[name] != "ok" {
			t.Errorf("%s check = %q, want ok", name, body.Checks[name])
		}
	}
}

func TestReadyz_OneCheckerFails(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "pipeline", Check: func(context.Context) error {
			return errors.New("state machine in error state")
		}},
		Checker{Name: "gateway", Check: func(context.Context) error { return nil }},
	)

	code, body := probe(t, h.Readyz, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Status != "fail" {
		t.Errorf("status = %q, want fail", body.Status)
	}
	if body.Checks["pipeline"] != "fail: state machine in error state" {
		t.Errorf("pipeline check = %q", body.Checks["pipeline"])
	}
	if body.Checks["gateway"] != "ok" {
		t.Errorf("gateway check = %q, want ok", body.Checks["gateway"])
	}
}

func TestReadyz_NoCheckers(t *testing.T) {
	t.Parallel()

	code, body := probe(t, New().Readyz, "/readyz")
	if code != http.StatusOK {
		t.Errorf("status = %d, want %d", code, http.StatusOK)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestReadyz_AllCheckersFail(t *testing.T) {
	t.Parallel()

	h := New(
		Checker{Name: "pipeline", Check: func(context.Context) error {
			return errors.New("timeout")
		}},
		Checker{Name: "gateway", Check: func(context.Context) error {
			return errors.New("listener closed")
		}},
	)

	code, body := probe(t, h.Readyz, "/readyz")
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", code, http.StatusServiceUnavailable)
	}
	if body.Checks["pipeline"] != "fail: timeout" {
		t.Errorf("pipeline check = %q", body.Checks["pipeline"])
	}
	if body.Checks["gateway"] != "fail: listener closed" {
		t.Errorf("gateway check = %q", body.Checks["gateway"])
	}
}

func TestRegister_RoutesServed(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "pipeline", Check: func(context.Context) error { return nil }})
	mux := http.NewServeMux()
	h.Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("GET", path, nil)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
		})
	}
}

func TestReadyz_RespectsRequestCancellation(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.Readyz(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
