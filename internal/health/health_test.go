package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func passing(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return nil }}
}

func failing(name, msg string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return errors.New(msg) }}
}

func decodeReport(t *testing.T, rec *httptest.ResponseRecorder) report {
	t.Helper()
	var rep report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return rep
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	New(failing("store", "down")).Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	// Liveness ignores the checkers entirely.
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d; want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q; want JSON", ct)
	}
	if rep := decodeReport(t, rec); rep.Status != "ok" {
		t.Errorf("healthz body status = %q; want ok", rep.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "all dependencies up",
			checkers:   []Checker{passing("store"), passing("provider")},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"store": "ok", "provider": "ok"},
		},
		{
			name: "store down",
			checkers: []Checker{
				failing("store", "no active study configured"),
				passing("provider"),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{
				"store":    "fail: no active study configured",
				"provider": "ok",
			},
		},
		{
			name: "everything down",
			checkers: []Checker{
				failing("store", "connection refused"),
				failing("provider", "provider advertises no voices"),
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{
				"store":    "fail: connection refused",
				"provider": "fail: provider advertises no voices",
			},
		},
		{
			name:       "no checkers registered",
			checkers:   nil,
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			New(tc.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tc.wantCode {
				t.Errorf("readyz status = %d; want %d", rec.Code, tc.wantCode)
			}
			rep := decodeReport(t, rec)
			if rep.Status != tc.wantStatus {
				t.Errorf("body status = %q; want %q", rep.Status, tc.wantStatus)
			}
			for name, want := range tc.wantChecks {
				if got := rep.Checks[name]; got != want {
					t.Errorf("check %q = %q; want %q", name, got, want)
				}
			}
		})
	}
}

func TestRegister_MountsBothProbes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	New(passing("store")).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d; want 200", path, rec.Code)
		}
	}
}

func TestReadyz_HonoursRequestContext(t *testing.T) {
	t.Parallel()

	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with cancelled request = %d; want 503", rec.Code)
	}
}
