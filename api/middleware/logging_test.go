package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/fixora-backend/pkg/logger"
)

type recordedRequest struct {
	route  string
	method string
	status int
}

type fakeObserver struct {
	seen []recordedRequest
}

func (f *fakeObserver) ObserveRequest(route, method string, status int, _ time.Duration) {
	f.seen = append(f.seen, recordedRequest{route: route, method: method, status: status})
}

func TestLoggingRecordsRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "middleware-test", Output: &buf})
	observer := &fakeObserver{}

	r := chi.NewRouter()
	r.Use(Logging(logg, observer))
	r.Get("/api/v1/bookings/{bookingId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bookings/7b1c", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	if len(observer.seen) != 1 {
		t.Fatalf("expected one observation got %d", len(observer.seen))
	}
	got := observer.seen[0]
	if got.route != "/api/v1/bookings/{bookingId}" || got.status != http.StatusTeapot || got.method != http.MethodGet {
		t.Fatalf("unexpected observation %+v", got)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["route"] != "/api/v1/bookings/{bookingId}" || line["path"] != "/api/v1/bookings/7b1c" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestLoggingSkipsHealthyProbes(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "middleware-test", Output: &buf})
	handler := Logging(logg, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if buf.Len() != 0 {
		t.Fatalf("expected no log for healthy probe got %q", buf.String())
	}
}

func TestRequestIDPropagatesOrMints(t *testing.T) {
	var seen string
	handler := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get(requestIDHeader)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "upstream-req.42")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "upstream-req.42" {
		t.Fatalf("expected caller id to propagate got %q", seen)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "bad id\n"+strings.Repeat("x", 80))
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen == "" || strings.Contains(seen, " ") {
		t.Fatalf("expected a minted id got %q", seen)
	}
}

func TestRecovererWritesInternalError(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/payouts", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"INTERNAL_ERROR"`) {
		t.Fatalf("expected error envelope got %s", rec.Body.String())
	}
}

func TestActorContextKeepsBothFields(t *testing.T) {
	ctx := WithRole(WithUserID(context.Background(), "u-1"), "technician")
	if UserIDFromContext(ctx) != "u-1" || RoleFromContext(ctx) != "technician" {
		t.Fatalf("expected both fields got %q %q", UserIDFromContext(ctx), RoleFromContext(ctx))
	}
}
