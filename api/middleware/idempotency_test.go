package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
)

const replayTTL = 7 * 24 * time.Hour

type replayStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newReplayStore() *replayStore {
	return &replayStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (s *replayStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (s *replayStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key], s.ttls[key] = value.(string), ttl
	return true, nil
}

func (s *replayStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key], s.ttls[key] = value.(string), ttl
	return nil
}

func (s *replayStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *replayStore) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

// payoutHandler counts calls and answers with the scripted statuses in order,
// repeating the last one.
type payoutHandler struct {
	calls    int
	statuses []int
}

func (h *payoutHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := h.statuses[min(h.calls, len(h.statuses)-1)]
	h.calls++
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"data":{"payout_id":"p-1"}}`))
}

func payoutRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payouts", strings.NewReader(body))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	inner := &payoutHandler{statuses: []int{http.StatusCreated}}
	rec := serve(Idempotency(newReplayStore(), nil, replayTTL)(inner), payoutRequest("", `{}`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, inner.calls)
}

func TestIdempotencyReplaysFirstResponse(t *testing.T) {
	store := newReplayStore()
	inner := &payoutHandler{statuses: []int{http.StatusAccepted}}
	h := Idempotency(store, nil, replayTTL)(inner)

	first := serve(h, payoutRequest("abc", `{"amount_cents":60000}`))
	require.Equal(t, http.StatusAccepted, first.Code)
	assert.Empty(t, first.Header().Get(replayedHeader))

	again := serve(h, payoutRequest("abc", `{"amount_cents":60000}`))
	assert.Equal(t, http.StatusAccepted, again.Code)
	assert.Equal(t, "true", again.Header().Get(replayedHeader))
	assert.Equal(t, "application/json", again.Header().Get("Content-Type"))
	assert.JSONEq(t, first.Body.String(), again.Body.String())
	assert.Equal(t, 1, inner.calls)

	for key, ttl := range store.ttls {
		assert.Equal(t, replayTTL, ttl, key)
	}
}

func TestIdempotencyRejectsChangedBody(t *testing.T) {
	h := Idempotency(newReplayStore(), nil, replayTTL)(&payoutHandler{statuses: []int{http.StatusOK}})
	serve(h, payoutRequest("xyz", `{"amount_cents":60000}`))

	rec := serve(h, payoutRequest("xyz", `{"amount_cents":70000}`))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeIdempotency), errorCode(t, rec))
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	inner := &payoutHandler{statuses: []int{http.StatusServiceUnavailable, http.StatusCreated}}
	h := Idempotency(newReplayStore(), nil, replayTTL)(inner)

	assert.Equal(t, http.StatusServiceUnavailable, serve(h, payoutRequest("retry-me", `{}`)).Code)
	assert.Equal(t, http.StatusCreated, serve(h, payoutRequest("retry-me", `{}`)).Code)
	assert.Equal(t, 2, inner.calls)
}

func TestIdempotencyKeepsClientErrors(t *testing.T) {
	inner := &payoutHandler{statuses: []int{http.StatusUnprocessableEntity, http.StatusCreated}}
	h := Idempotency(newReplayStore(), nil, replayTTL)(inner)

	serve(h, payoutRequest("once", `{}`))
	rec := serve(h, payoutRequest("once", `{}`))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 1, inner.calls)
}

func TestIdempotencyScopesKeysPerUser(t *testing.T) {
	inner := &payoutHandler{statuses: []int{http.StatusCreated}}
	h := Idempotency(newReplayStore(), nil, replayTTL)(inner)

	for _, user := range []string{"user-a", "user-b"} {
		req := payoutRequest("shared-key", `{}`)
		serve(h, req.WithContext(WithUserID(req.Context(), user)))
	}
	assert.Equal(t, 2, inner.calls)
}

func TestIdempotencyRejectsDuplicateWhileInFlight(t *testing.T) {
	store := newReplayStore()
	var duplicate *httptest.ResponseRecorder
	calls := 0
	var h http.Handler
	h = Idempotency(store, nil, replayTTL)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			duplicate = serve(h, payoutRequest("in-flight", `{}`))
		}
		w.WriteHeader(http.StatusCreated)
	}))

	rec := serve(h, payoutRequest("in-flight", `{}`))
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, duplicate)
	assert.Equal(t, http.StatusConflict, duplicate.Code)
	assert.Equal(t, string(pkgerrors.CodeConflict), errorCode(t, duplicate))
	assert.Equal(t, 1, calls)
}

func TestIdempotencyWithoutStorePassesThrough(t *testing.T) {
	inner := &payoutHandler{statuses: []int{http.StatusCreated}}
	rec := serve(Idempotency(nil, nil, replayTTL)(inner), payoutRequest("", `{}`))
	assert.Equal(t, http.StatusCreated, rec.Code)
}
