package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/api/middleware"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
)

type actorRequest struct {
	method string
	target string
	body   string
	userID uuid.UUID
	role   enums.ActorRole
	params map[string]string
	header map[string]string
}

func (a actorRequest) build() *http.Request {
	var body io.Reader
	if a.body != "" {
		body = strings.NewReader(a.body)
	}
	req := httptest.NewRequest(a.method, a.target, body)
	for k, v := range a.header {
		req.Header.Set(k, v)
	}

	ctx := req.Context()
	if a.userID != uuid.Nil {
		ctx = middleware.WithUserID(ctx, a.userID.String())
	}
	if a.role != "" {
		ctx = middleware.WithRole(ctx, string(a.role))
	}
	if len(a.params) > 0 {
		routeCtx := chi.NewRouteContext()
		for k, v := range a.params {
			routeCtx.URLParams.Add(k, v)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, routeCtx)
	}
	return req.WithContext(ctx)
}

func serve(t *testing.T, handler http.Handler, a actorRequest) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, a.build())
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return envelope.Error.Code
}
