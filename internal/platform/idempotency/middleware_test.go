package idempotency

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hanko-field/fulfillment/internal/platform/auth"
)

var fixedTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

func serve(handler http.Handler, key, body string, ctx context.Context) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderNumber":"ORD-20240101-0001"}`))
	}))

	first := serve(handler, "abc-123", `{"items":[]}`, context.Background())
	second := serve(handler, "abc-123", `{"items":[]}`, context.Background())

	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replayed response, got %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get(replayHeaderName) != "true" || second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected replay headers %v", second.Header())
	}
}

func TestMiddlewareWithoutKeyPassesThrough(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))
	serve(handler, "", `{}`, context.Background())
	serve(handler, "", `{}`, context.Background())
	if calls != 2 {
		t.Fatalf("expected both requests to reach the handler, got %d", calls)
	}
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	serve(handler, "k1", `{"qty":1}`, context.Background())
	rec := serve(handler, "k1", `{"qty":2}`, context.Background())
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestMiddlewareReleasesKeyOnServerError(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	serve(handler, "k1", `{}`, context.Background())
	rec := serve(handler, "k1", `{}`, context.Background())
	if calls != 2 || rec.Code != http.StatusCreated {
		t.Fatalf("expected retry after server error, calls=%d status=%d", calls, rec.Code)
	}
}

func TestMiddlewareScopesKeysByRequester(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))
	alice := auth.WithIdentity(context.Background(), &auth.Identity{UID: "alice"})
	bob := auth.WithIdentity(context.Background(), &auth.Identity{UID: "bob"})
	serve(handler, "shared", `{}`, alice)
	serve(handler, "shared", `{}`, bob)
	if calls != 2 {
		t.Fatalf("expected keys to be scoped per requester, got %d calls", calls)
	}
}

func TestMemoryStorePendingAndExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if state, _, _ := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute); state != StateNew {
		t.Fatalf("expected new reservation, got %v", state)
	}
	if state, _, _ := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute); state != StatePending {
		t.Fatalf("expected pending reservation, got %v", state)
	}
	if state, _, _ := store.Reserve(ctx, "k", "fp", fixedTime.Add(2*time.Minute), time.Minute); state != StateNew {
		t.Fatalf("expected expired reservation to be reissued, got %v", state)
	}
}
