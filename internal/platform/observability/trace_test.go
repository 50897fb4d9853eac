package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hanko-field/fulfillment/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatal("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
	if sc.SpanID().String() != "0000000000000001" {
		t.Fatalf("expected decimal span id to decode, got %s", sc.SpanID())
	}
	if !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("expected sampled remote span context")
	}

	for _, bad := range []string{"", "nope", "xyz/1;o=1", "105445aa7843bc8bf206b12000100000/;o=1"} {
		if _, ok := parseCloudTraceContext(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestTraceMiddlewareStoresTraceInfo(t *testing.T) {
	var captured requestctx.TraceInfo
	handler := TraceMiddleware("shop-prod")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders/1/tracking", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if captured.ProjectID != "shop-prod" {
		t.Fatalf("expected project id on trace info, got %+v", captured)
	}
	if header := rec.Header().Get(cloudTraceHeader); !strings.Contains(header, "/") {
		t.Fatalf("expected trace header to be echoed, got %q", header)
	}
}

func TestSanitizeDropsControlCharacters(t *testing.T) {
	if got := sanitize("GET\n\x00/orders", 5); got != "GET/o" {
		t.Fatalf("unexpected sanitised value %q", got)
	}
}
