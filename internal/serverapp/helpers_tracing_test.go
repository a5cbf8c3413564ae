package serverapp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"tablegraph/internal/config"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installSpanRecorder swaps the global tracer provider for a recording one
// and restores the previous provider when the test finishes.
func installSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	provider.RegisterSpanProcessor(spans)

	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
		otel.SetTracerProvider(previous)
	})
	return spans
}

func TestWrapHTTPHandler_SpanNames(t *testing.T) {
	spans := installSpanRecorder(t)

	cfg := &config.Config{Observability: config.ObservabilityConfig{TracingEnabled: true}}
	noContent := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	handler := wrapHTTPHandler(cfg, testLogger(), noContent)

	send := func(method, path string) {
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, httptest.NewRequest(method, path, nil))
		if resp.Code != http.StatusNoContent {
			t.Fatalf("%s %s: expected status %d, got %d", method, path, http.StatusNoContent, resp.Code)
		}
	}
	send(http.MethodGet, "/health")
	send(http.MethodPost, "/graphql")
	send(http.MethodGet, "/users/123")

	names := map[string]bool{}
	for _, span := range spans.Ended() {
		names[span.Name()] = true
	}
	for _, want := range []string{"GET /health", "POST /graphql", "GET /*"} {
		if !names[want] {
			t.Fatalf("expected span %q, got %v", want, names)
		}
	}
}

func TestRootSpanLabel(t *testing.T) {
	cases := []struct {
		label string
		req   *http.Request
		want  string
	}{
		{label: "nil request", req: nil, want: "HTTP /*"},
		{label: "graphql", req: httptest.NewRequest(http.MethodPost, "/graphql", nil), want: "POST /graphql"},
		{label: "admin", req: httptest.NewRequest(http.MethodPost, "/admin/rebuild-schema", nil), want: "POST /admin/rebuild-schema"},
		{label: "root", req: httptest.NewRequest(http.MethodGet, "/", nil), want: "GET /"},
		{label: "unregistered path folds", req: httptest.NewRequest(http.MethodGet, "/users/123", nil), want: "GET /*"},
	}

	for _, tc := range cases {
		t.Run(tc.label, func(t *testing.T) {
			if got := rootSpanLabel(tc.req); got != tc.want {
				t.Fatalf("rootSpanLabel = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestFoldSpanRoute(t *testing.T) {
	known := []string{"/", "/graphql", "/health", "/metrics", "/admin/rebuild-schema"}
	for _, route := range known {
		if got := foldSpanRoute(route); got != route {
			t.Fatalf("foldSpanRoute(%q) = %q, want the route unchanged", route, got)
		}
	}
	for _, route := range []string{"", "/users/123", "/graphql/extra", "/healthz"} {
		if got := foldSpanRoute(route); got != "/*" {
			t.Fatalf("foldSpanRoute(%q) = %q, want \"/*\"", route, got)
		}
	}
}
