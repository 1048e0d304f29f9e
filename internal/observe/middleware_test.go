package observe

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// middlewareSetup wires an in-memory meter and tracer so requests through the
// middleware can be inspected without a real collector.
func middlewareSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

func serve(mw func(http.Handler) http.Handler, status int, method, path string, hdr map[string]string) (*httptest.ResponseRecorder, string) {
	var cid string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		w.WriteHeader(status)
	}))

	req := httptest.NewRequest(method, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, cid
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	m, _, _ := middlewareSetup(t)
	mw := Middleware(m)

	rec, cid := serve(mw, http.StatusOK, "GET", "/alerts.csv", nil)

	if cid == "" {
		t.Error("middleware did not set correlation ID in context")
	}
	if len(cid) != 32 {
		t.Errorf("generated correlation ID length = %d, want 32", len(cid))
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, cid)
	}
}

func TestMiddleware_CreatesServerSpan(t *testing.T) {
	m, _, exp := middlewareSetup(t)
	mw := Middleware(m)

	serve(mw, http.StatusOK, "GET", "/alerts.csv", nil)

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("middleware did not create a span")
	}
	if spans[0].Name != "HTTP GET /alerts.csv" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "HTTP GET /alerts.csv")
	}
}

func TestMiddleware_RecordsRequestDuration(t *testing.T) {
	m, reader, _ := middlewareSetup(t)
	mw := Middleware(m)

	serve(mw, http.StatusOK, "GET", "/metrics", nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	met := findMetric(rm, "callwarden.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) == 0 {
		t.Fatal("no data points")
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}

	foundMethod, foundPath := false, false
	for _, kv := range dp.Attributes.ToSlice() {
		if string(kv.Key) == "method" && kv.Value.AsString() == "GET" {
			foundMethod = true
		}
		if string(kv.Key) == "path" && kv.Value.AsString() == "/metrics" {
			foundPath = true
		}
	}
	if !foundMethod {
		t.Error("missing method attribute")
	}
	if !foundPath {
		t.Error("missing path attribute")
	}
}

func TestMiddleware_CapturesStatusCode(t *testing.T) {
	m, _, exp := middlewareSetup(t)
	mw := Middleware(m)

	rec, _ := serve(mw, http.StatusNotFound, "GET", "/nope", nil)

	if rec.Code != http.StatusNotFound {
		t.Errorf("response status = %d, want %d", rec.Code, http.StatusNotFound)
	}

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 404 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code attribute")
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := middlewareSetup(t)
	mw := Middleware(m)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	hdr := map[string]string{
		"traceparent": "00-" + traceID + "-00f067aa0ba902b7-01",
	}
	rec, cid := serve(mw, http.StatusOK, "GET", "/alerts.csv", hdr)

	// The incoming trace ID becomes the correlation ID for the whole request.
	if cid != traceID {
		t.Errorf("correlation ID = %q, want %q", cid, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("response X-Correlation-ID = %q, want %q", got, traceID)
	}
}

// levelCapture records the levels of completion log lines per request path.
type levelCapture struct {
	mu     sync.Mutex
	levels map[string]slog.Level
}

func (c *levelCapture) Enabled(context.Context, slog.Level) bool { return true }

func (c *levelCapture) Handle(_ context.Context, r slog.Record) error {
	var path string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "path" {
			path = a.Value.String()
			return false
		}
		return true
	})
	c.mu.Lock()
	c.levels[path] = r.Level
	c.mu.Unlock()
	return nil
}

func (c *levelCapture) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *levelCapture) WithGroup(string) slog.Handler      { return c }

func TestMiddleware_ProbeEndpointsLogAtDebug(t *testing.T) {
	m, _, _ := middlewareSetup(t)
	mw := Middleware(m)

	capture := &levelCapture{levels: make(map[string]slog.Level)}
	orig := slog.Default()
	slog.SetDefault(slog.New(capture))
	t.Cleanup(func() { slog.SetDefault(orig) })

	serve(mw, http.StatusOK, "GET", "/healthz", nil)
	serve(mw, http.StatusOK, "GET", "/readyz", nil)
	serve(mw, http.StatusOK, "GET", "/alerts.csv", nil)

	capture.mu.Lock()
	defer capture.mu.Unlock()
	if got := capture.levels["/healthz"]; got != slog.LevelDebug {
		t.Errorf("/healthz logged at %v, want DEBUG", got)
	}
	if got := capture.levels["/readyz"]; got != slog.LevelDebug {
		t.Errorf("/readyz logged at %v, want DEBUG", got)
	}
	if got := capture.levels["/alerts.csv"]; got != slog.LevelInfo {
		t.Errorf("/alerts.csv logged at %v, want INFO", got)
	}
}
