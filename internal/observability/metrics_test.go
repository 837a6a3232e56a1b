package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/edgemesh/internal/testutil/testlog"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordPacket("server", "KEEP_ALIVE", true, 3*time.Millisecond)
	RecordSendAttempt("server", "KEEP_ALIVE", errors.New("timeout"))
	RecordEviction("server", "GENERIC", "stale")
	SetRegistryPeers("server", 4)
	RecordHTTPRequest("server", "GET", "/health", 200, 12*time.Millisecond)
}

func TestMetricsHandlerExposesPacketCounter(t *testing.T) {
	testlog.Start(t)
	RecordPacket("coordinator", "INITIALIZATION", false, time.Millisecond)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "edgemesh_packets_handled_total") {
		t.Fatalf("packet counter missing from exposition")
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	testlog.Start(t)
	r := chi.NewRouter()
	r.Use(RequestLogger(log.Logger), RequestMetrics("node"))
	r.Get("/peers/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/peers/abc", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	metrics := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(metrics.Body.String(), `path="/peers/{id}"`) {
		t.Fatalf("expected route pattern label in metrics")
	}
}

func TestPacketSpanWithoutProvider(t *testing.T) {
	testlog.Start(t)
	ctx, span := StartPacketSpan(context.Background(), "test.dispatch", PacketSpan{
		Role:       "server",
		PacketID:   "p-1",
		PacketType: "MESSAGE",
	})
	if ctx == nil {
		t.Fatalf("expected derived context")
	}
	EndPacketSpan(span, "ACK", nil)
}

func TestStdoutTracingExportsPacketSpans(t *testing.T) {
	testlog.Start(t)
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracing("stdout", "server", "server.a", &buf)
	if err != nil {
		t.Fatalf("init tracing: %v", err)
	}
	_, span := StartPacketSpan(context.Background(), "handler.Dispatch", PacketSpan{
		Role:       "server",
		PacketID:   "p-42",
		PacketType: "KEEP_ALIVE",
	})
	EndPacketSpan(span, "ACK", nil)
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "handler.Dispatch") || !strings.Contains(out, "p-42") {
		t.Fatalf("span not exported: %q", out)
	}
}

func TestInitTracingModes(t *testing.T) {
	testlog.Start(t)
	shutdown, err := InitTracing("", "node", "n", nil)
	if err != nil || shutdown(context.Background()) != nil {
		t.Fatalf("tracing off should be a no-op: %v", err)
	}
	if _, err := InitTracing("jaeger", "node", "n", nil); err == nil {
		t.Fatalf("expected unknown exporter error")
	}
	if ValidTracing("zipkin") || !ValidTracing("STDOUT") {
		t.Fatalf("unexpected ValidTracing results")
	}
}
