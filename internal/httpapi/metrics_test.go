package httpapi

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T) []byte {
	t.Helper()
	w := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", w.Code)
	}
	return w.Body.Bytes()
}

// Labels use the chi route pattern, not the raw path.
func TestMetrics_RoutePattern(t *testing.T) {
	h := NewMux(&fakeBackend{}, queuing())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models?x=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	body := scrape(t)
	if !bytes.Contains(body, []byte("chatd_http_requests_total")) || !bytes.Contains(body, []byte(`path="/v1/models"`)) {
		t.Fatalf("expected chatd_http_requests_total labelled with /v1/models")
	}
}

func TestMetrics_UnroutedUsesPath(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	if got := routePatternOrPath(r); got != "/nowhere" {
		t.Fatalf("got %q", got)
	}
}

func TestMetrics_ExposedOnMux(t *testing.T) {
	w := httptest.NewRecorder()
	NewMux(&fakeBackend{}, queuing()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("chatd_http_inflight_requests")) {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestIncrementBackpressure(t *testing.T) {
	before := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified"))
	IncrementBackpressure("")
	if got := testutil.ToFloat64(backpressureTotal.WithLabelValues("unspecified")); got != before+1 {
		t.Fatalf("counter=%v want %v", got, before+1)
	}
}

func TestChatOutcomeCounted(t *testing.T) {
	c := chatRequestsTotal.WithLabelValues("json", "409")
	before := testutil.ToFloat64(c)
	fb := &fakeBackend{err: errModelNotLoaded}
	postChat(t, NewMux(fb, queuing()), helloBody)
	if got := testutil.ToFloat64(c); got != before+1 {
		t.Fatalf("counter=%v want %v", got, before+1)
	}
}

func TestStatusRecorder_Flush(t *testing.T) {
	w := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	sr.WriteHeader(http.StatusAccepted)
	sr.Flush()
	if sr.status != http.StatusAccepted || !w.Flushed {
		t.Fatalf("status=%d flushed=%v", sr.status, w.Flushed)
	}
}
