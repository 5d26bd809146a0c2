package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics, update func()) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(update).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape: status %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetrics_segments(t *testing.T) {
	m := New()
	m.SegmentCreated(188 * 1000)
	m.SegmentCreated(188 * 2000)
	m.SegmentDeleted()

	body := scrape(t, m, func() {
		m.SetTierSegments(TierBuffer, 1)
		m.SetTierSegments(TierArchive, 0)
		m.SetActiveStreams(1)
	})

	for _, want := range []string{
		"hls_segments_created_total 2",
		"hls_segments_deleted_total 1",
		"hls_segment_bytes_count 2",
		`hls_tier_segments{tier="buffer"} 1`,
		`hls_tier_segments{tier="archive"} 0`,
		"hls_active_streams 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	h := RequestMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bad", nil))

	body := scrape(t, m, nil)
	if !strings.Contains(body, "hls_requests_total 2") {
		t.Error("expected 2 requests")
	}
	if !strings.Contains(body, "hls_errors_total 1") {
		t.Error("expected 1 error")
	}
}
