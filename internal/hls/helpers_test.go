package hls

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"hls-packager/internal/mpegts"
	"hls-packager/internal/platform/metrics"

	"github.com/google/uuid"
)

const (
	testTimescale     = 1000
	testFrameDuration = 40 // 25 frames per one second segment
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig packages one second segments, keeps three in memory and one in
// retention.
func testConfig() mpegts.Config {
	return mpegts.Config{
		TargetDurationMs:      1000,
		MaxSegmentCount:       3,
		SegmentRetentionCount: 1,
	}
}

func testPacket(fill byte) mpegts.Packet {
	p := make(mpegts.Packet, mpegts.PacketSize)
	p[0] = 0x47
	for i := 1; i < len(p); i++ {
		p[i] = fill
	}
	return p
}

func testTracks() []*mpegts.Track {
	return []*mpegts.Track{{ID: 1, MediaType: mpegts.MediaTypeVideo, Codec: "h264", Timescale: testTimescale}}
}

// mediaPlaylist renders the media playlist of the default variant.
func mediaPlaylist(t *testing.T, s *Stream, rewind bool) string {
	t.Helper()
	out, err := s.MediaPlaylist(DefaultVariant, rewind)
	if err != nil {
		t.Fatalf("MediaPlaylist: %v", err)
	}
	return out
}

func newTestStream(t *testing.T, id StreamID, cfg mpegts.Config) *Stream {
	t.Helper()
	s, err := NewStream(id, uuid.New(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewStream: %v", err)
	}
	if err := s.SetTracks(testTracks(), []mpegts.Packet{testPacket(0xff)}, nil); err != nil {
		t.Fatalf("SetTracks: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

// writeVideo pushes ms milliseconds of video starting at pts.
func writeVideo(t *testing.T, s *Stream, pts *int64, ms int) {
	t.Helper()
	for i := 0; i < ms/testFrameDuration; i++ {
		pkt := &mpegts.MediaPacket{TrackID: 1, PTS: *pts, Duration: testFrameDuration, Keyframe: i == 0}
		*pts += testFrameDuration
		if err := s.WriteFrame(pkt, []mpegts.Packet{testPacket(byte(i))}); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
}

func scrapeMetrics(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, metrics.ScrapePath, nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}
