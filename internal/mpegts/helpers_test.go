package mpegts

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

const (
	testVideoTrack = 1
	testAudioTrack = 2

	// 25 fps in a millisecond timescale: every frame lasts exactly 40ms.
	testTimescale     = 1000
	testFrameDuration = 40
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type event struct {
	Kind string
	ID   uint64
}

// recordingSink records every notification. If packager is set, it checks
// that a deleted segment is already unreachable when the event fires.
type recordingSink struct {
	t        *testing.T
	packager *Packager

	mu     sync.Mutex
	events []event
}

func (s *recordingSink) OnSegmentCreated(_ string, seg *Segment) {
	s.mu.Lock()
	s.events = append(s.events, event{"created", seg.ID()})
	s.mu.Unlock()
}

func (s *recordingSink) OnSegmentDeleted(_ string, seg *Segment) {
	if s.packager != nil {
		if _, ok := s.packager.GetSegment(seg.ID()); ok {
			s.t.Errorf("segment %d still reachable when its deletion was broadcast", seg.ID())
		}
	}
	s.mu.Lock()
	s.events = append(s.events, event{"deleted", seg.ID()})
	s.mu.Unlock()
}

func (s *recordingSink) ids(kind string) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint64
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e.ID)
		}
	}
	return out
}

// memFileStore is an in-memory FileStore with failure injection.
type memFileStore struct {
	mu       sync.Mutex
	files    map[string][]byte
	writeErr error
	readErr  error
	deleted  []string
}

func newMemFileStore() *memFileStore {
	return &memFileStore{files: make(map[string][]byte)}
}

func (m *memFileStore) WriteFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.files[path] = append([]byte(nil), data...)
	return nil
}

func (m *memFileStore) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	b, ok := m.files[path]
	if !ok {
		return nil, errors.New("no such file")
	}
	return b, nil
}

func (m *memFileStore) DeleteFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	m.deleted = append(m.deleted, path)
	return nil
}

func (m *memFileStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

func testPacket(fill byte) Packet {
	p := make(Packet, PacketSize)
	p[0] = 0x47
	for i := 1; i < len(p); i++ {
		p[i] = fill
	}
	return p
}

func videoTrack() *Track {
	return &Track{ID: testVideoTrack, MediaType: MediaTypeVideo, Codec: "h264", Timescale: testTimescale}
}

func audioTrack() *Track {
	return &Track{ID: testAudioTrack, MediaType: MediaTypeAudio, Codec: "aac", Timescale: testTimescale}
}

// feeder pushes constant-rate frames into a packager.
type feeder struct {
	t   *testing.T
	p   *Packager
	pts map[uint32]int64
	n   int
}

func newFeeder(t *testing.T, p *Packager) *feeder {
	return &feeder{t: t, p: p, pts: make(map[uint32]int64)}
}

func (f *feeder) frame(trackID uint32) {
	f.t.Helper()
	pkt := &MediaPacket{
		TrackID:  trackID,
		PTS:      f.pts[trackID],
		Duration: testFrameDuration,
		Keyframe: true,
	}
	f.pts[trackID] += testFrameDuration
	f.n++
	if err := f.p.OnFrame(pkt, []Packet{testPacket(byte(f.n))}); err != nil {
		f.t.Fatalf("OnFrame: %v", err)
	}
}

// video pushes d milliseconds of video frames.
func (f *feeder) video(ms int) {
	f.t.Helper()
	for i := 0; i < ms/testFrameDuration; i++ {
		f.frame(testVideoTrack)
	}
}

func newTestPackager(t *testing.T, cfg Config, opts ...Option) *Packager {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	p, err := NewPackager("test", cfg, opts...)
	if err != nil {
		t.Fatalf("NewPackager: %v", err)
	}
	return p
}
