package hls

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"

	"hls-packager/internal/mpegts"

	"github.com/google/uuid"
)

const (
	segmentPrefix = "seg_"
	segmentSuffix = "_hls.ts"

	mediaPlaylistPrefix = "medialist_"
	mediaPlaylistSuffix = "_hls.m3u8"
)

// SegmentName returns the file name a segment is published under.
func SegmentName(variant string, number uint64) string {
	return fmt.Sprintf("%s%s_%d%s", segmentPrefix, variant, number, segmentSuffix)
}

// parseSegmentName is the inverse of SegmentName. The variant may itself
// contain underscores.
func parseSegmentName(name string) (variant string, number uint64, ok bool) {
	if !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
		return "", 0, false
	}
	rest := strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix)
	i := strings.LastIndex(rest, "_")
	if i <= 0 {
		return "", 0, false
	}
	n, err := strconv.ParseUint(rest[i+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return rest[:i], n, true
}

// MediaPlaylistName returns the file name of a variant's media playlist.
func MediaPlaylistName(variant string) string {
	return mediaPlaylistPrefix + variant + mediaPlaylistSuffix
}

func parseMediaPlaylistName(name string) (variant string, ok bool) {
	if !strings.HasPrefix(name, mediaPlaylistPrefix) || !strings.HasSuffix(name, mediaPlaylistSuffix) {
		return "", false
	}
	variant = strings.TrimSuffix(strings.TrimPrefix(name, mediaPlaylistPrefix), mediaPlaylistSuffix)
	return variant, variant != ""
}

// Stream is one live stream: a packager and a media playlist per variant,
// and the master playlist listing them. The ingest methods are serialized so
// every packager sees a single producer no matter how many requests arrive
// concurrently.
type Stream struct {
	id        StreamID
	sessionID uuid.UUID
	log       *slog.Logger
	cfg       mpegts.Config
	opts      []mpegts.Option

	mu     sync.Mutex // serializes producer calls
	ended  bool
	closed bool
	tracks map[uint32]*mpegts.Track
	routes map[uint32][]*rendition // track id to the renditions it feeds

	rmu        sync.RWMutex // guards renditions, order and sinks
	renditions map[string]*rendition
	order      []string
	sinks      []mpegts.Sink
}

// NewStream validates cfg and returns a stream without variants. Packagers
// are created as SetTracks announces variants.
func NewStream(id StreamID, sessionID uuid.UUID, cfg mpegts.Config, log *slog.Logger, opts ...mpegts.Option) (*Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("stream %s: %w", id, err)
	}
	if log == nil {
		log = slog.Default()
	}

	return &Stream{
		id:         id,
		sessionID:  sessionID,
		log:        log.With("stream_id", string(id), "session_id", sessionID.String()),
		cfg:        cfg,
		opts:       opts,
		tracks:     make(map[uint32]*mpegts.Track),
		routes:     make(map[uint32][]*rendition),
		renditions: make(map[string]*rendition),
	}, nil
}

// ID returns the stream id.
func (s *Stream) ID() StreamID {
	return s.id
}

// SessionID identifies this incarnation of the stream. It namespaces the
// stream's DVR directory.
func (s *Stream) SessionID() uuid.UUID {
	return s.sessionID
}

// AddSink registers an additional segment observer on every current and
// future packager. It is notified after the playlist has been updated.
func (s *Stream) AddSink(sink mpegts.Sink) {
	s.rmu.Lock()
	defer s.rmu.Unlock()

	s.sinks = append(s.sinks, sink)
	for _, r := range s.renditions {
		r.packager.AddSink(sink)
	}
}

// SetTracks announces (or changes) the stream's tracks. psi is the program
// description prepended to every segment; variantPSI overrides it per
// variant. Variants dropped by a change keep their playlists but receive no
// more frames.
func (s *Stream) SetTracks(tracks []*mpegts.Track, psi []mpegts.Packet, variantPSI map[string][]mpegts.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return ErrStreamEnded
	}
	plans, err := planRenditions(tracks)
	if err != nil {
		return err
	}

	routes := make(map[uint32][]*rendition)
	for _, plan := range plans {
		r, err := s.rendition(plan.name)
		if err != nil {
			return err
		}
		vpsi, ok := variantPSI[plan.name]
		if !ok {
			vpsi = psi
		}
		if err := r.setTracks(plan.tracks, vpsi); err != nil {
			return err
		}
		for _, t := range plan.tracks {
			routes[t.ID] = append(routes[t.ID], r)
		}
	}

	s.tracks = make(map[uint32]*mpegts.Track, len(tracks))
	for _, t := range tracks {
		s.tracks[t.ID] = t
	}
	s.routes = routes

	s.log.Info("stream tracks updated", "tracks", len(tracks), "variants", len(plans))
	return nil
}

// rendition returns the rendition named variant, creating its packager on
// first use. Caller must hold s.mu.
func (s *Stream) rendition(variant string) (*rendition, error) {
	s.rmu.RLock()
	r, ok := s.renditions[variant]
	s.rmu.RUnlock()
	if ok {
		return r, nil
	}

	log := s.log.With("variant", variant)
	opts := append([]mpegts.Option{mpegts.WithLogger(log)}, s.opts...)
	p, err := mpegts.NewPackager(variant, s.cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("stream %s variant %s: %w", s.id, variant, err)
	}

	minTarget := int(math.Ceil(float64(s.cfg.TargetDurationMs) / 1000))
	r = &rendition{
		name:     variant,
		log:      log,
		packager: p,
		playlist: NewMediaPlaylist(int(s.cfg.MaxSegmentCount), minTarget),
	}
	p.AddSink(r)

	s.rmu.Lock()
	for _, sink := range s.sinks {
		p.AddSink(sink)
	}
	s.renditions[variant] = r
	s.order = append(s.order, variant)
	s.rmu.Unlock()
	return r, nil
}

// WriteFrame hands one access unit to every rendition carrying its track.
// Frames of announced tracks that no rendition carries are ignored.
func (s *Stream) WriteFrame(pkt *mpegts.MediaPacket, packets []mpegts.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return ErrStreamEnded
	}
	if pkt == nil {
		return fmt.Errorf("%w: nil packet", mpegts.ErrInvalidFrame)
	}

	rs, ok := s.routes[pkt.TrackID]
	if !ok {
		if _, known := s.tracks[pkt.TrackID]; known {
			return nil
		}
		return fmt.Errorf("%w: %d", mpegts.ErrUnknownTrack, pkt.TrackID)
	}
	for _, r := range rs {
		if err := r.write(pkt, packets); err != nil {
			return err
		}
	}
	return nil
}

// End flushes the pending samples of every variant into a final segment and
// completes the playlists. It reports whether this call ended the stream.
func (s *Stream) End() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return false
	}
	s.ended = true
	segments := 0
	for _, r := range s.snapshot() {
		if !s.closed {
			r.packager.Flush()
		}
		r.playlist.SetEnded()
		segments += r.playlist.Len()
	}
	s.log.Info("stream ended", "segments", segments)
	return true
}

// Ended reports whether End or Close was called.
func (s *Stream) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// snapshot returns the renditions in creation order.
func (s *Stream) snapshot() []*rendition {
	s.rmu.RLock()
	defer s.rmu.RUnlock()

	out := make([]*rendition, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.renditions[name])
	}
	return out
}

// Variants returns the variant names in creation order.
func (s *Stream) Variants() []string {
	s.rmu.RLock()
	defer s.rmu.RUnlock()
	return append([]string(nil), s.order...)
}

// MasterPlaylist lists the media playlist of every variant that has
// published a segment. The first variant announced comes first.
func (s *Stream) MasterPlaylist(rewind bool) string {
	var variants []Variant
	for _, r := range s.snapshot() {
		bw := r.playlist.PeakBandwidth()
		if bw == 0 {
			continue
		}
		variants = append(variants, Variant{URI: MediaPlaylistName(r.name), Bandwidth: bw})
	}
	return BuildMasterPlaylist(variants, rewind)
}

// MediaPlaylist renders the media playlist of variant; rewind lists the
// whole DVR window.
func (s *Stream) MediaPlaylist(variant string, rewind bool) (string, error) {
	s.rmu.RLock()
	r, ok := s.renditions[variant]
	s.rmu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrVariantNotFound, variant)
	}
	return r.playlist.String(rewind), nil
}

// SegmentData returns the payload published under name.
func (s *Stream) SegmentData(name string) ([]byte, error) {
	variant, n, ok := parseSegmentName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", mpegts.ErrSegmentNotFound, name)
	}
	s.rmu.RLock()
	r, ok := s.renditions[variant]
	s.rmu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", mpegts.ErrSegmentNotFound, name)
	}
	return r.packager.GetSegmentData(n)
}

// Stats sums the tier sizes of every variant. LastSegmentID is the highest
// id of any variant.
func (s *Stream) Stats() mpegts.Stats {
	var total mpegts.Stats
	for _, r := range s.snapshot() {
		st := r.packager.Stats()
		total.BufferCount += st.BufferCount
		total.BufferDurationUs += st.BufferDurationUs
		total.ArchiveCount += st.ArchiveCount
		total.ArchiveDurationUs += st.ArchiveDurationUs
		total.RetentionCount += st.RetentionCount
		total.LastSegmentID = max(total.LastSegmentID, st.LastSegmentID)
	}
	return total
}

// Close ends the stream without flushing and releases every segment,
// including archived files.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.ended = true
	for _, r := range s.snapshot() {
		r.packager.Close()
		r.playlist.SetEnded()
	}
}
