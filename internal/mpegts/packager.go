package mpegts

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Sink is notified when a packager creates or finally deletes a segment.
// Every created segment is reported deleted exactly once, including the
// segments still indexed when the packager is closed. Sinks are invoked
// synchronously on the producer's goroutine, in the order they were added,
// and must return quickly.
type Sink interface {
	OnSegmentCreated(packagerID string, segment *Segment)
	OnSegmentDeleted(packagerID string, segment *Segment)
}

// PacketizerSink is the contract the upstream packetizer drives.
type PacketizerSink interface {
	OnPsi(tracks []*Track, psiPackets []Packet) error
	OnFrame(packet *MediaPacket, tsPackets []Packet) error
}

// Option configures a Packager.
type Option func(*Packager)

// WithLogger sets the packager's logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Packager) {
		if log != nil {
			p.log = log
		}
	}
}

// WithFileStore replaces the local file system used for archived segments.
func WithFileStore(files FileStore) Option {
	return func(p *Packager) {
		if files != nil {
			p.files = files
		}
	}
}

// Stats is a point-in-time view of the three tiers.
type Stats struct {
	BufferCount       int
	BufferDurationUs  uint64
	ArchiveCount      int
	ArchiveDurationUs uint64
	RetentionCount    int
	LastSegmentID     uint64
}

// Packager assembles transport packets into segments and moves segments
// through the buffer, archive and retention tiers.
//
// OnPsi, OnFrame, Flush and Close belong to a single producer and must not be
// called concurrently with each other. GetSegment, GetSegmentData and Stats
// may be called from any goroutine.
type Packager struct {
	id     string
	config Config
	log    *slog.Logger
	files  FileStore

	tracks       map[uint32]*Track
	queues       map[uint32]*SampleQueue
	trackOrder   []uint32 // ascending track id
	mainTrackID  uint32
	hasMainTrack bool
	psiData      []byte

	mu            sync.RWMutex // guards lastSegmentID for Stats
	lastSegmentID uint64

	// tierMu makes a move between two tiers atomic for lookups: a reader
	// holding it never sees a moving segment in both tiers or in neither.
	tierMu    sync.RWMutex
	buffer    segmentIndex
	archive   segmentIndex
	retention segmentIndex

	sinksMu sync.RWMutex
	sinks   []Sink
}

var _ PacketizerSink = (*Packager)(nil)

// NewPackager validates config and returns a packager identified by id.
func NewPackager(id string, config Config, opts ...Option) (*Packager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Packager{
		id:     id,
		config: config,
		log:    slog.Default(),
		files:  OSFileStore{},
		tracks: make(map[uint32]*Track),
		queues: make(map[uint32]*SampleQueue),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "packager", "packager_id", id)

	return p, nil
}

// ID returns the packager id.
func (p *Packager) ID() string {
	return p.id
}

// Config returns the configuration the packager was created with.
func (p *Packager) Config() Config {
	return p.config
}

// AddSink registers s. Sinks are notified in registration order.
func (p *Packager) AddSink(s Sink) {
	p.sinksMu.Lock()
	p.sinks = append(p.sinks, s)
	p.sinksMu.Unlock()
}

// MainTrackID returns the track whose duration drives segment boundaries.
func (p *Packager) MainTrackID() (uint32, bool) {
	return p.mainTrackID, p.hasMainTrack
}

// OnPsi replaces the track set and caches the program description packets
// that are prepended to every segment. Queues of tracks that survive the
// change keep their pending samples.
func (p *Packager) OnPsi(tracks []*Track, psiPackets []Packet) error {
	if len(tracks) == 0 {
		return ErrNoTracks
	}
	for _, t := range tracks {
		if t == nil {
			return fmt.Errorf("%w: nil track", ErrInvalidTrack)
		}
		if t.Timescale == 0 {
			return fmt.Errorf("%w: track %d has no timescale", ErrInvalidTrack, t.ID)
		}
	}

	newTracks := make(map[uint32]*Track, len(tracks))
	newQueues := make(map[uint32]*SampleQueue, len(tracks))
	for _, t := range tracks {
		track := *t
		newTracks[t.ID] = &track

		if q, ok := p.queues[t.ID]; ok {
			newQueues[t.ID] = q
		} else {
			newQueues[t.ID] = NewSampleQueue(t.ID, p.log)
		}
	}

	for id, q := range p.queues {
		if _, ok := newQueues[id]; !ok && !q.IsEmpty() {
			p.log.Warn("track removed with pending samples", "track_id", id)
		}
	}

	p.tracks = newTracks
	p.queues = newQueues
	p.trackOrder = p.trackOrder[:0]
	for id := range newTracks {
		p.trackOrder = append(p.trackOrder, id)
	}
	slices.Sort(p.trackOrder)

	p.mainTrackID = tracks[0].ID
	for _, t := range tracks {
		if t.MediaType == MediaTypeVideo {
			p.mainTrackID = t.ID
			break
		}
	}
	p.hasMainTrack = true

	p.psiData = MergePackets(psiPackets)

	p.log.Info("track set updated",
		"tracks", len(tracks),
		"main_track_id", p.mainTrackID,
		"psi_bytes", len(p.psiData))
	return nil
}

// OnFrame queues the transport packets of one frame. When the main track has
// accumulated the target duration, a boundary is marked on every track and a
// segment is created before OnFrame returns.
func (p *Packager) OnFrame(packet *MediaPacket, tsPackets []Packet) error {
	if packet == nil {
		return fmt.Errorf("%w: nil packet", ErrInvalidFrame)
	}
	track, ok := p.tracks[packet.TrackID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownTrack, packet.TrackID)
	}
	q := p.queues[track.ID]

	q.AddSample(NewSample(packet, MergePackets(tsPackets), track.Timescale))

	if track.ID == p.mainTrackID && q.CurrentDurationUs() >= p.targetDurationUs() {
		p.markBoundaries()
		p.createSegmentIfReady(false)
	}
	return nil
}

// Flush closes the pending samples of every track into a final, possibly
// short, segment.
func (p *Packager) Flush() {
	if _, ok := p.queues[p.mainTrackID]; !ok {
		return
	}
	for _, q := range p.queues {
		if q.CurrentCount() > 0 {
			p.markBoundaries()
			break
		}
	}
	p.createSegmentIfReady(true)
}

func (p *Packager) targetDurationUs() uint64 {
	return uint64(p.config.TargetDurationMs) * 1000
}

func (p *Packager) markBoundaries() {
	for _, id := range p.trackOrder {
		p.queues[id].MarkBoundary()
	}
}

// segmentReady reports whether every track reached a boundary. With force,
// only the main track has to.
func (p *Packager) segmentReady(force bool) bool {
	main, ok := p.queues[p.mainTrackID]
	if !ok || !main.HasBoundary() {
		return false
	}
	if force {
		return true
	}
	for _, q := range p.queues {
		if !q.HasBoundary() {
			return false
		}
	}
	return true
}

func (p *Packager) createSegmentIfReady(force bool) {
	for p.segmentReady(force) {
		p.createSegment()
	}
}

func (p *Packager) createSegment() {
	main := p.queues[p.mainTrackID]
	durationUs := main.DurationUntilBoundaryUs()

	perTrack := make([][]Sample, 0, len(p.trackOrder))
	size := len(p.psiData)
	var first *Sample
	var longestUs uint64
	for _, id := range p.trackOrder {
		q := p.queues[id]
		if !q.HasBoundary() {
			continue
		}
		trackUs := q.DurationUntilBoundaryUs()
		samples := q.PopSamplesUntilBoundary()
		if len(samples) == 0 {
			continue
		}
		if id == p.mainTrackID || first == nil {
			first = &samples[0]
		}
		longestUs = max(longestUs, trackUs)
		for _, s := range samples {
			size += len(s.Data)
		}
		perTrack = append(perTrack, samples)
	}

	if first == nil {
		p.log.Error("segment boundary without samples, dropping it",
			"main_track_id", p.mainTrackID)
		return
	}
	// A flush can close a segment in which only the secondary tracks have
	// samples left.
	if durationUs == 0 {
		durationUs = longestUs
	}

	data := make([]byte, 0, size)
	data = append(data, p.psiData...)
	for _, samples := range perTrack {
		for _, s := range samples {
			data = append(data, s.Data...)
		}
	}

	seg := newSegment(p.nextSegmentID(), first.Packet.PTS, durationUs, data)
	p.addSegment(seg)
}

func (p *Packager) nextSegmentID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSegmentID++
	return p.lastSegmentID
}

func (p *Packager) addSegment(seg *Segment) {
	p.buffer.add(seg)

	p.log.Debug("segment created",
		"segment_id", seg.id,
		"duration_us", seg.durationUs,
		"bytes", len(seg.data))
	p.broadcastCreated(seg)

	for p.buffer.count() > int(p.config.MaxSegmentCount) {
		p.evictFromBuffer(p.buffer.oldest())
	}
}

// evictFromBuffer hands seg to the next tier. A segment is added to its next
// tier before it leaves the current one, so lookups never miss it in between.
func (p *Packager) evictFromBuffer(seg *Segment) {
	switch {
	case p.config.DvrEnabled():
		if err := p.archiveSegment(seg); err != nil {
			p.log.Error("failed to archive segment, deleting it",
				"segment_id", seg.id,
				"error", err)
			p.buffer.remove(seg.id)
			p.deleteSegment(seg)
			return
		}
		p.trimArchive()

	case p.config.SegmentRetentionCount > 0:
		p.move(seg, &p.buffer, &p.retention)
		p.trimRetention()

	default:
		p.buffer.remove(seg.id)
		p.deleteSegment(seg)
	}
}

func (p *Packager) archiveSegment(seg *Segment) error {
	path := p.config.SegmentFilePath(p.id, seg.id)
	if err := p.files.WriteFile(path, seg.memoryData()); err != nil {
		return err
	}

	seg.moveToFile(path)
	p.move(seg, &p.buffer, &p.archive)
	return nil
}

// move transfers seg from one tier index to another.
func (p *Packager) move(seg *Segment, from, to *segmentIndex) {
	p.tierMu.Lock()
	from.remove(seg.id)
	to.add(seg)
	p.tierMu.Unlock()
}

func (p *Packager) trimArchive() {
	window := uint64(p.config.DvrWindowMs) * 1000
	for p.archive.durationUs() > window {
		seg := p.archive.oldest()
		if p.config.SegmentRetentionCount > 0 {
			p.move(seg, &p.archive, &p.retention)
			p.trimRetention()
			continue
		}
		p.archive.remove(seg.id)
		p.deleteSegment(seg)
	}
}

func (p *Packager) trimRetention() {
	for p.retention.count() > int(p.config.SegmentRetentionCount) {
		seg := p.retention.oldest()
		p.retention.remove(seg.id)
		p.deleteSegment(seg)
	}
}

// deleteSegment releases a segment that is no longer indexed by any tier.
func (p *Packager) deleteSegment(seg *Segment) {
	if path := seg.release(); path != "" {
		if err := p.files.DeleteFile(path); err != nil {
			p.log.Warn("failed to delete segment file",
				"segment_id", seg.id,
				"path", path,
				"error", err)
		}
	}

	p.log.Debug("segment deleted", "segment_id", seg.id)
	p.broadcastDeleted(seg)
}

func (p *Packager) snapshotSinks() []Sink {
	p.sinksMu.RLock()
	defer p.sinksMu.RUnlock()
	return slices.Clone(p.sinks)
}

func (p *Packager) broadcastCreated(seg *Segment) {
	for _, s := range p.snapshotSinks() {
		s.OnSegmentCreated(p.id, seg)
	}
}

func (p *Packager) broadcastDeleted(seg *Segment) {
	for _, s := range p.snapshotSinks() {
		s.OnSegmentDeleted(p.id, seg)
	}
}

// GetSegment looks id up in the buffer, then the archive, then retention.
func (p *Packager) GetSegment(id uint64) (*Segment, bool) {
	p.tierMu.RLock()
	defer p.tierMu.RUnlock()

	if seg, ok := p.buffer.get(id); ok {
		return seg, true
	}
	if seg, ok := p.archive.get(id); ok {
		return seg, true
	}
	return p.retention.get(id)
}

// GetSegmentData returns the payload of segment id. It returns
// ErrSegmentNotFound for unknown or deleted ids, and ErrSegmentRead when the
// backing file could not be read. The file is read without holding any
// tier lock.
func (p *Packager) GetSegmentData(id uint64) ([]byte, error) {
	seg, ok := p.GetSegment(id)
	if !ok {
		return nil, ErrSegmentNotFound
	}
	return seg.Data(p.files)
}

// Stats returns the current tier sizes.
func (p *Packager) Stats() Stats {
	p.mu.RLock()
	last := p.lastSegmentID
	p.mu.RUnlock()

	p.tierMu.RLock()
	defer p.tierMu.RUnlock()
	return Stats{
		BufferCount:       p.buffer.count(),
		BufferDurationUs:  p.buffer.durationUs(),
		ArchiveCount:      p.archive.count(),
		ArchiveDurationUs: p.archive.durationUs(),
		RetentionCount:    p.retention.count(),
		LastSegmentID:     last,
	}
}

// Close drops every indexed segment, removes archived files and reports each
// dropped segment to the sinks as deleted.
func (p *Packager) Close() {
	var dropped []*Segment
	p.tierMu.Lock()
	for _, x := range []*segmentIndex{&p.buffer, &p.archive, &p.retention} {
		dropped = append(dropped, x.drain()...)
	}
	p.tierMu.Unlock()

	slices.SortFunc(dropped, func(a, b *Segment) int { return cmp.Compare(a.id, b.id) })
	for _, seg := range dropped {
		p.deleteSegment(seg)
	}
	p.log.Info("packager closed", "segments_dropped", len(dropped))
}
