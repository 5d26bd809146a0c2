package hls

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"hls-packager/internal/mpegts"
	"hls-packager/internal/platform/metrics"

	"github.com/google/uuid"
)

// TierCounts is the number of segments held per tier across all streams.
type TierCounts struct {
	Buffer    int
	Archive   int
	Retention int
}

// Manager creates, looks up and removes live streams. Every stream gets its
// own packager built from the manager's configuration.
type Manager struct {
	cfg     mpegts.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	opts    []mpegts.Option

	mu    sync.RWMutex
	store Store
}

// NewManager returns a manager backed by an InMemoryStore. m may be nil to
// disable segment metrics. opts are passed to every packager.
func NewManager(cfg mpegts.Config, log *slog.Logger, m *metrics.Metrics, opts ...mpegts.Option) *Manager {
	return NewManagerWithStore(NewInMemoryStore(), cfg, log, m, opts...)
}

// NewManagerWithStore is NewManager with a caller supplied Store.
func NewManagerWithStore(store Store, cfg mpegts.Config, log *slog.Logger, m *metrics.Metrics, opts ...mpegts.Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		log:     log.With("component", "stream-manager"),
		metrics: m,
		opts:    opts,
		store:   store,
	}
}

// Create starts a new stream. It returns ErrStreamExists if id is taken.
func (m *Manager) Create(id StreamID) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.store.GetStream(id); ok {
		m.log.Warn("stream already exists, rejecting duplicate", "stream_id", string(id))
		return nil, fmt.Errorf("%w: %s", ErrStreamExists, id)
	}
	return m.createLocked(id)
}

// GetOrCreate returns the stream registered under id, starting it if needed.
func (m *Manager) GetOrCreate(id StreamID) (*Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.store.GetStream(id); ok {
		return s, nil
	}
	return m.createLocked(id)
}

// createLocked builds and stores a stream. Caller must hold m.mu in write mode.
func (m *Manager) createLocked(id StreamID) (*Stream, error) {
	session := uuid.New()

	cfg := m.cfg
	if cfg.StreamIDMeta == "" {
		cfg.StreamIDMeta = string(id) + "_" + session.String()
	}

	s, err := NewStream(id, session, cfg, m.log, m.opts...)
	if err != nil {
		return nil, err
	}
	if m.metrics != nil {
		s.AddSink(metricsSink{m: m.metrics})
	}

	m.store.SetStream(s)
	m.log.Info("stream created", "stream_id", string(id), "session_id", session.String())
	return s, nil
}

// Get returns the stream registered under id.
func (m *Manager) Get(id StreamID) (*Stream, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.store.GetStream(id)
}

// End flushes and completes the stream's playlist. Ending an ended stream is
// a no-op.
func (m *Manager) End(id StreamID) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrStreamNotFound
	}
	if s.End() && m.metrics != nil {
		m.metrics.IncStreamsEnded()
	}
	return nil
}

// Remove unregisters the stream and releases its segments and files.
func (m *Manager) Remove(id StreamID) error {
	m.mu.Lock()
	s, ok := m.store.GetStream(id)
	if ok {
		m.store.DeleteStream(id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrStreamNotFound
	}
	s.Close()
	m.log.Info("stream removed", "stream_id", string(id))
	return nil
}

// List returns the registered streams ordered by id.
func (m *Manager) List() []*Stream {
	m.mu.RLock()
	ids := m.store.ListStreamIDs()
	streams := make([]*Stream, 0, len(ids))
	for _, id := range ids {
		if s, ok := m.store.GetStream(id); ok {
			streams = append(streams, s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(streams, func(i, j int) bool { return streams[i].ID() < streams[j].ID() })
	return streams
}

// ActiveStreamCount returns the number of streams that are not ended.
func (m *Manager) ActiveStreamCount() int {
	n := 0
	for _, s := range m.List() {
		if !s.Ended() {
			n++
		}
	}
	return n
}

// TierCounts sums the tier sizes of every stream.
func (m *Manager) TierCounts() TierCounts {
	var c TierCounts
	for _, s := range m.List() {
		st := s.Stats()
		c.Buffer += st.BufferCount
		c.Archive += st.ArchiveCount
		c.Retention += st.RetentionCount
	}
	return c
}

// Close removes every stream. Used on shutdown.
func (m *Manager) Close() {
	for _, s := range m.List() {
		_ = m.Remove(s.ID())
	}
}
