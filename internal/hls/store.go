package hls

// Store is the persistence abstraction for live streams.
// The Manager uses Store for all reads and writes and guards it with its own
// lock; implementations need not be safe for concurrent use.
type Store interface {
	GetStream(id StreamID) (*Stream, bool)
	SetStream(s *Stream)
	DeleteStream(id StreamID)
	ListStreamIDs() []StreamID
}

// InMemoryStore is an in-memory implementation of Store.
type InMemoryStore struct {
	streams map[StreamID]*Stream
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		streams: make(map[StreamID]*Stream),
	}
}

// GetStream implements Store.GetStream.
func (s *InMemoryStore) GetStream(id StreamID) (*Stream, bool) {
	st, ok := s.streams[id]
	return st, ok
}

// SetStream implements Store.SetStream.
func (s *InMemoryStore) SetStream(st *Stream) {
	s.streams[st.ID()] = st
}

// DeleteStream implements Store.DeleteStream.
func (s *InMemoryStore) DeleteStream(id StreamID) {
	delete(s.streams, id)
}

// ListStreamIDs implements Store.ListStreamIDs.
func (s *InMemoryStore) ListStreamIDs() []StreamID {
	ids := make([]StreamID, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	return ids
}
