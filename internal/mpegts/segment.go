package mpegts

import (
	"fmt"
	"sync"
)

// StorageState tells where a segment's payload currently lives.
type StorageState int

const (
	StorageMemory StorageState = iota
	StorageFile
	StorageNone
)

func (s StorageState) String() string {
	switch s {
	case StorageMemory:
		return "memory"
	case StorageFile:
		return "file"
	case StorageNone:
		return "none"
	default:
		return "unknown"
	}
}

// Segment is one packaged, independently decodable unit of the stream.
//
// The payload lives either in memory or in a file, never both: moving a
// segment to a file releases the in-memory copy. Payload bytes are shared
// with readers and must not be modified.
type Segment struct {
	id             uint64
	firstTimestamp int64
	durationUs     uint64

	mu       sync.RWMutex
	state    StorageState
	data     []byte
	filePath string
	url      string
}

func newSegment(id uint64, firstTimestamp int64, durationUs uint64, data []byte) *Segment {
	return &Segment{
		id:             id,
		firstTimestamp: firstTimestamp,
		durationUs:     durationUs,
		state:          StorageMemory,
		data:           data,
	}
}

// ID returns the segment sequence id. Ids start at 1.
func (s *Segment) ID() uint64 {
	return s.id
}

// Number is an alias of ID used for playlist media sequence numbers.
func (s *Segment) Number() uint64 {
	return s.id
}

// FirstTimestamp returns the PTS of the main track's first sample, in the
// main track's timescale.
func (s *Segment) FirstTimestamp() int64 {
	return s.firstTimestamp
}

// DurationUs returns the duration of the main track's samples in the segment.
func (s *Segment) DurationUs() uint64 {
	return s.durationUs
}

// URL returns the locator assigned by SetURL.
func (s *Segment) URL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.url
}

// SetURL assigns the locator clients use to fetch the segment. The packager
// never interprets it.
func (s *Segment) SetURL(url string) {
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
}

// State returns the current storage state.
func (s *Segment) State() StorageState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// FilePath returns the backing file path, or "" if the segment was never
// written to a file.
func (s *Segment) FilePath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filePath
}

// Size returns the payload size if it is held in memory, otherwise 0.
func (s *Segment) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Data returns the payload, reading it through files when it lives on disk.
// A deleted segment yields ErrSegmentNotFound.
func (s *Segment) Data(files FileStore) ([]byte, error) {
	s.mu.RLock()
	state, data, path := s.state, s.data, s.filePath
	s.mu.RUnlock()

	switch state {
	case StorageMemory:
		return data, nil
	case StorageFile:
		b, err := files.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %d from %s: %w", ErrSegmentRead, s.id, path, err)
		}
		return b, nil
	default:
		return nil, ErrSegmentNotFound
	}
}

// memoryData returns the in-memory payload, or nil when it is not resident.
func (s *Segment) memoryData() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StorageMemory {
		return nil
	}
	return s.data
}

func (s *Segment) moveToFile(path string) {
	s.mu.Lock()
	s.filePath = path
	s.data = nil
	s.state = StorageFile
	s.mu.Unlock()
}

// release drops the payload and returns the file path that backed it, if any.
func (s *Segment) release() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := ""
	if s.state == StorageFile {
		path = s.filePath
	}
	s.data = nil
	s.state = StorageNone
	return path
}
