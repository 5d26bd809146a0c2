package mpegts

import (
	"sort"
	"sync"
)

// segmentIndex is one storage tier: segments ordered by id with a running
// total duration. The lock protects the index structure only, never the
// payloads the segments point to.
type segmentIndex struct {
	mu              sync.RWMutex
	segments        []*Segment // ascending id
	totalDurationUs uint64
}

func (x *segmentIndex) search(id uint64) int {
	return sort.Search(len(x.segments), func(i int) bool {
		return x.segments[i].id >= id
	})
}

func (x *segmentIndex) add(s *Segment) {
	x.mu.Lock()
	defer x.mu.Unlock()

	i := x.search(s.id)
	if i < len(x.segments) && x.segments[i].id == s.id {
		return
	}

	x.segments = append(x.segments, nil)
	copy(x.segments[i+1:], x.segments[i:])
	x.segments[i] = s
	x.totalDurationUs += s.durationUs
}

func (x *segmentIndex) get(id uint64) (*Segment, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	i := x.search(id)
	if i < len(x.segments) && x.segments[i].id == id {
		return x.segments[i], true
	}
	return nil, false
}

func (x *segmentIndex) remove(id uint64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	i := x.search(id)
	if i >= len(x.segments) || x.segments[i].id != id {
		return false
	}

	x.totalDurationUs -= x.segments[i].durationUs
	copy(x.segments[i:], x.segments[i+1:])
	x.segments[len(x.segments)-1] = nil
	x.segments = x.segments[:len(x.segments)-1]
	return true
}

func (x *segmentIndex) oldest() *Segment {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.segments) == 0 {
		return nil
	}
	return x.segments[0]
}

func (x *segmentIndex) count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.segments)
}

func (x *segmentIndex) durationUs() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.totalDurationUs
}

// drain empties the index and returns what it held.
func (x *segmentIndex) drain() []*Segment {
	x.mu.Lock()
	defer x.mu.Unlock()

	out := x.segments
	x.segments = nil
	x.totalDurationUs = 0
	return out
}
