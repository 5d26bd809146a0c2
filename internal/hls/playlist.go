package hls

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// BuildLivePlaylist converts entries (ordered by sequence ascending) into an
// HLS media playlist. If ended is true, #EXT-X-ENDLIST is appended.
// minTargetDuration is the configured segment duration in seconds; the
// advertised target duration never drops below it.
func BuildLivePlaylist(entries []Entry, minTargetDuration int, ended bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	targetDuration := max(targetDurationFromEntries(entries), minTargetDuration, 1)

	var mediaSequence uint64
	if len(entries) > 0 {
		mediaSequence = entries[0].Sequence
	}

	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", targetDuration))
	b.WriteString(fmt.Sprintf("#EXT-X-MEDIA-SEQUENCE:%d\n", mediaSequence))

	for _, e := range entries {
		b.WriteString(fmt.Sprintf("\n#EXTINF:%.3f,\n", e.Duration))
		b.WriteString(e.Path)
		b.WriteString("\n")
	}

	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}

	return b.String()
}

// Variant is one media playlist as listed in a master playlist.
type Variant struct {
	URI       string
	Bandwidth int // peak bits per second
}

// BuildMasterPlaylist lists the media playlists of a stream. The first
// variant is the one players start with. With rewind, the media playlist
// URIs ask for the whole DVR window.
func BuildMasterPlaylist(variants []Variant, rewind bool) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	for _, v := range variants {
		b.WriteString(fmt.Sprintf("\n#EXT-X-STREAM-INF:BANDWIDTH=%d\n", v.Bandwidth))
		b.WriteString(v.URI)
		if rewind {
			b.WriteString("?_HLS_rewind=YES")
		}
		b.WriteString("\n")
	}

	return b.String()
}

// targetDurationFromEntries returns the ceiling of the longest entry
// duration in seconds, or 0 for no entries.
func targetDurationFromEntries(entries []Entry) int {
	longest := 0.0
	for _, e := range entries {
		if e.Duration > longest {
			longest = e.Duration
		}
	}
	return int(math.Ceil(longest))
}

// visibleEntries keeps at most windowSize of the newest entries (all of them
// if windowSize <= 0) and then drops everything after the first sequence gap,
// so players never see e.g. 42 followed by 44. entries must be sorted.
func visibleEntries(entries []Entry, windowSize int) []Entry {
	if len(entries) == 0 {
		return nil
	}

	start := 0
	if windowSize > 0 && len(entries) > windowSize {
		start = len(entries) - windowSize
	}
	windowed := entries[start:]

	visible := make([]Entry, 0, len(windowed))
	for i := range windowed {
		if i > 0 && windowed[i].Sequence != windowed[i-1].Sequence+1 {
			break
		}
		visible = append(visible, windowed[i])
	}
	return visible
}

// MediaPlaylist tracks the segments of one packager as they are created and
// deleted, and renders them as a live or DVR playlist.
type MediaPlaylist struct {
	windowSize        int
	minTargetDuration int

	mu      sync.RWMutex
	entries map[uint64]Entry
	ended   bool
}

// NewMediaPlaylist returns a playlist whose live view lists at most
// windowSize segments.
func NewMediaPlaylist(windowSize, minTargetDuration int) *MediaPlaylist {
	return &MediaPlaylist{
		windowSize:        windowSize,
		minTargetDuration: minTargetDuration,
		entries:           make(map[uint64]Entry),
	}
}

// Add lists e. Re-adding a sequence replaces the previous entry.
func (p *MediaPlaylist) Add(e Entry) {
	p.mu.Lock()
	p.entries[e.Sequence] = e
	p.mu.Unlock()
}

// Remove unlists sequence.
func (p *MediaPlaylist) Remove(sequence uint64) {
	p.mu.Lock()
	delete(p.entries, sequence)
	p.mu.Unlock()
}

// SetEnded marks the playlist complete.
func (p *MediaPlaylist) SetEnded() {
	p.mu.Lock()
	p.ended = true
	p.mu.Unlock()
}

// Ended reports whether SetEnded was called.
func (p *MediaPlaylist) Ended() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ended
}

// Len returns the number of listed segments.
func (p *MediaPlaylist) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// PeakBandwidth returns the highest bitrate of the listed segments in bits
// per second, or 0 before the first segment.
func (p *MediaPlaylist) PeakBandwidth() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	peak := 0.0
	for _, e := range p.entries {
		if e.Duration <= 0 {
			continue
		}
		peak = max(peak, float64(e.Size)*8/e.Duration)
	}
	return int(math.Ceil(peak))
}

// String renders the playlist. The live view holds the newest windowSize
// segments; with rewind every segment still available is listed.
func (p *MediaPlaylist) String(rewind bool) string {
	p.mu.RLock()
	entries := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	ended := p.ended
	p.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Sequence < entries[j].Sequence
	})

	window := p.windowSize
	if rewind {
		window = 0
	}
	return BuildLivePlaylist(visibleEntries(entries, window), p.minTargetDuration, ended)
}
