package hls

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"hls-packager/internal/mpegts"
)

// DefaultVariant names tracks announced without a variant.
const DefaultVariant = "default"

// rendition is one variant of a stream: a packager fed with at most one
// video, one audio and one data track, and the media playlist built from its
// segment events.
type rendition struct {
	name     string
	log      *slog.Logger
	packager *mpegts.Packager
	playlist *MediaPlaylist

	// Owned by the stream's producer.
	mainTrackID uint32
	ready       bool // a keyframe opened the first segment
	dropped     int
}

var _ mpegts.Sink = (*rendition)(nil)

// OnSegmentCreated implements mpegts.Sink.
func (r *rendition) OnSegmentCreated(packagerID string, seg *mpegts.Segment) {
	name := SegmentName(packagerID, seg.Number())
	seg.SetURL(name)
	r.playlist.Add(Entry{
		Sequence:  seg.Number(),
		Duration:  float64(seg.DurationUs()) / 1e6,
		Path:      name,
		Size:      seg.Size(),
		CreatedAt: time.Now().UTC(),
	})
}

// OnSegmentDeleted implements mpegts.Sink.
func (r *rendition) OnSegmentDeleted(_ string, seg *mpegts.Segment) {
	r.playlist.Remove(seg.Number())
}

// setTracks hands the rendition its track subset. A rendition carrying video
// drops frames until the first video keyframe so every segment starts on one.
func (r *rendition) setTracks(tracks []*mpegts.Track, psi []mpegts.Packet) error {
	if err := r.packager.OnPsi(tracks, psi); err != nil {
		return err
	}
	r.mainTrackID, _ = r.packager.MainTrackID()

	hasVideo := slices.ContainsFunc(tracks, func(t *mpegts.Track) bool {
		return t.MediaType == mpegts.MediaTypeVideo
	})
	if !hasVideo {
		r.ready = true
	}
	return nil
}

func (r *rendition) write(pkt *mpegts.MediaPacket, packets []mpegts.Packet) error {
	if !r.ready {
		if pkt.TrackID != r.mainTrackID || !pkt.Keyframe {
			r.dropped++
			return nil
		}
		r.ready = true
		r.log.Info("first keyframe received, packaging started",
			"variant", r.name,
			"dropped_frames", r.dropped)
	}
	return r.packager.OnFrame(pkt, packets)
}

// renditionPlan is the track subset of one rendition.
type renditionPlan struct {
	name   string
	tracks []*mpegts.Track
}

func variantOf(t *mpegts.Track) string {
	if t.VariantName == "" {
		return DefaultVariant
	}
	return t.VariantName
}

// validVariantName accepts names that are safe in URLs and file paths.
func validVariantName(name string) bool {
	if name == "" {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// planRenditions groups tracks into renditions. Every video variant becomes a
// rendition with its first video track, the audio track of the same variant
// (or else the stream's first audio track) and the stream's first data
// track. A stream without video gets one rendition per audio variant.
func planRenditions(tracks []*mpegts.Track) ([]renditionPlan, error) {
	if len(tracks) == 0 {
		return nil, mpegts.ErrNoTracks
	}
	sorted := make([]*mpegts.Track, 0, len(tracks))
	for _, t := range tracks {
		if t == nil {
			return nil, fmt.Errorf("%w: nil track", mpegts.ErrInvalidTrack)
		}
		if t.Timescale == 0 {
			return nil, fmt.Errorf("%w: track %d has no timescale", mpegts.ErrInvalidTrack, t.ID)
		}
		if !validVariantName(variantOf(t)) {
			return nil, fmt.Errorf("%w: track %d has variant name %q", mpegts.ErrInvalidTrack, t.ID, t.VariantName)
		}
		sorted = append(sorted, t)
	}
	slices.SortFunc(sorted, func(a, b *mpegts.Track) int { return cmp.Compare(a.ID, b.ID) })

	var (
		videoOrder, audioOrder []string
		firstVideo             = make(map[string]*mpegts.Track)
		firstAudio             = make(map[string]*mpegts.Track)
		anyAudio, anyData      *mpegts.Track
	)
	for _, t := range sorted {
		v := variantOf(t)
		switch t.MediaType {
		case mpegts.MediaTypeVideo:
			if _, ok := firstVideo[v]; !ok {
				firstVideo[v] = t
				videoOrder = append(videoOrder, v)
			}
		case mpegts.MediaTypeAudio:
			if _, ok := firstAudio[v]; !ok {
				firstAudio[v] = t
				audioOrder = append(audioOrder, v)
			}
			if anyAudio == nil {
				anyAudio = t
			}
		case mpegts.MediaTypeData:
			if anyData == nil {
				anyData = t
			}
		}
	}

	var plans []renditionPlan
	switch {
	case len(videoOrder) > 0:
		for _, v := range videoOrder {
			ts := []*mpegts.Track{firstVideo[v]}
			if a, ok := firstAudio[v]; ok {
				ts = append(ts, a)
			} else if anyAudio != nil {
				ts = append(ts, anyAudio)
			}
			if anyData != nil {
				ts = append(ts, anyData)
			}
			plans = append(plans, renditionPlan{name: v, tracks: ts})
		}
	case len(audioOrder) > 0:
		for _, v := range audioOrder {
			ts := []*mpegts.Track{firstAudio[v]}
			if anyData != nil {
				ts = append(ts, anyData)
			}
			plans = append(plans, renditionPlan{name: v, tracks: ts})
		}
	default:
		return nil, fmt.Errorf("%w: no audio or video track", mpegts.ErrInvalidTrack)
	}
	return plans, nil
}
