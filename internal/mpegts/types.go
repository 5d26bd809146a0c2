// Package mpegts packages MPEG-2 TS packets produced by an upstream packetizer
// into independently playable segments, and manages each segment's lifetime
// across an in-memory buffer, an on-disk DVR archive and a retention tier.
package mpegts

import "errors"

var (
	// ErrNoTracks is returned by OnPsi when the track list is empty.
	ErrNoTracks = errors.New("no tracks")

	// ErrInvalidTrack is returned by OnPsi for a track that cannot be timed
	// (for example a zero timescale).
	ErrInvalidTrack = errors.New("invalid track")

	// ErrInvalidFrame is returned by OnFrame for a missing media packet.
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrUnknownTrack is returned by OnFrame for a frame whose track was never
	// announced through OnPsi.
	ErrUnknownTrack = errors.New("unknown track")

	// ErrSegmentNotFound is returned when a segment id is unknown to every tier.
	ErrSegmentNotFound = errors.New("segment not found")

	// ErrSegmentRead is returned when a segment is indexed but its backing
	// file could not be read.
	ErrSegmentRead = errors.New("segment read failed")

	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid packager config")
)

// MediaType is the kind of elementary stream a track carries.
type MediaType int

const (
	MediaTypeVideo MediaType = iota
	MediaTypeAudio
	MediaTypeData
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeVideo:
		return "video"
	case MediaTypeAudio:
		return "audio"
	case MediaTypeData:
		return "data"
	default:
		return "unknown"
	}
}

// ParseMediaType maps "video", "audio" or "data" to a MediaType.
func ParseMediaType(s string) (MediaType, bool) {
	switch s {
	case "video":
		return MediaTypeVideo, true
	case "audio":
		return MediaTypeAudio, true
	case "data":
		return MediaTypeData, true
	default:
		return 0, false
	}
}

// Track describes one elementary stream of the program.
type Track struct {
	ID          uint32
	MediaType   MediaType
	Codec       string
	Timescale   uint32 // ticks per second of PTS and Duration
	VariantName string
}

// MediaPacket is the encoded frame a set of transport packets was built from.
// Timestamps and duration are expressed in the track's timescale.
type MediaPacket struct {
	TrackID  uint32
	PTS      int64
	Duration int64
	Keyframe bool
}

// Packet is a single 188-byte transport stream packet as produced by the
// packetizer. It is never modified after it is handed to the packager.
type Packet []byte

// PacketSize is the size of one transport stream packet.
const PacketSize = 188

// MergePackets concatenates packets in arrival order into one contiguous blob.
func MergePackets(packets []Packet) []byte {
	n := 0
	for _, p := range packets {
		n += len(p)
	}

	data := make([]byte, 0, n)
	for _, p := range packets {
		data = append(data, p...)
	}
	return data
}
