// Package hls publishes packaged MPEG-TS segments as HLS (version 3) media
// playlists and serves the segments from the packager's storage tiers.
package hls

import (
	"errors"
	"time"
)

// StreamID uniquely identifies a live stream.
type StreamID string

// Entry is one segment as listed in a media playlist.
type Entry struct {
	Sequence uint64
	Duration float64 // seconds
	Path     string
	Size     int // bytes

	CreatedAt time.Time
}

var (
	// ErrStreamNotFound is returned for operations on an unknown stream.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrStreamExists is returned when creating a stream whose id is taken.
	ErrStreamExists = errors.New("stream already exists")

	// ErrStreamEnded is returned when ingesting into a stream that has ended.
	ErrStreamEnded = errors.New("stream has ended")

	// ErrVariantNotFound is returned for a media playlist of an unknown variant.
	ErrVariantNotFound = errors.New("variant not found")
)
