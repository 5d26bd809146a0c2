package mpegts

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// Config controls segment cadence and where segments are kept as they age.
//
// Segments move through the tiers as follows:
//
//	DVR off, retention 0:  buffer
//	DVR off, retention >0: buffer -> retention
//	DVR on,  retention >0: buffer -> archive (file) -> retention (file)
//	DVR on,  retention 0:  buffer -> archive (file)
type Config struct {
	TargetDurationMs uint32 `yaml:"target_duration_ms"`
	MaxSegmentCount  uint32 `yaml:"max_segment_count"` // segments kept in memory

	DvrStoragePath string `yaml:"dvr_storage_path"`
	DvrWindowMs    uint32 `yaml:"dvr_window_ms"` // 0 disables the archive

	// SegmentRetentionCount segments stay fetchable after they leave the
	// buffer or archive, for clients still downloading them.
	SegmentRetentionCount uint32 `yaml:"segment_retention_count"`

	StreamIDMeta string `yaml:"stream_id_meta"`
}

// DefaultConfig returns 6 second segments, 10 in memory, DVR off and a
// retention of 2.
func DefaultConfig() Config {
	return Config{
		TargetDurationMs:      6000,
		MaxSegmentCount:       10,
		SegmentRetentionCount: 2,
	}
}

// DvrEnabled reports whether evicted buffer segments are archived to files.
func (c Config) DvrEnabled() bool {
	return c.DvrWindowMs > 0
}

// Validate checks the configuration for values the packager cannot run with.
func (c Config) Validate() error {
	if c.TargetDurationMs == 0 {
		return fmt.Errorf("%w: target duration must be positive", ErrInvalidConfig)
	}
	if c.MaxSegmentCount == 0 {
		return fmt.Errorf("%w: max segment count must be positive", ErrInvalidConfig)
	}
	if c.DvrEnabled() && c.DvrStoragePath == "" {
		return fmt.Errorf("%w: dvr window set without a storage path", ErrInvalidConfig)
	}
	return nil
}

// SegmentFilePath returns the archive file path of a segment. It depends
// only on the configured storage root, the stream namespace, the packager id
// and the segment id.
func (c Config) SegmentFilePath(packagerID string, segmentID uint64) string {
	return filepath.Join(c.DvrStoragePath, c.StreamIDMeta, packagerID, strconv.FormatUint(segmentID, 10)+".ts")
}
