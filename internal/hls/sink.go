package hls

import (
	"hls-packager/internal/mpegts"
	"hls-packager/internal/platform/metrics"
)

// metricsSink counts segment events.
type metricsSink struct {
	m *metrics.Metrics
}

var _ mpegts.Sink = metricsSink{}

func (s metricsSink) OnSegmentCreated(_ string, seg *mpegts.Segment) {
	s.m.SegmentCreated(seg.Size())
}

func (s metricsSink) OnSegmentDeleted(string, *mpegts.Segment) {
	s.m.SegmentDeleted()
}
