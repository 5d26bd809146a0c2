package mpegts

import (
	"log/slog"
)

// Sample is one encoded frame together with the transport packets it was
// serialized into.
type Sample struct {
	Packet     *MediaPacket
	Data       []byte
	DurationUs uint64
}

// NewSample computes the sample duration in microseconds from the frame
// duration and the track timescale.
func NewSample(packet *MediaPacket, data []byte, timescale uint32) Sample {
	var durationUs uint64
	if packet.Duration > 0 && timescale > 0 {
		durationUs = uint64(packet.Duration) * 1_000_000 / uint64(timescale)
	}
	return Sample{Packet: packet, Data: data, DurationUs: durationUs}
}

type boundary struct {
	sampleCount uint64
	durationUs  uint64
}

// SampleQueue buffers the samples of one track and the segment boundaries
// marked on it. It is driven by the packager's producer and is not safe for
// concurrent use.
type SampleQueue struct {
	log     *slog.Logger
	trackID uint32

	samples    []Sample
	boundaries []boundary

	currentCount      uint64
	currentDurationUs uint64

	availableCount      uint64
	availableDurationUs uint64

	consumedCount      uint64
	consumedDurationUs uint64
}

// NewSampleQueue creates an empty queue for trackID. If log is nil,
// slog.Default() is used.
func NewSampleQueue(trackID uint32, log *slog.Logger) *SampleQueue {
	if log == nil {
		log = slog.Default()
	}
	return &SampleQueue{
		log:     log.With("track_id", trackID),
		trackID: trackID,
	}
}

// TrackID returns the id of the track this queue belongs to.
func (q *SampleQueue) TrackID() uint32 {
	return q.trackID
}

// AddSample appends s to the tail of the queue.
func (q *SampleQueue) AddSample(s Sample) {
	q.samples = append(q.samples, s)

	q.currentCount++
	q.currentDurationUs += s.DurationUs

	q.availableCount++
	q.availableDurationUs += s.DurationUs
}

// MarkBoundary records a boundary covering every sample added since the
// previous mark and resets the since-last-mark counters.
func (q *SampleQueue) MarkBoundary() {
	q.boundaries = append(q.boundaries, boundary{
		sampleCount: q.currentCount,
		durationUs:  q.currentDurationUs,
	})

	q.currentCount = 0
	q.currentDurationUs = 0
}

// PopSamplesUntilBoundary consumes the oldest boundary and returns the
// samples it covers in arrival order. It returns nil if no boundary is
// pending.
func (q *SampleQueue) PopSamplesUntilBoundary() []Sample {
	if len(q.boundaries) == 0 {
		return nil
	}

	b := q.boundaries[0]
	q.boundaries[0] = boundary{}
	q.boundaries = q.boundaries[1:]

	n := b.sampleCount
	if n > uint64(len(q.samples)) {
		q.log.Error("segment boundary covers more samples than queued",
			"boundary_samples", b.sampleCount,
			"queued_samples", len(q.samples))
		n = uint64(len(q.samples))
	}

	out := make([]Sample, n)
	copy(out, q.samples[:n])
	clear(q.samples[:n])
	q.samples = q.samples[n:]

	var durationUs uint64
	for _, s := range out {
		durationUs += s.DurationUs
	}

	q.availableCount -= n
	q.availableDurationUs -= durationUs

	q.consumedCount += n
	q.consumedDurationUs += durationUs

	return out
}

// IsEmpty reports whether no samples are queued.
func (q *SampleQueue) IsEmpty() bool {
	return len(q.samples) == 0
}

// HasBoundary reports whether at least one boundary is pending.
func (q *SampleQueue) HasBoundary() bool {
	return len(q.boundaries) > 0
}

// BoundaryCount returns the number of pending boundaries.
func (q *SampleQueue) BoundaryCount() int {
	return len(q.boundaries)
}

// CurrentCount returns the number of samples added since the last mark.
func (q *SampleQueue) CurrentCount() uint64 {
	return q.currentCount
}

// CurrentDurationUs returns the duration of samples added since the last mark.
func (q *SampleQueue) CurrentDurationUs() uint64 {
	return q.currentDurationUs
}

// DurationUntilBoundaryUs returns the duration recorded by the oldest pending
// boundary, or 0 if there is none.
func (q *SampleQueue) DurationUntilBoundaryUs() uint64 {
	if len(q.boundaries) == 0 {
		return 0
	}
	return q.boundaries[0].durationUs
}

// TotalAvailableDurationUs returns the duration of every queued sample.
func (q *SampleQueue) TotalAvailableDurationUs() uint64 {
	return q.availableDurationUs
}

// TotalConsumedDurationUs returns the duration of every sample popped so far.
func (q *SampleQueue) TotalConsumedDurationUs() uint64 {
	return q.consumedDurationUs
}
