package hls

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"hls-packager/internal/mpegts"

	"github.com/go-chi/chi/v5"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"

	// maxIngestBody bounds a single tracks or frames request.
	maxIngestBody = 16 << 20
)

// TrackRequest describes one track in a tracks request.
type TrackRequest struct {
	ID        uint32 `json:"id"`
	MediaType string `json:"media_type"`
	Codec     string `json:"codec"`
	Timescale uint32 `json:"timescale"`
	Variant   string `json:"variant,omitempty"`
}

// TracksRequest is the body of POST /streams/{stream_id}/tracks.
// PSI packets are base64 encoded. VariantPSI replaces PSI for the named
// variants.
type TracksRequest struct {
	Tracks     []TrackRequest      `json:"tracks"`
	PSI        [][]byte            `json:"psi"`
	VariantPSI map[string][][]byte `json:"variant_psi,omitempty"`
}

// FrameRequest is the body of POST /streams/{stream_id}/frames.
// Timestamps are in the track's timescale; packets are base64 encoded.
type FrameRequest struct {
	TrackID  uint32   `json:"track_id"`
	PTS      int64    `json:"pts"`
	Duration int64    `json:"duration"`
	Keyframe bool     `json:"keyframe"`
	Packets  [][]byte `json:"packets"`
}

// StreamInfo is one element of the GET /streams response.
type StreamInfo struct {
	ID                StreamID `json:"id"`
	SessionID         string   `json:"session_id"`
	Ended             bool     `json:"ended"`
	Variants          []string `json:"variants"`
	BufferCount       int      `json:"buffer_count"`
	ArchiveCount      int      `json:"archive_count"`
	RetentionCount    int      `json:"retention_count"`
	ArchiveDurationMs uint64   `json:"archive_duration_ms"`
	LastSegment       uint64   `json:"last_segment"`
}

// Handler exposes the ingest and playback HTTP endpoints using go-chi.
type Handler struct {
	mgr *Manager
	log *slog.Logger
}

// NewHandler returns a Handler serving the streams of mgr.
func NewHandler(mgr *Manager, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{mgr: mgr, log: log}
}

// Routes mounts the handler's endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/streams", h.ListStreams)
	r.Route("/streams/{stream_id}", func(r chi.Router) {
		r.Delete("/", h.RemoveStream)
		r.Post("/tracks", h.SetTracks)
		r.Post("/frames", h.WriteFrame)
		r.Post("/end", h.EndStream)
		r.Get("/playlist.m3u8", h.GetMasterPlaylist)
		r.Get("/{file}", h.GetFile)
	})
}

// SetTracks handles POST /streams/{stream_id}/tracks. The stream is created
// on its first tracks request.
func (h *Handler) SetTracks(w http.ResponseWriter, r *http.Request) {
	streamID := StreamID(chi.URLParam(r, "stream_id"))
	if streamID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var req TracksRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&req); err != nil {
		h.log.Debug("invalid tracks body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	tracks, err := req.toTracks()
	if err != nil {
		h.log.Debug("invalid tracks", slog.String("stream_id", string(streamID)), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	psi, err := toPackets(req.PSI)
	if err != nil {
		h.log.Debug("invalid psi", slog.String("stream_id", string(streamID)), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var variantPSI map[string][]mpegts.Packet
	if len(req.VariantPSI) > 0 {
		variantPSI = make(map[string][]mpegts.Packet, len(req.VariantPSI))
		for variant, raw := range req.VariantPSI {
			if variantPSI[variant], err = toPackets(raw); err != nil {
				h.log.Debug("invalid variant psi",
					slog.String("stream_id", string(streamID)),
					slog.String("variant", variant),
					slog.String("error", err.Error()))
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		}
	}

	s, err := h.mgr.GetOrCreate(streamID)
	if err != nil {
		h.writeError(w, streamID, "create stream failed", err)
		return
	}
	if err := s.SetTracks(tracks, psi, variantPSI); err != nil {
		h.writeError(w, streamID, "set tracks failed", err)
		return
	}

	h.log.Debug("tracks set",
		slog.String("stream_id", string(streamID)),
		slog.Int("tracks", len(tracks)),
		slog.Int("psi_packets", len(psi)))
	w.WriteHeader(http.StatusNoContent)
}

// WriteFrame handles POST /streams/{stream_id}/frames.
func (h *Handler) WriteFrame(w http.ResponseWriter, r *http.Request) {
	streamID := StreamID(chi.URLParam(r, "stream_id"))

	var req FrameRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBody)).Decode(&req); err != nil {
		h.log.Debug("invalid frame body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	packets, err := toPackets(req.Packets)
	if err != nil || len(packets) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s, ok := h.mgr.Get(streamID)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	pkt := &mpegts.MediaPacket{
		TrackID:  req.TrackID,
		PTS:      req.PTS,
		Duration: req.Duration,
		Keyframe: req.Keyframe,
	}
	if err := s.WriteFrame(pkt, packets); err != nil {
		h.writeError(w, streamID, "write frame failed", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// EndStream handles POST /streams/{stream_id}/end.
func (h *Handler) EndStream(w http.ResponseWriter, r *http.Request) {
	streamID := StreamID(chi.URLParam(r, "stream_id"))

	if err := h.mgr.End(streamID); err != nil {
		h.writeError(w, streamID, "end stream failed", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// RemoveStream handles DELETE /streams/{stream_id}.
func (h *Handler) RemoveStream(w http.ResponseWriter, r *http.Request) {
	streamID := StreamID(chi.URLParam(r, "stream_id"))

	if err := h.mgr.Remove(streamID); err != nil {
		h.writeError(w, streamID, "remove stream failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetMasterPlaylist handles GET /streams/{stream_id}/playlist.m3u8.
// _HLS_rewind=YES is passed on to the media playlists.
func (h *Handler) GetMasterPlaylist(w http.ResponseWriter, r *http.Request) {
	streamID := StreamID(chi.URLParam(r, "stream_id"))

	s, ok := h.mgr.Get(streamID)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	writePlaylist(w, s.MasterPlaylist(rewindRequested(r)))
}

// GetFile handles GET /streams/{stream_id}/{file}: a variant's media
// playlist (medialist_<variant>_hls.m3u8) or a segment
// (seg_<variant>_<number>_hls.ts).
func (h *Handler) GetFile(w http.ResponseWriter, r *http.Request) {
	streamID := StreamID(chi.URLParam(r, "stream_id"))
	name := chi.URLParam(r, "file")

	s, ok := h.mgr.Get(streamID)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if variant, ok := parseMediaPlaylistName(name); ok {
		m3u8, err := s.MediaPlaylist(variant, rewindRequested(r))
		if err != nil {
			h.writeError(w, streamID, "read media playlist failed", err)
			return
		}
		writePlaylist(w, m3u8)
		return
	}

	data, err := s.SegmentData(name)
	if err != nil {
		h.writeError(w, streamID, "read segment failed", err)
		return
	}

	w.Header().Set("Content-Type", segmentContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func rewindRequested(r *http.Request) bool {
	return r.URL.Query().Get("_HLS_rewind") == "YES"
}

func writePlaylist(w http.ResponseWriter, m3u8 string) {
	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(m3u8))
}

// ListStreams handles GET /streams.
func (h *Handler) ListStreams(w http.ResponseWriter, r *http.Request) {
	streams := h.mgr.List()
	out := make([]StreamInfo, 0, len(streams))
	for _, s := range streams {
		st := s.Stats()
		out = append(out, StreamInfo{
			ID:                s.ID(),
			SessionID:         s.SessionID().String(),
			Ended:             s.Ended(),
			Variants:          s.Variants(),
			BufferCount:       st.BufferCount,
			ArchiveCount:      st.ArchiveCount,
			RetentionCount:    st.RetentionCount,
			ArchiveDurationMs: st.ArchiveDurationUs / 1000,
			LastSegment:       st.LastSegmentID,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.log.Error("encode stream list failed", slog.String("error", err.Error()))
	}
}

// writeError maps domain errors to status codes.
func (h *Handler) writeError(w http.ResponseWriter, streamID StreamID, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrStreamNotFound), errors.Is(err, ErrVariantNotFound), errors.Is(err, mpegts.ErrSegmentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrStreamEnded), errors.Is(err, ErrStreamExists):
		status = http.StatusConflict
	case errors.Is(err, mpegts.ErrNoTracks), errors.Is(err, mpegts.ErrInvalidTrack),
		errors.Is(err, mpegts.ErrUnknownTrack), errors.Is(err, mpegts.ErrInvalidFrame):
		status = http.StatusBadRequest
	}

	attrs := []any{slog.String("stream_id", string(streamID)), slog.String("error", err.Error())}
	if status == http.StatusInternalServerError {
		h.log.Error(msg, attrs...)
	} else {
		h.log.Info(msg, attrs...)
	}
	w.WriteHeader(status)
}

func (req TracksRequest) toTracks() ([]*mpegts.Track, error) {
	if len(req.Tracks) == 0 {
		return nil, mpegts.ErrNoTracks
	}
	tracks := make([]*mpegts.Track, 0, len(req.Tracks))
	for _, t := range req.Tracks {
		mt, ok := mpegts.ParseMediaType(t.MediaType)
		if !ok {
			return nil, fmt.Errorf("track %d: unknown media type %q", t.ID, t.MediaType)
		}
		tracks = append(tracks, &mpegts.Track{
			ID:          t.ID,
			MediaType:   mt,
			Codec:       t.Codec,
			Timescale:   t.Timescale,
			VariantName: t.Variant,
		})
	}
	return tracks, nil
}

// toPackets checks that every packet is exactly one transport packet long.
func toPackets(raw [][]byte) ([]mpegts.Packet, error) {
	packets := make([]mpegts.Packet, 0, len(raw))
	for i, b := range raw {
		if len(b) != mpegts.PacketSize {
			return nil, fmt.Errorf("packet %d: %d bytes, want %d", i, len(b), mpegts.PacketSize)
		}
		packets = append(packets, mpegts.Packet(b))
	}
	return packets, nil
}
