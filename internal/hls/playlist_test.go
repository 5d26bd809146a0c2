package hls

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildLivePlaylist_empty_not_ended(t *testing.T) {
	out := BuildLivePlaylist(nil, 0, false)
	if !strings.HasPrefix(out, "#EXTM3U\n") {
		t.Error("expected #EXTM3U header")
	}
	if !strings.Contains(out, "#EXT-X-VERSION:3") {
		t.Error("expected version 3")
	}
	if !strings.Contains(out, "#EXT-X-TARGETDURATION:1") {
		t.Error("expected target duration 1 for empty")
	}
	if !strings.Contains(out, "#EXT-X-MEDIA-SEQUENCE:0") {
		t.Error("expected media sequence 0")
	}
	if strings.Contains(out, "#EXT-X-ENDLIST") {
		t.Error("should not contain ENDLIST when not ended")
	}
}

func TestBuildLivePlaylist_with_entries(t *testing.T) {
	entries := []Entry{
		{Sequence: 38, Duration: 2.0, Path: "seg_a_38_hls.ts"},
		{Sequence: 39, Duration: 2.4, Path: "seg_a_39_hls.ts"},
	}
	out := BuildLivePlaylist(entries, 2, true)

	for _, want := range []string{
		"#EXT-X-TARGETDURATION:3",
		"#EXT-X-MEDIA-SEQUENCE:38",
		"#EXTINF:2.000,\nseg_a_38_hls.ts",
		"#EXTINF:2.400,\nseg_a_39_hls.ts",
		"#EXT-X-ENDLIST",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, "seg_a_38") > strings.Index(out, "seg_a_39") {
		t.Error("entries out of order")
	}
}

func TestBuildLivePlaylist_min_target_duration(t *testing.T) {
	out := BuildLivePlaylist([]Entry{{Sequence: 1, Duration: 0.5, Path: "a.ts"}}, 6, false)
	if !strings.Contains(out, "#EXT-X-TARGETDURATION:6") {
		t.Errorf("short segment lowered the target duration:\n%s", out)
	}
}

func sequences(entries []Entry) []uint64 {
	var out []uint64
	for _, e := range entries {
		out = append(out, e.Sequence)
	}
	return out
}

func TestVisibleEntries(t *testing.T) {
	mk := func(seqs ...uint64) []Entry {
		var out []Entry
		for _, s := range seqs {
			out = append(out, Entry{Sequence: s})
		}
		return out
	}

	tests := []struct {
		name   string
		in     []Entry
		window int
		want   []uint64
	}{
		{"empty", nil, 3, nil},
		{"under window", mk(1, 2), 3, []uint64{1, 2}},
		{"slides", mk(1, 2, 3, 4, 5), 3, []uint64{3, 4, 5}},
		{"stops at gap", mk(1, 2, 4, 5), 4, []uint64{1, 2}},
		{"gap falls off the back", mk(1, 3, 4, 5), 3, []uint64{3, 4, 5}},
		{"unlimited", mk(1, 2, 3, 4, 5), 0, []uint64{1, 2, 3, 4, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sequences(visibleEntries(tt.in, tt.window))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("visible entries (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMediaPlaylist(t *testing.T) {
	p := NewMediaPlaylist(2, 1)
	for i := uint64(1); i <= 4; i++ {
		p.Add(Entry{Sequence: i, Duration: 1, Path: SegmentName("s", i)})
	}
	p.Remove(1)

	live := p.String(false)
	if !strings.Contains(live, "#EXT-X-MEDIA-SEQUENCE:3") {
		t.Errorf("live window should start at 3:\n%s", live)
	}
	if strings.Contains(live, "seg_s_2_hls.ts") {
		t.Errorf("live window too long:\n%s", live)
	}

	dvr := p.String(true)
	if !strings.Contains(dvr, "#EXT-X-MEDIA-SEQUENCE:2") || !strings.Contains(dvr, "seg_s_4_hls.ts") {
		t.Errorf("rewind should list 2..4:\n%s", dvr)
	}

	if p.Ended() {
		t.Fatal("ended before SetEnded")
	}
	p.SetEnded()
	if !strings.HasSuffix(p.String(false), "#EXT-X-ENDLIST\n") {
		t.Error("expected ENDLIST after SetEnded")
	}
}

func TestBuildMasterPlaylist(t *testing.T) {
	variants := []Variant{
		{URI: "medialist_hi_hls.m3u8", Bandwidth: 2_000_000},
		{URI: "medialist_lo_hls.m3u8", Bandwidth: 500_000},
	}

	want := "#EXTM3U\n#EXT-X-VERSION:3\n" +
		"\n#EXT-X-STREAM-INF:BANDWIDTH=2000000\nmedialist_hi_hls.m3u8\n" +
		"\n#EXT-X-STREAM-INF:BANDWIDTH=500000\nmedialist_lo_hls.m3u8\n"
	if diff := cmp.Diff(want, BuildMasterPlaylist(variants, false)); diff != "" {
		t.Errorf("master (-want +got):\n%s", diff)
	}

	rewind := BuildMasterPlaylist(variants, true)
	if strings.Count(rewind, "_hls.m3u8?_HLS_rewind=YES\n") != 2 {
		t.Errorf("rewind should be appended to every variant:\n%s", rewind)
	}
}

func TestMediaPlaylist_PeakBandwidth(t *testing.T) {
	p := NewMediaPlaylist(3, 1)
	if got := p.PeakBandwidth(); got != 0 {
		t.Errorf("empty playlist bandwidth = %d, want 0", got)
	}

	p.Add(Entry{Sequence: 1, Duration: 2, Size: 1000})
	p.Add(Entry{Sequence: 2, Duration: 0.5, Size: 1000})
	p.Add(Entry{Sequence: 3, Duration: 1, Size: 3})
	if got := p.PeakBandwidth(); got != 16000 {
		t.Errorf("bandwidth = %d, want 16000", got)
	}

	p.Remove(2)
	if got := p.PeakBandwidth(); got != 4000 {
		t.Errorf("bandwidth after remove = %d, want 4000", got)
	}
}
