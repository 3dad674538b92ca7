package pipeline

import (
	"net/url"
	"slices"
	"testing"

	"github.com/grafov/m3u8"
)

func masterWith(t *testing.T, variants map[string]uint32) *m3u8.MasterPlaylist {
	t.Helper()
	master := m3u8.NewMasterPlaylist()
	for group, bw := range variants {
		master.Append(group+"/media.m3u8", nil, m3u8.VariantParams{Audio: group, Bandwidth: bw + 1000, AverageBandwidth: bw})
	}
	return master
}

func TestSelectVariant(t *testing.T) {
	master := masterWith(t, map[string]uint32{
		"audio-alac-stereo-44100-24":  900000,
		"audio-alac-stereo-96000-24":  1800000,
		"audio-alac-stereo-192000-32": 3600000,
		"audio-stereo-256":            256000,
		"audio-stereo-64":             64000,
		"audio-stereo-256-binaural":   256000,
	})

	tests := []struct {
		codec string
		want  string
	}{
		{"alac", "audio-alac-stereo-96000-24"},
		{"aac", "audio-stereo-256"},
		{"aac-binaural", "audio-stereo-256-binaural"},
		{"ec3", ""},
		{"flac", ""},
	}
	for _, tt := range tests {
		t.Run(tt.codec, func(t *testing.T) {
			got := selectVariant(master, tt.codec)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("expected no variant, got %s", got.Audio)
				}
				return
			}
			if got == nil || got.Audio != tt.want {
				t.Fatalf("selectVariant(%s) = %v, want %s", tt.codec, got, tt.want)
			}
		})
	}
}

func TestSelectVariantFallsBackToBandwidth(t *testing.T) {
	master := m3u8.NewMasterPlaylist()
	master.Append("low.m3u8", nil, m3u8.VariantParams{Audio: "audio-stereo-128", Bandwidth: 128000})
	master.Append("high.m3u8", nil, m3u8.VariantParams{Audio: "audio-stereo-256", Bandwidth: 256000})
	got := selectVariant(master, "aac")
	if got == nil || got.URI != "high.m3u8" {
		t.Fatalf("expected highest bandwidth variant, got %v", got)
	}
}

func TestCodecCandidates(t *testing.T) {
	priority := []string{"alac", "ec3", "aac"}
	if got := codecCandidates("aac", priority, true); !slices.Equal(got, []string{"aac", "alac", "ec3"}) {
		t.Fatalf("unexpected fallback order %v", got)
	}
	if got := codecCandidates("alac", priority, false); !slices.Equal(got, []string{"alac"}) {
		t.Fatalf("fallback disabled should only try requested codec, got %v", got)
	}
}

func TestKeySuffix(t *testing.T) {
	tests := map[string]string{
		"alac":        "c23",
		"ec3":         "c24",
		"ac3":         "c24",
		"aac-downmix": "c24",
		"aac":         "c22",
		"something":   "c6",
	}
	for codec, want := range tests {
		if got := keySuffix(codec); got != want {
			t.Errorf("keySuffix(%s) = %s, want %s", codec, got, want)
		}
	}
}

const mediaFixture = `#EXTM3U
#EXT-X-VERSION:7
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-PLAYLIST-TYPE:VOD
#EXT-X-MAP:URI="audio.mp4",BYTERANGE="64@0"
#EXT-X-KEY:METHOD=SAMPLE-AES,URI="skd://itunes.apple.com/P000000000/s1/e1",KEYFORMAT="com.apple.streamingkeydelivery",KEYFORMATVERSIONS="1"
#EXT-X-KEY:METHOD=SAMPLE-AES,URI="skd://keys.test/song-c23",KEYFORMAT="com.apple.streamingkeydelivery",KEYFORMATVERSIONS="1"
#EXT-X-KEY:METHOD=SAMPLE-AES,URI="skd://keys.test/song-c22",KEYFORMAT="com.apple.streamingkeydelivery",KEYFORMATVERSIONS="1"
#EXTINF:10.0,
#EXT-X-BYTERANGE:128@64
audio.mp4
#EXTINF:10.0,
#EXT-X-BYTERANGE:128@192
audio.mp4
#EXT-X-ENDLIST
`

func TestParseMedia(t *testing.T) {
	base, _ := url.Parse("https://cdn.test/hls/group/media.m3u8")
	plan, err := parseMedia([]byte(mediaFixture), base, "alac")
	if err != nil {
		t.Fatalf("parseMedia: %v", err)
	}
	wantURL := "https://cdn.test/hls/group/audio.mp4"
	if plan.Init == nil || plan.Init.URL != wantURL || plan.Init.Offset != 0 || plan.Init.Length != 64 {
		t.Fatalf("unexpected init map %+v", plan.Init)
	}
	want := []segmentRef{{URL: wantURL, Offset: 64, Length: 128}, {URL: wantURL, Offset: 192, Length: 128}}
	if !slices.Equal(plan.Segments, want) {
		t.Fatalf("unexpected segments %+v", plan.Segments)
	}
	if !slices.Equal(plan.Keys, []string{prefetchKey, "skd://keys.test/song-c23"}) {
		t.Fatalf("unexpected keys %v", plan.Keys)
	}
	if plan.KeyURI() != "skd://keys.test/song-c23" {
		t.Fatalf("unexpected content key %s", plan.KeyURI())
	}

	aac, err := parseMedia([]byte(mediaFixture), base, "aac")
	if err != nil {
		t.Fatalf("parseMedia aac: %v", err)
	}
	if aac.KeyURI() != "skd://keys.test/song-c22" {
		t.Fatalf("unexpected aac key %s", aac.KeyURI())
	}
}

func TestParseMediaRejectsMaster(t *testing.T) {
	body := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000,AUDIO=\"audio-stereo-256\"\nmedia.m3u8\n"
	if _, err := parseMedia([]byte(body), nil, "aac"); err == nil {
		t.Fatal("expected error for master playlist")
	}
}

func TestKeyURIDefaultsToPrefetch(t *testing.T) {
	plan := &mediaPlan{Keys: selectKeys([]string{"skd://keys.test/other-c24"}, "alac")}
	if plan.KeyURI() != prefetchKey {
		t.Fatalf("expected prefetch key, got %s", plan.KeyURI())
	}
}
