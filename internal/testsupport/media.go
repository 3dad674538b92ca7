package testsupport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trackrelay/internal/config"
)

const (
	// TestTrackID is the song id served by MediaServer.
	TestTrackID = "1440818839"
	// TestTrackURL is a single-track link resolving to TestTrackID.
	TestTrackURL = "https://music.apple.com/us/album/test-album/1440818830?i=" + TestTrackID

	mediaInitSize    = 64
	mediaSegmentSize = 128
	prefetchKeyURI   = "skd://itunes.apple.com/P000000000/s1/e1"
)

// MediaServer serves a fake catalog API plus HLS master and media playlists
// whose segments are byte ranges of one file.
type MediaServer struct {
	server *httptest.Server

	mu            sync.Mutex
	variants      []string
	segmentCount  int
	durationMS    int64
	playable      bool
	missing       bool
	corruptMaster bool
	failSegments  int
	segmentBlock  chan struct{}

	SongCalls    atomic.Int64
	MasterCalls  atomic.Int64
	MediaCalls   atomic.Int64
	SegmentCalls atomic.Int64
	CoverCalls   atomic.Int64
}

// MediaOption customizes a MediaServer.
type MediaOption func(*MediaServer)

// WithMasterVariants replaces the audio group ids listed in the master
// playlist. The default lists an ALAC, a hi-res ALAC and an AAC variant.
func WithMasterVariants(groups ...string) MediaOption {
	return func(m *MediaServer) { m.variants = groups }
}

// WithSegmentCount sets how many media segments each playlist lists.
func WithSegmentCount(n int) MediaOption {
	return func(m *MediaServer) { m.segmentCount = n }
}

// WithSongDuration sets the catalog duration of the test song.
func WithSongDuration(d time.Duration) MediaOption {
	return func(m *MediaServer) { m.durationMS = d.Milliseconds() }
}

// WithSongNotPlayable drops play parameters so the song is region locked.
func WithSongNotPlayable() MediaOption {
	return func(m *MediaServer) { m.playable = false }
}

// WithSongMissing makes the catalog answer 404 for the song.
func WithSongMissing() MediaOption {
	return func(m *MediaServer) { m.missing = true }
}

// WithCorruptMaster makes the master playlist unparsable.
func WithCorruptMaster() MediaOption {
	return func(m *MediaServer) { m.corruptMaster = true }
}

// NewMediaServer starts the fake catalog and CDN.
func NewMediaServer(t testing.TB, opts ...MediaOption) *MediaServer {
	t.Helper()
	m := &MediaServer{
		variants:     []string{"audio-alac-stereo-44100-24", "audio-alac-stereo-192000-32", "audio-stereo-256"},
		segmentCount: 4,
		durationMS:   40_000,
		playable:     true,
	}
	for _, opt := range opts {
		opt(m)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/catalog/{storefront}/songs/{id}", m.handleSong)
	mux.HandleFunc("GET /hls/master.m3u8", m.handleMaster)
	mux.HandleFunc("GET /hls/{group}/media.m3u8", m.handleMedia)
	mux.HandleFunc("GET /hls/{group}/audio.mp4", m.handleAudio)
	mux.HandleFunc("GET /art/{name}", m.handleCover)
	m.server = httptest.NewServer(mux)
	t.Cleanup(m.server.Close)
	return m
}

// URL is the server base URL.
func (m *MediaServer) URL() string { return m.server.URL }

// MasterURL is the master playlist URL advertised by the catalog.
func (m *MediaServer) MasterURL() string { return m.server.URL + "/hls/master.m3u8" }

// Configure points cfg's catalog at the server.
func (m *MediaServer) Configure(cfg *config.Config) {
	cfg.Catalog.BaseURL = m.server.URL
	cfg.Catalog.Token = "test-token"
}

// FailSegments makes the next n segment requests answer 500.
func (m *MediaServer) FailSegments(n int) {
	m.mu.Lock()
	m.failSegments = n
	m.mu.Unlock()
}

// BlockSegments makes segment requests wait until release runs or the
// request context ends.
func (m *MediaServer) BlockSegments() (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.segmentBlock = ch
	m.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			close(ch)
			m.mu.Lock()
			m.segmentBlock = nil
			m.mu.Unlock()
		})
	}
}

// ExpectedAudio is the decrypted stream the pipeline should hand to the
// muxer: the clear init section followed by every segment run through
// FakeDecrypt.
func (m *MediaServer) ExpectedAudio() []byte {
	file := m.audioFile()
	out := append([]byte(nil), file[:mediaInitSize]...)
	return append(out, FakeDecrypt(file[mediaInitSize:])...)
}

func (m *MediaServer) audioFile() []byte {
	m.mu.Lock()
	count := m.segmentCount
	m.mu.Unlock()
	var buf bytes.Buffer
	buf.Write(bytes.Repeat([]byte{'I'}, mediaInitSize))
	for i := 0; i < count; i++ {
		buf.Write(bytes.Repeat([]byte{byte('a' + i%26)}, mediaSegmentSize))
	}
	return buf.Bytes()
}

func (m *MediaServer) handleSong(w http.ResponseWriter, r *http.Request) {
	m.SongCalls.Add(1)
	m.mu.Lock()
	missing, playable, duration := m.missing, m.playable, m.durationMS
	m.mu.Unlock()
	if missing {
		http.NotFound(w, r)
		return
	}
	id := r.PathValue("id")
	attrs := map[string]any{
		"name":                "Test Song",
		"artistName":          "Test Artist",
		"albumName":           "Test Album",
		"genreNames":          []string{"Pop"},
		"releaseDate":         "2021-05-07",
		"discNumber":          1,
		"trackNumber":         3,
		"durationInMillis":    duration,
		"hasTimeSyncedLyrics": true,
		"artwork":             map[string]string{"url": m.server.URL + "/art/{w}x{h}bb.jpg"},
		"extendedAssetUrls":   map[string]string{"enhancedHls": m.MasterURL()},
	}
	if playable {
		attrs["playParams"] = map[string]string{"id": id, "kind": "song"}
	}
	payload := map[string]any{
		"data": []any{map[string]any{
			"id":         id,
			"attributes": attrs,
			"relationships": map[string]any{
				"albums": map[string]any{"data": []any{map[string]any{
					"id":         "1440818830",
					"attributes": map[string]any{"name": "Test Album", "artistName": "Album Artist", "trackCount": 10},
				}}},
			},
		}},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func (m *MediaServer) handleMaster(w http.ResponseWriter, r *http.Request) {
	m.MasterCalls.Add(1)
	m.mu.Lock()
	variants, corrupt := m.variants, m.corruptMaster
	m.mu.Unlock()
	if corrupt {
		_, _ = w.Write([]byte("this is not a playlist\n"))
		return
	}
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:6\n#EXT-X-INDEPENDENT-SEGMENTS\n")
	for i, group := range variants {
		bandwidth := 256000 * (i + 1)
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,AVERAGE-BANDWIDTH=%d,CODECS=\"mp4a\",AUDIO=\"%s\"\n%s/media.m3u8\n",
			bandwidth+1000, bandwidth, group, group)
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	_, _ = w.Write([]byte(b.String()))
}

func (m *MediaServer) handleMedia(w http.ResponseWriter, r *http.Request) {
	m.MediaCalls.Add(1)
	m.mu.Lock()
	count := m.segmentCount
	m.mu.Unlock()
	group := r.PathValue("group")

	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:7\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n#EXT-X-PLAYLIST-TYPE:VOD\n")
	fmt.Fprintf(&b, "#EXT-X-MAP:URI=\"audio.mp4\",BYTERANGE=\"%d@0\"\n", mediaInitSize)
	for _, key := range []string{prefetchKeyURI, "skd://keys.test/" + group + "-c23", "skd://keys.test/" + group + "-c22"} {
		fmt.Fprintf(&b, "#EXT-X-KEY:METHOD=SAMPLE-AES,URI=\"%s\",KEYFORMAT=\"com.apple.streamingkeydelivery\",KEYFORMATVERSIONS=\"1\"\n", key)
	}
	for i := 0; i < count; i++ {
		fmt.Fprintf(&b, "#EXTINF:10.0,\n#EXT-X-BYTERANGE:%d@%d\naudio.mp4\n", mediaSegmentSize, mediaInitSize+i*mediaSegmentSize)
	}
	b.WriteString("#EXT-X-ENDLIST\n")
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	_, _ = w.Write([]byte(b.String()))
}

func (m *MediaServer) handleAudio(w http.ResponseWriter, r *http.Request) {
	m.SegmentCalls.Add(1)
	m.mu.Lock()
	fail := m.failSegments > 0
	if fail {
		m.failSegments--
	}
	block := m.segmentBlock
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-r.Context().Done():
			return
		}
	}
	if fail {
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, "audio.mp4", time.Time{}, bytes.NewReader(m.audioFile()))
}

func (m *MediaServer) handleCover(w http.ResponseWriter, r *http.Request) {
	m.CoverCalls.Add(1)
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write([]byte("\xff\xd8\xff\xe0cover"))
}
