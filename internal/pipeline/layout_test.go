package pipeline

import (
	"testing"

	"trackrelay/internal/catalog"
)

func testSong() *catalog.Song {
	return &catalog.Song{
		ID:          "1440818839",
		Title:       "Test Song",
		Artist:      "Test Artist",
		Album:       "Test Album",
		AlbumArtist: "Album Artist",
		ReleaseDate: "2021-05-07",
		DiscNumber:  1,
		TrackNumber: 3,
		TrackCount:  10,
	}
}

func TestLayoutRelPath(t *testing.T) {
	tests := []struct {
		name   string
		layout Layout
		mutate func(*catalog.Song)
		want   string
	}{
		{
			name:   "defaults",
			layout: Layout{DirFormat: "{album_artist}/{album}", SongFormat: "{disc}-{track:02} {title}"},
			want:   "Album Artist/Test Album/1-03 Test Song.m4a",
		},
		{
			name:   "album artist falls back to artist",
			layout: Layout{DirFormat: "{album_artist}", SongFormat: "{title}"},
			mutate: func(s *catalog.Song) { s.AlbumArtist = "" },
			want:   "Test Artist/Test Song.m4a",
		},
		{
			name:   "unsafe characters",
			layout: Layout{DirFormat: "{album}", SongFormat: "{title}"},
			mutate: func(s *catalog.Song) { s.Album = "AC/DC: Live?"; s.Title = "What*" },
			want:   "AC-DC- Live/What-.m4a",
		},
		{
			name:   "empty fields use fallbacks",
			layout: Layout{DirFormat: "{genre}", SongFormat: "{title}"},
			mutate: func(s *catalog.Song) { s.Title = "" },
			want:   "Unknown/1440818839.m4a",
		},
		{
			name:   "year codec and widths",
			layout: Layout{DirFormat: "{year}", SongFormat: "{track:03} of {track_count} [{codec}]{nope}"},
			want:   "2021/003 of 10 [alac].m4a",
		},
		{
			name:   "decomposed unicode is composed",
			layout: Layout{SongFormat: "{title}"},
			mutate: func(s *catalog.Song) { s.Title = "Cafe\u0301" },
			want:   "Caf\u00e9.m4a",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			song := testSong()
			if tt.mutate != nil {
				tt.mutate(song)
			}
			if got := tt.layout.RelPath(song, "alac"); got != tt.want {
				t.Fatalf("RelPath = %q, want %q", got, tt.want)
			}
		})
	}
}
