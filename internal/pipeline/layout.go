package pipeline

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"trackrelay/internal/catalog"
	"trackrelay/internal/textutil"
)

const outputExtension = ".m4a"

var placeholderPattern = regexp.MustCompile(`\{([a-z_]+)(?::(\d+))?\}`)

// Layout renders artifact paths from the configured directory and file name
// templates. Placeholders look like {title} or {track:02}; the numeric suffix
// zero pads integer fields.
type Layout struct {
	DirFormat  string
	SongFormat string
}

// RelPath returns the output-relative path for song encoded as codec.
func (l Layout) RelPath(song *catalog.Song, codec string) string {
	values := layoutValues(song, codec)

	var parts []string
	for _, segment := range strings.Split(l.DirFormat, "/") {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		parts = append(parts, textutil.PathComponent(render(segment, values), "Unknown"))
	}
	name := textutil.PathComponent(render(l.SongFormat, values), fallbackName(song))
	parts = append(parts, name+outputExtension)
	return path.Join(parts...)
}

type fieldValue struct {
	text   string
	number int
	isInt  bool
}

func layoutValues(song *catalog.Song, codec string) map[string]fieldValue {
	if song == nil {
		song = &catalog.Song{}
	}
	albumArtist := song.AlbumArtist
	if albumArtist == "" {
		albumArtist = song.Artist
	}
	year := ""
	if len(song.ReleaseDate) >= 4 {
		year = song.ReleaseDate[:4]
	}
	return map[string]fieldValue{
		"id":           {text: song.ID},
		"title":        {text: song.Title},
		"artist":       {text: song.Artist},
		"album":        {text: song.Album},
		"album_artist": {text: albumArtist},
		"composer":     {text: song.Composer},
		"genre":        {text: song.Genre},
		"release_date": {text: song.ReleaseDate},
		"year":         {text: year},
		"isrc":         {text: song.ISRC},
		"record_label": {text: song.RecordLabel},
		"codec":        {text: codec},
		"disc":         {number: song.DiscNumber, isInt: true},
		"track":        {number: song.TrackNumber, isInt: true},
		"track_count":  {number: song.TrackCount, isInt: true},
	}
}

func render(template string, values map[string]fieldValue) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(token string) string {
		match := placeholderPattern.FindStringSubmatch(token)
		value, ok := values[match[1]]
		if !ok {
			return ""
		}
		if !value.isInt {
			return value.text
		}
		if match[2] == "" {
			return strconv.Itoa(value.number)
		}
		width, err := strconv.Atoi(match[2])
		if err != nil {
			return strconv.Itoa(value.number)
		}
		return fmt.Sprintf("%0*d", width, value.number)
	})
}

func fallbackName(song *catalog.Song) string {
	if song != nil && song.ID != "" {
		return song.ID
	}
	return "track"
}
