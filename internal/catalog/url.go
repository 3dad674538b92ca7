package catalog

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// Kind identifies what a catalog link points at.
type Kind string

const (
	KindSong     Kind = "song"
	KindAlbum    Kind = "album"
	KindPlaylist Kind = "playlist"
	KindArtist   Kind = "artist"
)

var (
	// ErrInvalidURL is returned for links that are not catalog links at all.
	ErrInvalidURL = errors.New("not a recognised catalog link")
	// ErrNotSingleTrack is returned for valid links that reference a
	// collection instead of one song.
	ErrNotSingleTrack = errors.New("link does not reference a single track")
)

var linkPattern = regexp.MustCompile(`^https://(?:beta\.)?music\.apple\.com/([a-z]{2})/(song|album|playlist|artist).*/(pl\..*|\d*)`)

// Reference is a parsed catalog link.
type Reference struct {
	URL        string `json:"url"`
	Storefront string `json:"storefront"`
	Kind       Kind   `json:"kind"`
	ID         string `json:"id"`
}

// SingleTrack reports whether the reference names exactly one song.
func (r Reference) SingleTrack() bool {
	return r.Kind == KindSong && r.ID != ""
}

// ParseURL classifies raw. Album links with an `i` query parameter resolve
// to the referenced song.
func ParseURL(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if !linkPattern.MatchString(raw) {
		return Reference{}, ErrInvalidURL
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return Reference{}, ErrInvalidURL
	}
	parts := strings.Split(strings.TrimSuffix(parsed.Path, "/"), "/")
	if len(parts) < 3 {
		return Reference{}, ErrInvalidURL
	}
	ref := Reference{
		URL:        raw,
		Storefront: strings.ToLower(parts[1]),
		Kind:       Kind(parts[2]),
		ID:         parts[len(parts)-1],
	}
	if ref.Kind == KindAlbum {
		if songID := strings.TrimSpace(parsed.Query().Get("i")); songID != "" {
			ref.Kind = KindSong
			ref.ID = songID
		}
	}
	if ref.ID == "" || ref.ID == string(ref.Kind) {
		return Reference{}, ErrInvalidURL
	}
	return ref, nil
}

// ParseTrackURL parses raw and requires it to reference a single song.
func ParseTrackURL(raw string) (Reference, error) {
	ref, err := ParseURL(raw)
	if err != nil {
		return Reference{}, err
	}
	if !ref.SingleTrack() {
		return ref, ErrNotSingleTrack
	}
	if !isNumeric(ref.ID) {
		return ref, ErrInvalidURL
	}
	return ref, nil
}

func isNumeric(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
