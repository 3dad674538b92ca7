package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"trackrelay/internal/config"
	"trackrelay/internal/services"
)

const stageName = "resolve"

// ErrRegionUnavailable marks songs that exist but cannot be played in the
// requested storefront.
var ErrRegionUnavailable = errors.New("track not available in storefront")

// HTTPDoer describes the HTTP client used by the catalog client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Song is the metadata subset needed to tag and place one track.
type Song struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Artist        string        `json:"artist"`
	Album         string        `json:"album"`
	AlbumArtist   string        `json:"album_artist"`
	AlbumID       string        `json:"album_id,omitempty"`
	Composer      string        `json:"composer,omitempty"`
	Genre         string        `json:"genre,omitempty"`
	ReleaseDate   string        `json:"release_date,omitempty"`
	ISRC          string        `json:"isrc,omitempty"`
	Copyright     string        `json:"copyright,omitempty"`
	RecordLabel   string        `json:"record_label,omitempty"`
	ContentRating string        `json:"content_rating,omitempty"`
	DiscNumber    int           `json:"disc_number"`
	TrackNumber   int           `json:"track_number"`
	TrackCount    int           `json:"track_count,omitempty"`
	Duration      time.Duration `json:"duration"`
	ArtworkURL    string        `json:"artwork_url,omitempty"`
	EnhancedHLS   string        `json:"enhanced_hls,omitempty"`
	HasLyrics     bool          `json:"has_lyrics"`
	Playable      bool          `json:"playable"`
}

// Client fetches song metadata from the catalog API.
type Client struct {
	baseURL  string
	token    string
	language string
	timeout  time.Duration
	client   HTTPDoer
}

// NewClient constructs a catalog client from configuration. A nil doer uses
// http.DefaultClient.
func NewClient(cfg *config.Config, doer HTTPDoer) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(cfg.Catalog.BaseURL), "/"),
		token:    strings.TrimSpace(cfg.Catalog.Token),
		language: cfg.Region.Language,
		timeout:  cfg.CatalogTimeout(),
		client:   doer,
	}
}

type songResponse struct {
	Data []songDatum `json:"data"`
}

type songDatum struct {
	ID         string `json:"id"`
	Attributes struct {
		Name             string   `json:"name"`
		ArtistName       string   `json:"artistName"`
		AlbumName        string   `json:"albumName"`
		ComposerName     string   `json:"composerName"`
		GenreNames       []string `json:"genreNames"`
		ReleaseDate      string   `json:"releaseDate"`
		ISRC             string   `json:"isrc"`
		ContentRating    string   `json:"contentRating"`
		DiscNumber       int      `json:"discNumber"`
		TrackNumber      int      `json:"trackNumber"`
		DurationInMillis int64    `json:"durationInMillis"`
		HasTimeSynced    bool     `json:"hasTimeSyncedLyrics"`
		HasLyrics        bool     `json:"hasLyrics"`
		Artwork          artwork  `json:"artwork"`
		PlayParams       *struct {
			ID   string `json:"id"`
			Kind string `json:"kind"`
		} `json:"playParams"`
		ExtendedAssetURLs *struct {
			EnhancedHLS string `json:"enhancedHls"`
		} `json:"extendedAssetUrls"`
	} `json:"attributes"`
	Relationships struct {
		Albums struct {
			Data []struct {
				ID         string `json:"id"`
				Attributes struct {
					Name        string  `json:"name"`
					ArtistName  string  `json:"artistName"`
					Copyright   string  `json:"copyright"`
					RecordLabel string  `json:"recordLabel"`
					TrackCount  int     `json:"trackCount"`
					Artwork     artwork `json:"artwork"`
				} `json:"attributes"`
			} `json:"data"`
		} `json:"albums"`
	} `json:"relationships"`
}

type artwork struct {
	URL string `json:"url"`
}

// Song fetches metadata for songID in storefront. A missing song yields
// services.ErrNotFound; a song without play parameters yields
// ErrRegionUnavailable.
func (c *Client) Song(ctx context.Context, songID, storefront string) (*Song, error) {
	endpoint := fmt.Sprintf("%s/v1/catalog/%s/songs/%s", c.baseURL, url.PathEscape(storefront), url.PathEscape(songID))
	query := url.Values{}
	query.Set("extend", "extendedAssetUrls")
	query.Set("include", "albums,explicit")
	if c.language != "" {
		query.Set("l", c.language)
	}

	body, err := c.get(ctx, endpoint+"?"+query.Encode(), "fetch song")
	if err != nil {
		return nil, err
	}
	var payload songResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, services.Wrap(services.ErrTransient, stageName, "decode song", "catalog returned malformed JSON", err)
	}
	for _, datum := range payload.Data {
		if datum.ID != songID {
			continue
		}
		song := datum.toSong()
		if !song.Playable {
			return song, services.Wrap(services.ErrNotFound, stageName, "fetch song", "song "+songID+" is not playable in "+storefront, ErrRegionUnavailable)
		}
		return song, nil
	}
	return nil, services.Wrap(services.ErrNotFound, stageName, "fetch song", "song "+songID+" not in response", nil)
}

func (d songDatum) toSong() *Song {
	attrs := d.Attributes
	song := &Song{
		ID:            d.ID,
		Title:         attrs.Name,
		Artist:        attrs.ArtistName,
		Album:         attrs.AlbumName,
		AlbumArtist:   attrs.ArtistName,
		Composer:      attrs.ComposerName,
		ReleaseDate:   attrs.ReleaseDate,
		ISRC:          attrs.ISRC,
		ContentRating: attrs.ContentRating,
		DiscNumber:    attrs.DiscNumber,
		TrackNumber:   attrs.TrackNumber,
		Duration:      time.Duration(attrs.DurationInMillis) * time.Millisecond,
		ArtworkURL:    attrs.Artwork.URL,
		HasLyrics:     attrs.HasTimeSynced,
		Playable:      attrs.PlayParams != nil && attrs.PlayParams.ID != "",
	}
	if len(attrs.GenreNames) > 0 {
		song.Genre = attrs.GenreNames[0]
	}
	if attrs.ExtendedAssetURLs != nil {
		song.EnhancedHLS = attrs.ExtendedAssetURLs.EnhancedHLS
	}
	if albums := d.Relationships.Albums.Data; len(albums) > 0 {
		album := albums[0]
		song.AlbumID = album.ID
		if album.Attributes.Name != "" {
			song.Album = album.Attributes.Name
		}
		if album.Attributes.ArtistName != "" {
			song.AlbumArtist = album.Attributes.ArtistName
		}
		song.Copyright = album.Attributes.Copyright
		song.RecordLabel = album.Attributes.RecordLabel
		song.TrackCount = album.Attributes.TrackCount
		if album.Attributes.Artwork.URL != "" {
			song.ArtworkURL = album.Attributes.Artwork.URL
		}
	}
	if song.DiscNumber == 0 {
		song.DiscNumber = 1
	}
	return song
}

// CoverURL expands an artwork URL template to the requested size and format.
func CoverURL(template, size, format string) string {
	if template == "" {
		return ""
	}
	if format == "" {
		format = "jpg"
	}
	out := strings.Replace(template, "{w}x{h}", size, 1)
	return strings.Replace(out, "bb.jpg", "bb."+format, 1)
}

// Cover downloads artwork bytes from the expanded artwork URL.
func (c *Client) Cover(ctx context.Context, artworkURL string) ([]byte, error) {
	if artworkURL == "" {
		return nil, services.Wrap(services.ErrNotFound, "lyrics", "fetch cover", "no artwork url", nil)
	}
	return c.get(ctx, artworkURL, "fetch cover")
}

func (c *Client) get(ctx context.Context, target, operation string) ([]byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, operation, "build request", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Origin", "https://music.apple.com")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTimeout, stageName, operation, "catalog request timed out", err)
		}
		return nil, services.Wrap(services.ErrTransient, stageName, operation, "catalog request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, stageName, operation, "read catalog response", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, services.Wrap(services.ErrNotFound, stageName, operation, "catalog returned 404", nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, services.Wrap(services.ErrConfiguration, stageName, operation,
			fmt.Sprintf("catalog rejected token (%d)", resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return nil, services.Wrap(services.ErrTransient, stageName, operation,
			fmt.Sprintf("catalog returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= http.StatusMultipleChoices:
		return nil, services.Wrap(services.ErrValidation, stageName, operation,
			fmt.Sprintf("catalog returned %d", resp.StatusCode), nil)
	}
	return body, nil
}
