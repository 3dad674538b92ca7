package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
)

// prefetchKey is the fixed key URI used for the unencrypted lead-in samples.
const prefetchKey = "skd://itunes.apple.com/P000000000/s1/e1"

// ALAC variants above these limits are skipped.
const (
	maxALACSampleRate = 192000
	maxALACBitDepth   = 24
)

// codecPatterns match the audio group id of a master playlist variant.
var codecPatterns = map[string]*regexp.Regexp{
	"alac":         regexp.MustCompile(`^audio-alac-stereo-(\d{5,6})-(\d{2})$`),
	"ec3":          regexp.MustCompile(`^audio-(atmos|ec3)-\d{4}$`),
	"ac3":          regexp.MustCompile(`^audio-ac3-\d{3}$`),
	"aac":          regexp.MustCompile(`^audio-stereo-\d{3}$`),
	"aac-binaural": regexp.MustCompile(`^audio-stereo-\d{3}-binaural$`),
	"aac-downmix":  regexp.MustCompile(`^audio-stereo-\d{3}-downmix$`),
}

var keyTagPattern = regexp.MustCompile(`#EXT-X-KEY:.*URI="([^"]+)"`)

// keySuffix returns the key URI suffix the backend issues for codec.
func keySuffix(codec string) string {
	switch codec {
	case "alac":
		return "c23"
	case "ec3", "ac3", "aac-binaural", "aac-downmix":
		return "c24"
	case "aac":
		return "c22"
	default:
		return "c6"
	}
}

// segmentRef addresses one fetchable resource, optionally a byte range.
type segmentRef struct {
	URL    string
	Offset int64
	Length int64
}

// mediaPlan is everything the download and decrypt stages need.
type mediaPlan struct {
	Codec      string
	MasterURL  string
	VariantURL string
	Init       *segmentRef
	Segments   []segmentRef
	Keys       []string
}

// KeyURI returns the content key for the decrypt header: the first
// non-prefetch key, or the prefetch key when the playlist carries no other.
func (p *mediaPlan) KeyURI() string {
	for _, key := range p.Keys {
		if key != prefetchKey {
			return key
		}
	}
	return prefetchKey
}

// codecCandidates lists codecs to try, requested first, then the configured
// priority order when fallback is enabled.
func codecCandidates(requested string, priority []string, fallback bool) []string {
	out := []string{requested}
	if !fallback {
		return out
	}
	for _, codec := range priority {
		if !slices.Contains(out, codec) {
			out = append(out, codec)
		}
	}
	return out
}

func decodeMaster(body []byte) (*m3u8.MasterPlaylist, error) {
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), true)
	if err != nil {
		return nil, fmt.Errorf("decode master playlist: %w", err)
	}
	if listType != m3u8.MASTER {
		return nil, errors.New("expected master playlist")
	}
	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok || len(master.Variants) == 0 {
		return nil, errors.New("master playlist has no variants")
	}
	return master, nil
}

// selectVariant returns the highest-bandwidth variant whose audio group
// matches codec, honouring the ALAC sample rate and bit depth limits.
func selectVariant(master *m3u8.MasterPlaylist, codec string) *m3u8.Variant {
	pattern, ok := codecPatterns[codec]
	if !ok {
		return nil
	}
	var matches []*m3u8.Variant
	for _, variant := range master.Variants {
		if variant == nil {
			continue
		}
		groups := pattern.FindStringSubmatch(variant.Audio)
		if groups == nil {
			continue
		}
		if codec == "alac" {
			sampleRate, _ := strconv.Atoi(groups[1])
			bitDepth, _ := strconv.Atoi(groups[2])
			if sampleRate > maxALACSampleRate || bitDepth > maxALACBitDepth {
				continue
			}
		}
		matches = append(matches, variant)
	}
	if len(matches) == 0 {
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return bandwidth(matches[i]) > bandwidth(matches[j])
	})
	return matches[0]
}

func bandwidth(v *m3u8.Variant) uint32 {
	if v.AverageBandwidth > 0 {
		return v.AverageBandwidth
	}
	return v.Bandwidth
}

// parseMedia decodes a media playlist into absolute segment references and
// the key URIs that belong to codec.
func parseMedia(body []byte, base *url.URL, codec string) (*mediaPlan, error) {
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), true)
	if err != nil {
		return nil, fmt.Errorf("decode media playlist: %w", err)
	}
	if listType != m3u8.MEDIA {
		return nil, errors.New("expected media playlist")
	}
	media, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, errors.New("expected media playlist")
	}

	plan := &mediaPlan{Codec: codec}
	initMap := media.Map
	var keyURIs []string
	if media.Key != nil {
		keyURIs = append(keyURIs, media.Key.URI)
	}
	for _, segment := range media.Segments {
		if segment == nil {
			continue
		}
		if initMap == nil && segment.Map != nil {
			initMap = segment.Map
		}
		if segment.Key != nil {
			keyURIs = append(keyURIs, segment.Key.URI)
		}
		target, err := resolveReference(base, segment.URI)
		if err != nil {
			return nil, err
		}
		plan.Segments = append(plan.Segments, segmentRef{URL: target, Offset: segment.Offset, Length: segment.Limit})
	}
	if len(plan.Segments) == 0 {
		return nil, errors.New("media playlist has no segments")
	}
	if initMap != nil && initMap.URI != "" {
		target, err := resolveReference(base, initMap.URI)
		if err != nil {
			return nil, err
		}
		plan.Init = &segmentRef{URL: target, Offset: initMap.Offset, Length: initMap.Limit}
	}

	// The decoder keeps only the last key tag ahead of a segment, so scan
	// the raw text as well.
	for _, match := range keyTagPattern.FindAllSubmatch(body, -1) {
		keyURIs = append(keyURIs, string(match[1]))
	}
	plan.Keys = selectKeys(keyURIs, codec)
	return plan, nil
}

// selectKeys keeps the prefetch key plus the skd keys issued for codec.
func selectKeys(uris []string, codec string) []string {
	suffix := keySuffix(codec)
	keys := []string{prefetchKey}
	for _, uri := range uris {
		if !strings.HasPrefix(uri, "skd://") || slices.Contains(keys, uri) {
			continue
		}
		if strings.HasSuffix(uri, suffix) || strings.HasSuffix(uri, "c6") {
			keys = append(keys, uri)
		}
	}
	return keys
}

func resolveReference(base *url.URL, ref string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", fmt.Errorf("invalid playlist uri %q: %w", ref, err)
	}
	if base == nil {
		return parsed.String(), nil
	}
	return base.ResolveReference(parsed).String(), nil
}
