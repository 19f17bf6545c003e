package playback

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/Eyevinn/hls-m3u8/m3u8"
)

// HLS parsing errors
var (
	ErrMissingRequiredTag = errors.New("missing required HLS tag")
	ErrEmptyVariants      = errors.New("master playlist has no variants")
	ErrEmptyPlaylist      = errors.New("media playlist has no segments")
)

// MasterPlaylist is an HLS master playlist
type MasterPlaylist struct {
	Variants []PlaylistVariant
}

// PlaylistVariant is one rendition listed in a master playlist
type PlaylistVariant struct {
	Bandwidth int    // bits per second
	Codecs    string // raw CODECS attribute
	URI       string // absolute media playlist URL
}

// MediaPlaylist is an HLS media playlist
type MediaPlaylist struct {
	TargetDuration int // maximum segment duration in seconds
	MediaSequence  int // sequence number of the first segment
	Segments       []Segment
	PlaylistType   string // "EVENT", "VOD" or empty for live
	Ended          bool   // #EXT-X-ENDLIST present
}

// Segment is a single media segment
type Segment struct {
	Sequence int
	Duration float64 // seconds
	URI      string  // absolute segment URL
}

// LowestBandwidth returns the cheapest variant, which is the most likely to
// survive a poor connection
func (m *MasterPlaylist) LowestBandwidth() (PlaylistVariant, error) {
	if len(m.Variants) == 0 {
		return PlaylistVariant{}, ErrEmptyVariants
	}
	variants := append([]PlaylistVariant(nil), m.Variants...)
	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].Bandwidth < variants[j].Bandwidth
	})
	return variants[0], nil
}

// LiveEdge returns the segments a live client should start with: the last
// three for live playlists, all of them for finished ones
func (p *MediaPlaylist) LiveEdge() []Segment {
	const edge = 3
	if p.Ended || len(p.Segments) <= edge {
		return p.Segments
	}
	return p.Segments[len(p.Segments)-edge:]
}

// ParsePlaylist reads an M3U8 document. Exactly one of the returned playlists
// is non-nil on success. Relative URIs are resolved against base.
func ParsePlaylist(r io.Reader, base *url.URL) (*MasterPlaylist, *MediaPlaylist, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read playlist: %w", err)
	}
	data = bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\ufeff")), " \t\r\n")
	if !bytes.HasPrefix(data, []byte("#EXTM3U")) {
		return nil, nil, fmt.Errorf("%w: #EXTM3U", ErrMissingRequiredTag)
	}

	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(data), false)
	if err != nil {
		return nil, nil, fmt.Errorf("decode playlist: %w", err)
	}

	switch listType {
	case m3u8.MASTER:
		master, err := fromMaster(pl.(*m3u8.MasterPlaylist), base)
		return master, nil, err
	case m3u8.MEDIA:
		media, err := fromMedia(pl.(*m3u8.MediaPlaylist), base)
		return nil, media, err
	default:
		return nil, nil, fmt.Errorf("%w: unknown playlist type", ErrMissingRequiredTag)
	}
}

func fromMaster(pl *m3u8.MasterPlaylist, base *url.URL) (*MasterPlaylist, error) {
	master := &MasterPlaylist{}
	for _, v := range pl.Variants {
		if v == nil || strings.TrimSpace(v.URI) == "" {
			continue
		}
		master.Variants = append(master.Variants, PlaylistVariant{
			Bandwidth: int(v.Bandwidth),
			Codecs:    v.Codecs,
			URI:       resolveURI(base, strings.TrimSpace(v.URI)),
		})
	}
	if len(master.Variants) == 0 {
		return nil, ErrEmptyVariants
	}
	return master, nil
}

func fromMedia(pl *m3u8.MediaPlaylist, base *url.URL) (*MediaPlaylist, error) {
	target := int(math.Ceil(float64(pl.TargetDuration)))
	if target <= 0 {
		return nil, fmt.Errorf("%w: #EXT-X-TARGETDURATION", ErrMissingRequiredTag)
	}

	media := &MediaPlaylist{
		TargetDuration: target,
		MediaSequence:  int(pl.SeqNo),
		Ended:          pl.Closed,
	}
	switch pl.MediaType {
	case m3u8.EVENT:
		media.PlaylistType = "EVENT"
	case m3u8.VOD:
		media.PlaylistType = "VOD"
	}

	for _, seg := range pl.Segments {
		if seg == nil {
			continue
		}
		media.Segments = append(media.Segments, Segment{
			Sequence: media.MediaSequence + len(media.Segments),
			Duration: seg.Duration,
			URI:      resolveURI(base, strings.TrimSpace(seg.URI)),
		})
	}

	if len(media.Segments) == 0 && media.Ended {
		return nil, ErrEmptyPlaylist
	}
	return media, nil
}

func resolveURI(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// isPlaylist reports whether a response is an M3U8 document
func isPlaylist(contentType, rawURL string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(path.Ext(u.Path), ".m3u8")
}
