package candidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	uaSafariMac = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"
	uaIOSChrome = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/123.0 Mobile/15E148 Safari/604.1"
	uaChrome    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0 Safari/537.36"
	uaFirefox   = "Mozilla/5.0 (X11; Linux x86_64; rv:124.0) Gecko/20100101 Firefox/124.0"
	uaAndroid   = "Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Safari/537.36"
)

func TestDetectProfile(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want Profile
	}{
		{"desktop safari", uaSafariMac, ProfileSafari},
		{"ios chrome is webkit", uaIOSChrome, ProfileSafari},
		{"chrome", uaChrome, ProfileGeneric},
		{"firefox", uaFirefox, ProfileGeneric},
		{"android webview", uaAndroid, ProfileGeneric},
		{"curl", "curl/8.5.0", ProfileGeneric},
		{"empty", "", ProfileGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectProfile(tt.ua))
		})
	}
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile("Safari")
	require.NoError(t, err)
	assert.Equal(t, ProfileSafari, p)

	p, err = ParseProfile("auto")
	require.NoError(t, err)
	assert.Equal(t, Profile(""), p)

	_, err = ParseProfile("opera")
	assert.Error(t, err)
}

func TestBuild_ProfileOrdering(t *testing.T) {
	src := Source{
		StreamURL:    "https://radio.example.org/live.mp3",
		SegmentedURL: "https://radio.example.org/live.m3u8",
		Mirrors:      []string{"https://mirror.example.org/live.mp3"},
	}

	safari := Build(src, ProfileSafari)
	assert.Equal(t, []string{
		"https://radio.example.org/live.m3u8",
		"https://radio.example.org/live.mp3",
		"https://mirror.example.org/live.mp3",
	}, safari.URLs())

	generic := Build(src, ProfileGeneric)
	assert.Equal(t, []string{
		"https://radio.example.org/live.mp3",
		"https://radio.example.org/live.m3u8",
		"https://mirror.example.org/live.mp3",
	}, generic.URLs())
	assert.False(t, generic.TokenBearing())
}

func TestBuild_SkipsEmptyAndDuplicates(t *testing.T) {
	src := Source{
		StreamURL: "https://radio.example.org/live.mp3",
		Mirrors:   []string{"", "https://radio.example.org/live.mp3", " https://mirror.example.org/a "},
	}

	l := Build(src, ProfileGeneric)
	assert.Equal(t, []string{"https://radio.example.org/live.mp3", "https://mirror.example.org/a"}, l.URLs())
}

func TestBuild_TokenBearingSingleEntry(t *testing.T) {
	src := Source{
		StreamURL:    "https://stream.zeno.fm/abc123",
		SegmentedURL: "https://ignored.example.org/live.m3u8",
		Mirrors:      []string{"https://ignored.example.org/a"},
		TokenBearing: true,
	}

	for _, p := range []Profile{ProfileGeneric, ProfileSafari} {
		l := Build(src, p)
		assert.True(t, l.TokenBearing())
		require.Equal(t, 1, l.Len())
		assert.Equal(t, "https://stream.zeno.fm/abc123", l.At(0))
	}
}

func TestList_URLsIsCopy(t *testing.T) {
	l := Build(Source{StreamURL: "https://a.example.org"}, ProfileGeneric)
	urls := l.URLs()
	urls[0] = "mutated"
	assert.Equal(t, "https://a.example.org", l.At(0))
}

func TestIsTokenProvider(t *testing.T) {
	hosts := []string{"stream.zeno.fm"}

	assert.True(t, IsTokenProvider("https://stream.zeno.fm/abc123", hosts))
	assert.True(t, IsTokenProvider("https://edge1.stream.zeno.fm/abc123", hosts))
	assert.False(t, IsTokenProvider("https://notstream.zeno.fm/abc123", hosts))
	assert.False(t, IsTokenProvider("https://radio.example.org/live.mp3", hosts))
	assert.False(t, IsTokenProvider("::", hosts))
}
