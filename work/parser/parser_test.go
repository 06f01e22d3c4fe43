package parser

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kptv-player/work/types"
)

const samplePlaylist = `#EXTM3U
#EXTINF:-1 tvg-id="espn.us" tvg-logo="http://logos.test/espn.png" group-title="US Sports HD",ESPN
http://cdn.test/live/espn.m3u8
#EXTINF:-1 group-title="Drama Series Vol.2",Night Shift
http://cdn.test/series/nightshift

#EXTINF:5400 tvg-id="mv1" group-title="Cinema" url="http://cdn.test/a.m3u8" stream_url="http://cdn.test/b.m3u8",The Movie Film
http://cdn.test/vod/mv1.mp4
#EXTINF:-1 tvg-id="plain",Channel Nine
rtmp://cdn.test/live/nine
`

func TestParsePlaylistBuildsEntriesInOrder(t *testing.T) {
	entries, warnings, err := ParsePlaylist(strings.NewReader(samplePlaylist))
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Len(t, entries, 4)

	espn := entries[0]
	assert.Equal(t, "espn.us", espn.ID)
	assert.Equal(t, "ESPN", espn.DisplayName)
	assert.Equal(t, "http://logos.test/espn.png", espn.LogoURL)
	assert.Equal(t, "US Sports HD", espn.GroupLabel)
	assert.Equal(t, types.ContentLiveChannel, espn.Type)
	assert.Equal(t, "http://cdn.test/live/espn.m3u8", espn.ResolvedPlayURL)
	assert.True(t, espn.Playable)
	assert.Equal(t, float64(-1), espn.Duration)

	series := entries[1]
	assert.Equal(t, types.ContentSeriesContainer, series.Type)
	assert.Len(t, series.ID, 16)

	movie := entries[2]
	assert.Equal(t, types.ContentMovie, movie.Type)
	assert.Equal(t, "http://cdn.test/b.m3u8", movie.ResolvedPlayURL)
	assert.Equal(t, float64(5400), movie.Duration)

	plain := entries[3]
	assert.Equal(t, types.ContentLiveChannel, plain.Type)
	assert.Equal(t, "rtmp://cdn.test/live/nine", plain.Locator)
}

func TestParsePlaylistEmptyDocument(t *testing.T) {
	entries, warnings, err := ParsePlaylist(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, warnings)

	entries, warnings, err = ParsePlaylist(strings.NewReader("#EXTM3U\n"))
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, warnings)
}

func TestParsePlaylistDropsOrphanedDirectives(t *testing.T) {
	doc := `#EXTM3U
#EXTINF:-1 tvg-id="lost",Lost Channel
#EXTINF:-1 tvg-id="kept",Kept Channel
http://cdn.test/kept
http://cdn.test/no-directive
#EXTINF:-1 tvg-id="tail",Tail Channel
`
	entries, warnings, err := ParsePlaylist(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].ID)

	require.Len(t, warnings, 2)
	assert.Equal(t, 2, warnings[0].Line)
	assert.Equal(t, 6, warnings[1].Line)
}

func TestParsePlaylistIsDeterministic(t *testing.T) {
	first, _, _ := ParsePlaylist(strings.NewReader(samplePlaylist))
	second, _, _ := ParsePlaylist(strings.NewReader(samplePlaylist))
	assert.Equal(t, first, second)
}

func TestParsePlaylistReadErrorDiscardsEntries(t *testing.T) {
	readErr := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader(samplePlaylist), iotest.ErrReader(readErr))

	entries, _, err := ParsePlaylist(r)
	require.ErrorIs(t, err, readErr)
	assert.Nil(t, entries)
}

func TestParseEXTINFQuotedValues(t *testing.T) {
	attrs := ParseEXTINF(`#EXTINF:-1 tvg-id="a.b" tvg-name="Name, With Comma" group-title="News & Weather" tvg-chno=7,Display`)

	assert.Equal(t, "-1", attrs["duration"])
	assert.Equal(t, "a.b", attrs["tvg-id"])
	assert.Equal(t, "Name, With Comma", attrs["tvg-name"])
	assert.Equal(t, "News & Weather", attrs["group-title"])
	assert.Equal(t, "7", attrs["tvg-chno"])
	assert.Equal(t, "Display", attrs["display-name"])
}

func TestClassify(t *testing.T) {
	cases := []struct {
		group, name string
		want        types.ContentType
	}{
		{"US Sports HD", "", types.ContentLiveChannel},
		{"Drama Series Vol.2", "", types.ContentSeriesContainer},
		{"Movies", "", types.ContentMovie},
		{"", "Evening NEWS", types.ContentLiveChannel},
		{"", "Great Film", types.ContentMovie},
		{"", "The Late Show", types.ContentSeriesContainer},
		{"Entertainment", "Channel 4", types.ContentLiveChannel},
		{"", "", types.ContentLiveChannel},
		// group wins over name
		{"Movies", "Talk Show", types.ContentMovie},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.group, tc.name), "group=%q name=%q", tc.group, tc.name)
	}
}

func TestResolvePlayURLPriority(t *testing.T) {
	assert.Equal(t, "B", ResolvePlayURL(map[string]string{"url": "A", "stream_url": "B"}, "L"))
	assert.Equal(t, "P", ResolvePlayURL(map[string]string{"play_url": "P", "stream_url": "B"}, "L"))
	assert.Equal(t, "S", ResolvePlayURL(map[string]string{"source": "S", "m3u8": " "}, "L"))
	assert.Equal(t, "L", ResolvePlayURL(map[string]string{}, "L"))
	assert.Equal(t, "", ResolvePlayURL(nil, ""))
}

func TestEntryIDStable(t *testing.T) {
	a := EntryID("Channel", "http://x")
	assert.Equal(t, a, EntryID("Channel", "http://x"))
	assert.NotEqual(t, a, EntryID("Channel", "http://y"))
	assert.Len(t, a, 16)
}
