package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapdog/snapdog/internal/apperr"
	"github.com/snapdog/snapdog/internal/zone"
)

func TestRadioCatalogPlaylist(t *testing.T) {
	c := NewRadioCatalog([]RadioStation{
		{ID: "jazz", Name: "Jazz FM", URL: "http://example.com/jazz.mp3"},
	})

	pl, err := c.Playlist(context.Background(), "jazz")
	require.NoError(t, err)
	assert.Equal(t, "Jazz FM", pl.Name)
	require.Len(t, pl.Tracks, 1)
	assert.Equal(t, zone.SourceRadio, pl.Tracks[0].Source)
	assert.Equal(t, "http://example.com/jazz.mp3", pl.Tracks[0].URL)
}

func TestRadioCatalogNotFound(t *testing.T) {
	c := NewRadioCatalog(nil)
	_, err := c.Playlist(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

type stubSource struct {
	playlists map[string]zone.Playlist
}

func (s stubSource) Playlist(ctx context.Context, id string) (zone.Playlist, error) {
	pl, ok := s.playlists[id]
	if !ok {
		return zone.Playlist{}, apperr.New(apperr.KindNotFound, "stub", nil)
	}
	return pl, nil
}

func (s stubSource) Playlists(ctx context.Context) ([]zone.Playlist, error) {
	out := make([]zone.Playlist, 0, len(s.playlists))
	for _, pl := range s.playlists {
		out = append(out, pl)
	}
	return out, nil
}

func TestMultiFallsThroughSources(t *testing.T) {
	first := stubSource{playlists: map[string]zone.Playlist{"a": {ID: "a", Name: "A"}}}
	second := stubSource{playlists: map[string]zone.Playlist{"b": {ID: "b", Name: "B"}}}

	m := NewMulti(first, second)

	pl, err := m.Playlist(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, "B", pl.Name)

	_, err = m.Playlist(context.Background(), "missing")
	require.Error(t, err)
}
