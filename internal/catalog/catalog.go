// Package catalog implements the MediaCatalog port: resolving a playlist
// or track reference into a streamable URL plus whatever metadata is
// available ahead of decode. Three sources are wired: a static radio
// catalogue from config, a hand-rolled Subsonic REST client, and a
// watched local library directory.
package catalog

import (
	"context"
	"fmt"

	"github.com/snapdog/snapdog/internal/apperr"
	"github.com/snapdog/snapdog/internal/zone"
)

// MediaCatalog resolves playlist/track identifiers into playable tracks.
// It never decodes or streams audio itself — that's internal/decoder's
// job, driven by ZonePlayer once a URL is in hand.
type MediaCatalog interface {
	// Playlist returns the named playlist's track list, in order.
	Playlist(ctx context.Context, id string) (zone.Playlist, error)

	// Playlists lists every playlist this catalogue currently knows
	// about (radio stations, local-library playlists, and any configured
	// Subsonic playlists).
	Playlists(ctx context.Context) ([]zone.Playlist, error)
}

// Multi composes several MediaCatalog sources, trying each in the order
// given and returning the first that recognizes the id.
type Multi struct {
	sources []MediaCatalog
}

// NewMulti builds a Multi from the given sources, highest priority first.
func NewMulti(sources ...MediaCatalog) *Multi {
	return &Multi{sources: sources}
}

func (m *Multi) Playlist(ctx context.Context, id string) (zone.Playlist, error) {
	var lastErr error
	for _, src := range m.sources {
		pl, err := src.Playlist(ctx, id)
		if err == nil {
			return pl, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = apperr.New(apperr.KindNotFound, "catalog.playlist", fmt.Errorf("playlist %q not found in any source", id))
	}
	return zone.Playlist{}, lastErr
}

func (m *Multi) Playlists(ctx context.Context) ([]zone.Playlist, error) {
	var all []zone.Playlist
	for _, src := range m.sources {
		pls, err := src.Playlists(ctx)
		if err != nil {
			continue
		}
		all = append(all, pls...)
	}
	return all, nil
}
