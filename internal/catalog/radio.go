package catalog

import (
	"context"

	"github.com/snapdog/snapdog/internal/apperr"
	"github.com/snapdog/snapdog/internal/zone"
)

// RadioStation is one statically configured internet radio stream.
type RadioStation struct {
	ID   string
	Name string
	URL  string
}

// RadioCatalog serves the config-defined set of radio stations as
// single-track playlists; radio streams have no duration and are not
// seekable, which ZonePlayer derives from TrackSource == SourceRadio.
type RadioCatalog struct {
	stations map[string]RadioStation
}

// NewRadioCatalog builds a RadioCatalog from the configured station list.
func NewRadioCatalog(stations []RadioStation) *RadioCatalog {
	c := &RadioCatalog{stations: make(map[string]RadioStation, len(stations))}
	for _, s := range stations {
		c.stations[s.ID] = s
	}
	return c
}

func (c *RadioCatalog) Playlist(ctx context.Context, id string) (zone.Playlist, error) {
	s, ok := c.stations[id]
	if !ok {
		return zone.Playlist{}, apperr.New(apperr.KindNotFound, "radio.playlist", errStationNotFound(id))
	}
	return zone.Playlist{
		ID:   s.ID,
		Name: s.Name,
		Tracks: []zone.TrackInfo{{
			Index:  0,
			Title:  s.Name,
			Source: zone.SourceRadio,
			URL:    s.URL,
		}},
	}, nil
}

func (c *RadioCatalog) Playlists(ctx context.Context) ([]zone.Playlist, error) {
	out := make([]zone.Playlist, 0, len(c.stations))
	for _, s := range c.stations {
		pl, _ := c.Playlist(ctx, s.ID)
		out = append(out, pl)
	}
	return out, nil
}

type errStationNotFound string

func (e errStationNotFound) Error() string { return "radio station not configured: " + string(e) }
