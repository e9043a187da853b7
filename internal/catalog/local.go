package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/snapdog/snapdog/internal/apperr"
	"github.com/snapdog/snapdog/internal/zone"
)

// localPlaylistID is the single playlist a LocalCatalog exposes: the
// full contents of its watched directory, in sorted filename order.
const localPlaylistID = "library"

var audioExts = map[string]bool{
	".flac": true,
	".mp3":  true,
	".ogg":  true,
	".opus": true,
	".wav":  true,
	".m4a":  true,
	".aac":  true,
}

func isAudioFile(name string) bool {
	return audioExts[strings.ToLower(filepath.Ext(name))]
}

// LocalCatalog serves a directory of local audio files as a single
// "library" playlist, kept current by watching the directory for
// create/remove/rename events rather than scanning once at startup.
type LocalCatalog struct {
	mu      sync.RWMutex
	dir     string
	tracks  []zone.TrackInfo
	watcher *fsnotify.Watcher
	log     zerolog.Logger
}

// NewLocalCatalog opens an fsnotify watch on dir and performs an initial
// scan before returning.
func NewLocalCatalog(dir string, log zerolog.Logger) (*LocalCatalog, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	c := &LocalCatalog{dir: dir, watcher: fw, log: log}
	c.scan()
	return c, nil
}

func (c *LocalCatalog) scan() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		c.log.Warn().Err(err).Str("dir", c.dir).Msg("library scan failed")
		return
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !isAudioFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	tracks := make([]zone.TrackInfo, len(names))
	for i, name := range names {
		tracks[i] = zone.TrackInfo{
			Index:  i,
			Title:  strings.TrimSuffix(name, filepath.Ext(name)),
			Source: zone.SourceFile,
			URL:    filepath.Join(c.dir, name),
		}
	}

	c.mu.Lock()
	c.tracks = tracks
	c.mu.Unlock()
	c.log.Info().Int("tracks", len(tracks)).Str("dir", c.dir).Msg("library rescanned")
}

// Run watches the directory until ctx is cancelled, rescanning on every
// relevant fsnotify event.
func (c *LocalCatalog) Run(ctx context.Context) error {
	if err := c.watcher.Add(c.dir); err != nil {
		c.watcher.Close()
		return err
	}
	defer c.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				c.scan()
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn().Err(err).Msg("library watch error")
		}
	}
}

func (c *LocalCatalog) Playlist(ctx context.Context, id string) (zone.Playlist, error) {
	if id != localPlaylistID {
		return zone.Playlist{}, apperr.New(apperr.KindNotFound, "library.playlist", errPlaylistNotFound(id))
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	tracks := make([]zone.TrackInfo, len(c.tracks))
	copy(tracks, c.tracks)
	return zone.Playlist{ID: localPlaylistID, Name: "Library", Tracks: tracks}, nil
}

func (c *LocalCatalog) Playlists(ctx context.Context) ([]zone.Playlist, error) {
	pl, _ := c.Playlist(ctx, localPlaylistID)
	return []zone.Playlist{pl}, nil
}

type errPlaylistNotFound string

func (e errPlaylistNotFound) Error() string { return "playlist not found: " + string(e) }
