package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapdog/snapdog/internal/zone"
)

func TestLocalCatalogScanFindsAudioFiles(t *testing.T) {
	dir := t.TempDir()

	files := []string{"bravo.mp3", "alpha.flac", "notes.txt", "charlie.ogg"}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	c, err := NewLocalCatalog(dir, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	pl, err := c.Playlist(context.Background(), localPlaylistID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pl.Tracks) != 3 {
		t.Fatalf("expected 3 audio tracks, got %d", len(pl.Tracks))
	}
	expected := []string{"alpha", "bravo", "charlie"}
	for i, title := range expected {
		if pl.Tracks[i].Title != title {
			t.Errorf("index %d: expected title %q, got %q", i, title, pl.Tracks[i].Title)
		}
		if pl.Tracks[i].Source != zone.SourceFile {
			t.Errorf("index %d: expected SourceFile, got %v", i, pl.Tracks[i].Source)
		}
	}
}

func TestLocalCatalogUnknownPlaylist(t *testing.T) {
	dir := t.TempDir()
	c, err := NewLocalCatalog(dir, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Playlist(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown playlist id")
	}
}

func TestLocalCatalogDetectsNewFile(t *testing.T) {
	dir := t.TempDir()
	c, err := NewLocalCatalog(dir, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "new.wav"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		pl, _ := c.Playlist(context.Background(), localPlaylistID)
		if len(pl.Tracks) == 1 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("timed out waiting for new file to appear in the library playlist")
}
