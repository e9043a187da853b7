package player

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snapdog/snapdog/internal/command"
	"github.com/snapdog/snapdog/internal/decoder"
	"github.com/snapdog/snapdog/internal/zone"
)

// fakeDecoder is an in-memory Decoder double: no subprocess or CGO
// involved, so pause/seek semantics can be exercised hermetically.
type fakeDecoder struct {
	mu         sync.Mutex
	seekable   bool
	positionMs uint64
	stopped    bool
	released   bool
	seekCalls  int
	events     chan decoder.Notification
}

func newFakeDecoder() *fakeDecoder {
	return &fakeDecoder{events: make(chan decoder.Notification, 4)}
}

func (d *fakeDecoder) Start(ctx context.Context, url string, spec decoder.TranscodeSpec, seekable bool) error {
	d.mu.Lock()
	d.seekable = seekable
	d.stopped = false
	d.mu.Unlock()
	d.events <- decoder.Notification{Kind: decoder.NotifyState, State: decoder.StatePlaying}
	return nil
}

func (d *fakeDecoder) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
}

func (d *fakeDecoder) Seekable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seekable
}

func (d *fakeDecoder) SeekMs(ctx context.Context, ms uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.seekable {
		return errNotSeekable
	}
	d.seekCalls++
	d.positionMs = ms
	return nil
}

func (d *fakeDecoder) Events() <-chan decoder.Notification { return d.events }

func (d *fakeDecoder) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
}

type errString string

func (e errString) Error() string { return string(e) }

const errNotSeekable = errString("fakeDecoder: not seekable")

func newTestZone(dec *fakeDecoder, source zone.TrackSource) *ZonePlayer {
	z := New(0, "Test Zone", "/tmp/test-sink", decoder.TranscodeSpec{}, func() (decoder.Decoder, error) {
		return dec, nil
	}, nil, nil, zerolog.Nop())
	z.state.Playlist = &zone.Playlist{
		ID:   "pl",
		Name: "Test Playlist",
		Tracks: []zone.TrackInfo{
			{Index: 0, Title: "Track One", Source: source, URL: "http://example.invalid/stream"},
		},
	}
	return z
}

// TestPauseRetainsPositionForSeekableSource verifies spec.md §4.1: pausing
// a seekable (non-radio) source stops the decoder without releasing it,
// keeps the position, and a subsequent seek succeeds against the same
// decoder instance.
func TestPauseRetainsPositionForSeekableSource(t *testing.T) {
	dec := newFakeDecoder()
	z := newTestZone(dec, zone.SourceFile)
	ctx := context.Background()

	if _, err := z.doPlay(ctx, command.Command{ZoneIndex: 0}); err != nil {
		t.Fatalf("play: %v", err)
	}
	if !dec.Seekable() {
		t.Fatalf("expected decoder started with seekable=true for a SourceFile track")
	}

	z.state.PositionMs = 4200

	if _, err := z.doPause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if z.state.Playback != zone.Paused {
		t.Fatalf("expected Paused, got %v", z.state.Playback)
	}
	if !dec.stopped {
		t.Fatalf("expected decoder.Stop() to have been called on pause")
	}
	if dec.released {
		t.Fatalf("pausing a seekable source must not release the decoder")
	}
	if z.state.PositionMs != 4200 {
		t.Fatalf("expected position retained across pause, got %d", z.state.PositionMs)
	}

	if _, err := z.doSeekMs(ctx, 9000); err != nil {
		t.Fatalf("seek after pause: %v", err)
	}
	if z.state.PositionMs != 9000 {
		t.Fatalf("expected seeked position 9000, got %d", z.state.PositionMs)
	}
	if dec.seekCalls != 1 {
		t.Fatalf("expected exactly one SeekMs call, got %d", dec.seekCalls)
	}
}

// TestPauseStopsForNonSeekableRadioSource verifies the radio branch of the
// same open question: a continuous source has no position to retain, so
// Pause behaves like Stop and a later seek fails NotSeekable.
func TestPauseStopsForNonSeekableRadioSource(t *testing.T) {
	dec := newFakeDecoder()
	z := newTestZone(dec, zone.SourceRadio)
	ctx := context.Background()

	if _, err := z.doPlay(ctx, command.Command{ZoneIndex: 0}); err != nil {
		t.Fatalf("play: %v", err)
	}
	if dec.Seekable() {
		t.Fatalf("expected decoder started with seekable=false for a SourceRadio track")
	}

	if _, err := z.doPause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if z.state.Playback != zone.Stopped {
		t.Fatalf("expected radio pause to land in Stopped, got %v", z.state.Playback)
	}
	if !dec.released {
		t.Fatalf("expected decoder released when pausing a non-seekable source")
	}

	if _, err := z.doSeekMs(ctx, 1000); err == nil {
		t.Fatalf("expected NotSeekable error after stopping a radio source, got nil")
	}
}
