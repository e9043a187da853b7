//go:build linux && arm64

// Production decoder: CGO bindings to libVLC, transcoding to PCM via a
// sout chain instead of rendering to a display.
package decoder

import (
	"context"
	"fmt"
	"sync"
	"time"

	libvlc "github.com/adrg/libvlc-go/v3"
)

var vlcInitOnce sync.Once
var vlcInitErr error

type libVLCDecoder struct {
	mu       sync.Mutex
	player   *libvlc.Player
	media    *libvlc.Media
	events   chan Notification
	seekable bool
	stopped  chan struct{}
}

// NewLibVLCDecoder builds the production (CGO) Decoder implementation.
func NewLibVLCDecoder() (Decoder, error) {
	vlcInitOnce.Do(func() {
		vlcInitErr = libvlc.Init(
			"--intf=dummy",
			"--no-interact",
			"--no-video",
			"--no-dbus",
			"--file-caching=3000",
			"--network-caching=3000",
			"--live-caching=3000",
			"--quiet",
		)
	})
	if vlcInitErr != nil {
		return nil, fmt.Errorf("libvlc init failed: %w", vlcInitErr)
	}

	player, err := libvlc.NewPlayer()
	if err != nil {
		return nil, fmt.Errorf("player creation failed: %w", err)
	}

	return &libVLCDecoder{
		player: player,
		events: make(chan Notification, 32),
	}, nil
}

func (d *libVLCDecoder) Start(ctx context.Context, url string, spec TranscodeSpec, seekable bool) error {
	codec, err := spec.BitDepth.Codec()
	if err != nil {
		return err
	}

	sout := fmt.Sprintf(
		":sout=#transcode{acodec=%s,channels=%d,samplerate=%d}:std{access=file,mux=raw,dst=%s}",
		codec, spec.Channels, spec.SampleRate, spec.SinkPath,
	)
	// sout-all: keep writing even if the named pipe has no reader yet.
	soutAll := ":sout-all"

	media, err := libvlc.NewMediaFromURL(url)
	if err != nil {
		return fmt.Errorf("media creation failed: %w", err)
	}
	if err := media.AddOptions(sout, soutAll); err != nil {
		media.Release()
		return fmt.Errorf("adding sout options failed: %w", err)
	}

	d.mu.Lock()
	if d.media != nil {
		d.media.Release()
	}
	d.media = media
	d.seekable = seekable
	d.stopped = make(chan struct{})
	d.mu.Unlock()

	if err := d.player.SetMedia(media); err != nil {
		return fmt.Errorf("set media failed: %w", err)
	}

	d.emit(Notification{Kind: NotifyState, State: StateOpening})

	if err := d.player.Play(); err != nil {
		return fmt.Errorf("play failed: %w", err)
	}

	go d.pump(ctx)
	return nil
}

// pump polls playback position and emits notifications the way
// ZonePlayer's position-tracking policy expects: percentage and time,
// debounced to roughly one update per second.
func (d *libVLCDecoder) pump(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopped:
			return
		case <-ticker.C:
			state, err := d.player.MediaState()
			if err != nil {
				continue
			}
			switch state {
			case libvlc.MediaPlaying:
				d.emit(Notification{Kind: NotifyState, State: StatePlaying})
				if pos, err := d.player.MediaPosition(); err == nil {
					d.emit(Notification{Kind: NotifyPosition, Progress: pos})
				}
				if ms, err := d.player.MediaTime(); err == nil {
					d.emit(Notification{Kind: NotifyPosition, PositionMs: uint64(ms)})
				}
			case libvlc.MediaEnded:
				d.emit(Notification{Kind: NotifyState, State: StateEnded})
				return
			case libvlc.MediaError:
				d.emit(Notification{Kind: NotifyError, Err: fmt.Errorf("libvlc reported media error")})
				return
			}
		}
	}
}

func (d *libVLCDecoder) emit(n Notification) {
	select {
	case d.events <- n:
	default:
	}
}

func (d *libVLCDecoder) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.player != nil {
		d.player.Stop()
	}
	select {
	case <-d.stopped:
	default:
		if d.stopped != nil {
			close(d.stopped)
		}
	}
}

func (d *libVLCDecoder) Seekable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seekable
}

func (d *libVLCDecoder) SeekMs(ctx context.Context, ms uint64) error {
	if !d.Seekable() {
		return fmt.Errorf("source is not seekable")
	}
	return d.player.SetMediaTime(int(ms))
}

func (d *libVLCDecoder) Events() <-chan Notification { return d.events }

func (d *libVLCDecoder) Release() {
	d.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.media != nil {
		d.media.Release()
		d.media = nil
	}
	if d.player != nil {
		d.player.Release()
		d.player = nil
	}
	close(d.events)
}
