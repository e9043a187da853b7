// Package decoder implements the MediaDecoder port: a source URL goes in,
// transcoded PCM comes out on a named-pipe sink that Snapcast reads from.
// Two implementations exist, selected by build tag: a CGO libVLC decoder
// for the arm64/linux production target, and a subprocess decoder (cvlc)
// for everywhere else.
package decoder

import (
	"context"
	"fmt"
	"time"
)

// State mirrors the decoder-visible subset of ZonePlayer's state machine.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateBuffering
	StatePlaying
	StatePaused
	StateEnded
	StateError
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// BitDepth is restricted to the four codecs the transcode spec supports.
type BitDepth int

const (
	Bits8 BitDepth = 8
	Bits16 BitDepth = 16
	Bits24 BitDepth = 24
	Bits32 BitDepth = 32
)

// Codec returns the libVLC sout transcode audio codec name for the depth:
// 8->u8, 16->s16l, 24->s24l, 32->s32l.
func (b BitDepth) Codec() (string, error) {
	switch b {
	case Bits8:
		return "u8", nil
	case Bits16:
		return "s16l", nil
	case Bits24:
		return "s24l", nil
	case Bits32:
		return "s32l", nil
	default:
		return "", fmt.Errorf("unsupported bit depth %d", b)
	}
}

// TranscodeSpec is the fixed output format every zone decodes to, derived
// from the global AudioConfig.
type TranscodeSpec struct {
	SampleRate int
	BitDepth   BitDepth
	Channels   int
	SinkPath   string // named-pipe or file path Snapcast reads from
}

// Metadata is whatever the decoder could parse out of the source
// container; missing fields are left zero for ZonePlayer to fill from
// catalogue data.
type Metadata struct {
	Title    string
	Artist   string
	Album    string
	Duration time.Duration
}

// Notification is one update emitted on Decoder.Events — exactly one of
// the optional fields is meaningful, selected by Kind.
type NotificationKind int

const (
	NotifyState NotificationKind = iota
	NotifyPosition
	NotifyMetadata
	NotifyError
)

type Notification struct {
	Kind       NotificationKind
	State      State
	PositionMs uint64
	Progress   float32
	Metadata   *Metadata
	Err        error
}

// Decoder is the port ZonePlayer drives; the two build-tag-selected
// implementations satisfy it identically.
type Decoder interface {
	// Start begins streaming url, transcoding to spec, and writing to
	// spec.SinkPath. seekable marks whether the source supports SeekMs
	// (false for continuous radio streams); Seekable() reports it back
	// once Start has been called. Events are delivered on the channel
	// returned by Events until Stop is called or the stream ends/errors.
	Start(ctx context.Context, url string, spec TranscodeSpec, seekable bool) error

	// Stop cancels the in-flight stream, if any; safe to call repeatedly.
	Stop()

	// Seekable reports whether the current source supports seeking
	// (false for continuous HTTP radio).
	Seekable() bool

	// SeekMs seeks to an absolute position; returns an error if !Seekable().
	SeekMs(ctx context.Context, ms uint64) error

	// Events returns the notification channel for this decoder instance.
	// It is closed when the decoder releases its resources.
	Events() <-chan Notification

	// Release frees any native resources. The decoder is not reusable
	// after Release.
	Release()
}
