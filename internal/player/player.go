// Package player implements ZonePlayer, the per-zone media pipeline: one
// playback context per zone, streaming a resolved track URL through a
// MediaDecoder that transcodes to fixed PCM and writes it to the zone's
// named-pipe sink. A single owning goroutine per zone serializes both
// command handling and decoder notification processing, so zone state
// is only ever touched by one goroutine at a time.
package player

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapdog/snapdog/internal/apperr"
	"github.com/snapdog/snapdog/internal/catalog"
	"github.com/snapdog/snapdog/internal/command"
	"github.com/snapdog/snapdog/internal/decoder"
	"github.com/snapdog/snapdog/internal/zone"
)

// EventSink receives StatusEvents a ZonePlayer emits outside of a direct
// command reply — track metadata merges, position ticks, stuck-position
// warnings. Satisfied by *bus.Dispatcher without player importing bus.
type EventSink interface {
	Publish(ctx context.Context, ev command.StatusEvent) error
}

// DecoderFactory builds a fresh Decoder instance; ZonePlayer calls it on
// every Start because a decoder is not reusable once Stopped/Released,
// per spec.md §4.1 "Stopped is the only terminal state that triggers
// release of the decoder instance."
type DecoderFactory func() (decoder.Decoder, error)

// startupTimeout bounds how long Start waits for the decoder to leave
// Opening/Buffering before failing StartupTimeout.
const startupTimeout = 10 * time.Second

// positionCheckInterval / positionStuckChecks implement the "position
// remains 0 while Playing for >= 15s (3 consecutive 5s checks)" rule.
const (
	positionCheckInterval = 5 * time.Second
	positionStuckChecks   = 3
)

// streamStatusTraceEvery emits a debug trace roughly every 30s while a
// continuous HTTP source is playing.
const streamStatusTraceEvery = 30 * time.Second

type zoneRequest struct {
	ctx   context.Context
	cmd   command.Command
	reply chan zoneReply
}

type zoneReply struct {
	events []command.StatusEvent
	err    error
}

// ZonePlayer owns one zone's playback context.
type ZonePlayer struct {
	index    uint32
	audio    decoder.TranscodeSpec // SinkPath is set per instance, rest from config
	newDecoder DecoderFactory
	catalog  catalog.MediaCatalog
	sink     EventSink
	log      zerolog.Logger

	reqCh chan zoneRequest

	state *zone.ZoneState

	dec          decoder.Decoder
	decEvents    <-chan decoder.Notification
	zeroStreak   int
	sinceTrace   time.Duration
	playlistIdx  int // index of CurrentTrack within state.Playlist.Tracks
}

// New builds a ZonePlayer for one configured zone. audio carries the
// global AudioConfig-derived sample rate/bit depth/channel count;
// SinkPath is set once here from sinkPath, the zone's configured sink.
func New(index uint32, name, sinkPath string, audio decoder.TranscodeSpec, newDecoder DecoderFactory, cat catalog.MediaCatalog, sink EventSink, log zerolog.Logger) *ZonePlayer {
	audio.SinkPath = sinkPath
	return &ZonePlayer{
		index:      index,
		audio:      audio,
		newDecoder: newDecoder,
		catalog:    cat,
		sink:       sink,
		log:        log.With().Uint32("zone", index).Logger(),
		reqCh:      make(chan zoneRequest, 8),
		state:      zone.NewZoneState(index, name, sinkPath),
	}
}

// Index satisfies bus.ZoneEngine.
func (z *ZonePlayer) Index() uint32 { return z.index }

// Snapshot satisfies bus.ZoneEngine: a value copy safe for concurrent readers.
func (z *ZonePlayer) Snapshot() zone.ZoneState { return z.state.Snapshot() }

// Submit enqueues cmd onto the zone's own goroutine and blocks until it
// has been applied, satisfying bus.ZoneEngine's per-engine serialization
// guarantee.
func (z *ZonePlayer) Submit(ctx context.Context, cmd command.Command) ([]command.StatusEvent, error) {
	reply := make(chan zoneReply, 1)
	select {
	case z.reqCh <- zoneRequest{ctx: ctx, cmd: cmd, reply: reply}:
	case <-ctx.Done():
		return nil, apperr.New(apperr.KindCancelled, "zone.submit", ctx.Err())
	}
	select {
	case r := <-reply:
		return r.events, r.err
	case <-ctx.Done():
		return nil, apperr.New(apperr.KindCancelled, "zone.submit", ctx.Err())
	}
}

// Run is the zone's owning goroutine; callers start it once at daemon
// startup and cancel ctx to stop it.
func (z *ZonePlayer) Run(ctx context.Context) {
	ticker := time.NewTicker(positionCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if z.dec != nil {
				z.dec.Release()
			}
			return

		case req := <-z.reqCh:
			events, err := z.handle(req.ctx, req.cmd)
			req.reply <- zoneReply{events: events, err: err}

		case note, ok := <-z.decEvents:
			if !ok {
				continue
			}
			for _, ev := range z.handleDecoderNotification(note) {
				z.emit(ctx, ev)
			}

		case <-ticker.C:
			z.sinceTrace += positionCheckInterval
			if ev, stuck := z.checkPositionStuck(); stuck {
				z.emit(ctx, ev)
			}
			if z.state.Playback == zone.Playing && z.sinceTrace >= streamStatusTraceEvery {
				z.sinceTrace = 0
				z.log.Debug().Uint64("position_ms", z.state.PositionMs).Msg("StreamStatus")
			}
		}
	}
}

func (z *ZonePlayer) emit(ctx context.Context, ev command.StatusEvent) {
	if z.sink == nil {
		return
	}
	if err := z.sink.Publish(ctx, ev); err != nil {
		z.log.Warn().Err(err).Msg("failed to publish zone status event")
	}
}

func (z *ZonePlayer) handle(ctx context.Context, cmd command.Command) ([]command.StatusEvent, error) {
	switch cmd.Kind {
	case command.CmdPlay:
		return z.doPlay(ctx, cmd)
	case command.CmdPause:
		return z.doPause(ctx)
	case command.CmdStop:
		return z.doStop(ctx)
	case command.CmdNext:
		return z.doSkip(ctx, 1)
	case command.CmdPrev:
		return z.doSkip(ctx, -1)
	case command.CmdSeekMs:
		return z.doSeekMs(ctx, cmd.PositionMs)
	case command.CmdSeekProgress:
		return z.doSeekProgress(ctx, cmd.Progress)
	case command.CmdSetVolume:
		return z.doSetVolume(cmd.Volume)
	case command.CmdSetMute:
		return z.doSetMute(cmd.Bool)
	case command.CmdSetShuffle:
		z.state.Shuffle = cmd.Bool
		return []command.StatusEvent{z.event(command.EvtShuffleChanged)}, nil
	case command.CmdSetRepeatTrack:
		z.state.RepeatTrack = cmd.Bool
		return []command.StatusEvent{z.event(command.EvtRepeatTrackChanged)}, nil
	case command.CmdSetRepeatPlaylist:
		z.state.RepeatPlaylist = cmd.Bool
		return []command.StatusEvent{z.event(command.EvtRepeatPlaylistChanged)}, nil
	case command.CmdSelectPlaylist:
		return z.doSelectPlaylist(ctx, cmd.PlaylistID)
	default:
		return nil, apperr.New(apperr.KindInvalidState, "zone.handle", fmt.Errorf("command kind %d not valid for a zone", cmd.Kind))
	}
}

func (z *ZonePlayer) event(kind command.StatusKind) command.StatusEvent {
	return command.StatusEvent{
		Kind:           kind,
		ZoneIndex:      z.index,
		EmittedAt:      time.Now(),
		Track:          z.state.CurrentTrack,
		Playback:       z.state.Playback,
		PositionMs:     z.state.PositionMs,
		Progress:       progressOf(z.state),
		Volume:         z.state.Volume,
		Muted:          z.state.Muted,
		Shuffle:        z.state.Shuffle,
		RepeatTrack:    z.state.RepeatTrack,
		RepeatPlaylist: z.state.RepeatPlaylist,
	}
}

func progressOf(s *zone.ZoneState) float32 {
	if s.DurationMs == nil || *s.DurationMs == 0 {
		return 0
	}
	return float32(s.PositionMs) / float32(*s.DurationMs)
}
