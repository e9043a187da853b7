package player

import (
	"context"
	"time"

	"github.com/snapdog/snapdog/internal/apperr"
	"github.com/snapdog/snapdog/internal/command"
	"github.com/snapdog/snapdog/internal/decoder"
	"github.com/snapdog/snapdog/internal/zone"
)

// doPlay implements spec.md §4.1 start(): stop any in-flight stream,
// resolve the track to play, hand it to a fresh decoder instance, and
// wait for it to leave Opening/Buffering within startupTimeout.
func (z *ZonePlayer) doPlay(ctx context.Context, cmd command.Command) ([]command.StatusEvent, error) {
	if z.dec != nil {
		z.dec.Stop()
		z.dec.Release()
		z.dec = nil
		z.decEvents = nil
	}

	track, idx, err := z.resolveTrack(ctx, cmd)
	if err != nil {
		return nil, err
	}

	dec, err := z.newDecoder()
	if err != nil {
		return nil, apperr.New(apperr.KindInternal, "zone.play", err)
	}

	if err := dec.Start(ctx, track.URL, z.audio, track.Source != zone.SourceRadio); err != nil {
		dec.Release()
		return nil, apperr.New(apperr.KindTransport, "zone.play", err)
	}

	z.dec = dec
	z.decEvents = dec.Events()
	z.playlistIdx = idx
	z.zeroStreak = 0

	if err := z.awaitStartup(ctx, dec); err != nil {
		z.dec.Stop()
		z.dec.Release()
		z.dec = nil
		z.decEvents = nil
		z.state.Playback = zone.Stopped
		return nil, err
	}

	z.state.Playback = zone.Playing
	z.state.CurrentTrack = &track
	z.state.PositionMs = 0
	z.state.DurationMs = track.DurationMs

	return []command.StatusEvent{
		z.event(command.EvtPlaybackStarted),
		z.event(command.EvtTrackChanged),
	}, nil
}

// resolveTrack picks the track to play for cmd: an explicit TrackIndex
// within the current playlist, or the current/first track when none is
// given. A zone with no playlist loaded yet cannot Play without one.
func (z *ZonePlayer) resolveTrack(ctx context.Context, cmd command.Command) (zone.TrackInfo, int, error) {
	if z.state.Playlist == nil {
		return zone.TrackInfo{}, 0, apperr.New(apperr.KindInvalidState, "zone.play", errNoPlaylist)
	}
	tracks := z.state.Playlist.Tracks
	if len(tracks) == 0 {
		return zone.TrackInfo{}, 0, apperr.New(apperr.KindInvalidState, "zone.play", errNoPlaylist)
	}

	idx := z.playlistIdx
	if cmd.TrackIndex != nil {
		idx = *cmd.TrackIndex
	}
	if idx < 0 || idx >= len(tracks) {
		return zone.TrackInfo{}, 0, apperr.New(apperr.KindNotFound, "zone.play", errTrackIndex)
	}
	return tracks[idx], idx, nil
}

// awaitStartup blocks on dec's notification channel until it reports
// Playing (success), Error or Ended (failure), or startupTimeout elapses.
func (z *ZonePlayer) awaitStartup(ctx context.Context, dec decoder.Decoder) error {
	deadline := time.NewTimer(startupTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return apperr.New(apperr.KindCancelled, "zone.play.startup", ctx.Err())
		case <-deadline.C:
			return apperr.StartupTimeout("zone.play.startup")
		case note, ok := <-dec.Events():
			if !ok {
				return apperr.StartupTimeout("zone.play.startup")
			}
			switch note.Kind {
			case decoder.NotifyState:
				switch note.State {
				case decoder.StatePlaying:
					return nil
				case decoder.StateError, decoder.StateEnded:
					return apperr.New(apperr.KindTransport, "zone.play.startup", errDecoderFailedToStart)
				}
			case decoder.NotifyError:
				return apperr.New(apperr.KindTransport, "zone.play.startup", note.Err)
			}
		}
	}
}

// doStop implements spec.md §4.1 stop(): cancel the decoder, transition
// to Stopped, release native resources (the only state from which the
// decoder is released).
func (z *ZonePlayer) doStop(ctx context.Context) ([]command.StatusEvent, error) {
	if z.dec != nil {
		z.dec.Stop()
		z.dec.Release()
		z.dec = nil
		z.decEvents = nil
	}
	z.state.Playback = zone.Stopped
	z.state.PositionMs = 0
	return []command.StatusEvent{z.event(command.EvtPlaybackStopped)}, nil
}

// doPause implements the open-question resolution recorded in
// DESIGN.md: for continuous radio sources, Pause behaves like Stop; for
// seekable (Subsonic/file) sources it suspends while retaining position.
func (z *ZonePlayer) doPause(ctx context.Context) ([]command.StatusEvent, error) {
	if z.state.Playback != zone.Playing {
		return []command.StatusEvent{z.event(command.EvtPlaybackPaused)}, nil
	}

	seekable := z.dec != nil && z.dec.Seekable()
	if !seekable {
		if _, err := z.doStop(ctx); err != nil {
			return nil, err
		}
		return []command.StatusEvent{z.event(command.EvtPlaybackPaused)}, nil
	}

	z.dec.Stop()
	z.state.Playback = zone.Paused
	return []command.StatusEvent{z.event(command.EvtPlaybackPaused)}, nil
}

// doSkip moves the playlist cursor by delta (+1 Next, -1 Prev) and plays
// the resulting track, wrapping within bounds only when RepeatPlaylist.
func (z *ZonePlayer) doSkip(ctx context.Context, delta int) ([]command.StatusEvent, error) {
	if z.state.Playlist == nil || len(z.state.Playlist.Tracks) == 0 {
		return nil, apperr.New(apperr.KindInvalidState, "zone.skip", errNoPlaylist)
	}
	n := len(z.state.Playlist.Tracks)
	next := z.playlistIdx + delta
	switch {
	case next < 0:
		if !z.state.RepeatPlaylist {
			return nil, apperr.New(apperr.KindInvalidState, "zone.skip", errAtStart)
		}
		next = n - 1
	case next >= n:
		if !z.state.RepeatPlaylist {
			return nil, apperr.New(apperr.KindInvalidState, "zone.skip", errAtEnd)
		}
		next = 0
	}
	idx := next
	return z.doPlay(ctx, command.Command{ZoneIndex: z.index, TrackIndex: &idx})
}

// doSeekMs / doSeekProgress implement spec.md §4.1 seek: forwarded to the
// decoder iff seekable, else NotSeekable.
func (z *ZonePlayer) doSeekMs(ctx context.Context, ms uint64) ([]command.StatusEvent, error) {
	if z.dec == nil || !z.dec.Seekable() {
		return nil, apperr.NotSeekable("zone.seek_ms")
	}
	if err := z.dec.SeekMs(ctx, ms); err != nil {
		return nil, apperr.New(apperr.KindTransport, "zone.seek_ms", err)
	}
	z.state.PositionMs = ms
	return []command.StatusEvent{z.event(command.EvtPositionTick)}, nil
}

func (z *ZonePlayer) doSeekProgress(ctx context.Context, progress float32) ([]command.StatusEvent, error) {
	if z.state.DurationMs == nil {
		return nil, apperr.NotSeekable("zone.seek_progress")
	}
	ms := uint64(progress * float32(*z.state.DurationMs))
	return z.doSeekMs(ctx, ms)
}

// doSetVolume implements spec.md §3 ZoneState invariant: volume clamped
// 0..100.
func (z *ZonePlayer) doSetVolume(v uint8) ([]command.StatusEvent, error) {
	z.state.SetVolume(int(v))
	return []command.StatusEvent{z.event(command.EvtVolumeChanged)}, nil
}

func (z *ZonePlayer) doSetMute(muted bool) ([]command.StatusEvent, error) {
	z.state.Muted = muted
	return []command.StatusEvent{z.event(command.EvtMuteChanged)}, nil
}

// doSelectPlaylist loads id from the catalogue and replaces the zone's
// playlist, resetting the cursor to its first track without starting
// playback — the caller issues a separate Play to begin.
func (z *ZonePlayer) doSelectPlaylist(ctx context.Context, id string) ([]command.StatusEvent, error) {
	if z.catalog == nil {
		return nil, apperr.New(apperr.KindNotFound, "zone.select_playlist", errNoCatalog)
	}
	pl, err := z.catalog.Playlist(ctx, id)
	if err != nil {
		return nil, err
	}
	z.state.Playlist = &pl
	z.playlistIdx = 0
	return []command.StatusEvent{z.event(command.EvtPlaylistSelected)}, nil
}

// handleDecoderNotification processes one decoder.Notification, mutating
// zone state and returning the StatusEvents it produces (every position
// notification yields one PositionTick; no debouncing happens here, so
// the tick rate is the decoder's own notification rate).
func (z *ZonePlayer) handleDecoderNotification(note decoder.Notification) []command.StatusEvent {
	switch note.Kind {
	case decoder.NotifyPosition:
		if note.PositionMs > 0 || note.Progress > 0 {
			z.zeroStreak = 0
		}
		if note.PositionMs > 0 {
			z.state.PositionMs = note.PositionMs
		}
		return []command.StatusEvent{z.event(command.EvtPositionTick)}

	case decoder.NotifyMetadata:
		return z.mergeMetadata(note.Metadata)

	case decoder.NotifyState:
		switch note.State {
		case decoder.StateEnded:
			return z.onTrackEnded()
		case decoder.StateError:
			z.state.Playback = zone.Stopped
			return []command.StatusEvent{{
				Kind:        command.EvtError,
				ZoneIndex:   z.index,
				EmittedAt:   time.Now(),
				ErrorKind:   "transport",
				ErrorDetail: "decoder reported an error",
			}}
		}

	case decoder.NotifyError:
		z.state.Playback = zone.Stopped
		detail := ""
		if note.Err != nil {
			detail = note.Err.Error()
		}
		return []command.StatusEvent{{
			Kind:        command.EvtError,
			ZoneIndex:   z.index,
			EmittedAt:   time.Now(),
			ErrorKind:   "transport",
			ErrorDetail: detail,
		}}
	}
	return nil
}

// onTrackEnded advances to the next track when RepeatTrack/RepeatPlaylist
// allow it, otherwise stops.
func (z *ZonePlayer) onTrackEnded() []command.StatusEvent {
	if z.state.RepeatTrack {
		idx := z.playlistIdx
		events, err := z.doPlay(context.Background(), command.Command{ZoneIndex: z.index, TrackIndex: &idx})
		if err != nil {
			z.state.Playback = zone.Stopped
			return []command.StatusEvent{z.event(command.EvtPlaybackStopped)}
		}
		return events
	}
	if z.state.Playlist != nil && z.playlistIdx+1 < len(z.state.Playlist.Tracks) {
		events, err := z.doSkip(context.Background(), 1)
		if err != nil {
			z.state.Playback = zone.Stopped
			return []command.StatusEvent{z.event(command.EvtPlaybackStopped)}
		}
		return events
	}
	if z.state.RepeatPlaylist {
		events, err := z.doSkip(context.Background(), 1)
		if err == nil {
			return events
		}
	}
	z.state.Playback = zone.Stopped
	return []command.StatusEvent{z.event(command.EvtPlaybackStopped)}
}

// mergeMetadata fills in CurrentTrack fields the catalogue could not
// supply in advance (radio streams have no tags until the container is
// parsed), then re-emits TrackChanged exactly once per spec.md §4.1.
func (z *ZonePlayer) mergeMetadata(md *decoder.Metadata) []command.StatusEvent {
	if md == nil || z.state.CurrentTrack == nil {
		return nil
	}
	t := z.state.CurrentTrack
	changed := false
	if t.Title == "" && md.Title != "" {
		t.Title = md.Title
		changed = true
	}
	if t.Artist == "" && md.Artist != "" {
		t.Artist = md.Artist
		changed = true
	}
	if t.Album == "" && md.Album != "" {
		t.Album = md.Album
		changed = true
	}
	if t.DurationMs == nil && md.Duration > 0 {
		// A container-reported zero length is overridden by catalogue
		// metadata elsewhere; here the decoder is the only source, so
		// any positive duration it reports is authoritative.
		ms := uint64(md.Duration.Milliseconds())
		t.DurationMs = &ms
		z.state.DurationMs = &ms
		changed = true
	}
	if !changed {
		return nil
	}
	return []command.StatusEvent{z.event(command.EvtTrackChanged)}
}

// checkPositionStuck implements spec.md §4.1: if position remains 0
// while Playing for >= 15s (3 consecutive 5s checks), emit a non-fatal
// Error{PositionStuck}.
func (z *ZonePlayer) checkPositionStuck() (command.StatusEvent, bool) {
	if z.state.Playback != zone.Playing {
		z.zeroStreak = 0
		return command.StatusEvent{}, false
	}
	if z.state.PositionMs != 0 {
		z.zeroStreak = 0
		return command.StatusEvent{}, false
	}
	z.zeroStreak++
	if z.zeroStreak < positionStuckChecks {
		return command.StatusEvent{}, false
	}
	z.zeroStreak = 0
	return command.StatusEvent{
		Kind:        command.EvtError,
		ZoneIndex:   z.index,
		EmittedAt:   time.Now(),
		ErrorKind:   "position_stuck",
		ErrorDetail: "playback position has not advanced",
	}, true
}
