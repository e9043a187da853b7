package httpapi

import (
	"github.com/snapdog/snapdog/internal/command"
	"github.com/snapdog/snapdog/internal/zone"
)

// trackDTO is the wire shape of zone.TrackInfo.
type trackDTO struct {
	Index      int     `json:"index"`
	Title      string  `json:"title"`
	Artist     string  `json:"artist,omitempty"`
	Album      string  `json:"album,omitempty"`
	DurationMs *uint64 `json:"duration_ms,omitempty"`
	CoverURL   string  `json:"cover_url,omitempty"`
	Source     string  `json:"source"`
	URL        string  `json:"url,omitempty"`
}

func sourceName(s zone.TrackSource) string {
	switch s {
	case zone.SourceSubsonic:
		return "subsonic"
	case zone.SourceFile:
		return "file"
	default:
		return "radio"
	}
}

func trackDTOFrom(t *zone.TrackInfo) *trackDTO {
	if t == nil {
		return nil
	}
	return &trackDTO{
		Index: t.Index, Title: t.Title, Artist: t.Artist, Album: t.Album,
		DurationMs: t.DurationMs, CoverURL: t.CoverURL, Source: sourceName(t.Source), URL: t.URL,
	}
}

// zoneDTO is the wire shape of zone.ZoneState.
type zoneDTO struct {
	Index          uint32    `json:"index"`
	Name           string    `json:"name"`
	Playback       string    `json:"playback_state"`
	Track          *trackDTO `json:"track,omitempty"`
	PositionMs     uint64    `json:"position_ms"`
	DurationMs     *uint64   `json:"duration_ms,omitempty"`
	Volume         uint8     `json:"volume"`
	Muted          bool      `json:"muted"`
	Shuffle        bool      `json:"shuffle"`
	RepeatTrack    bool      `json:"repeat_track"`
	RepeatPlaylist bool      `json:"repeat_playlist"`
	Clients        []string  `json:"clients,omitempty"`
}

func zoneDTOFrom(z zone.ZoneState) zoneDTO {
	var clients []string
	for mac := range z.Members {
		clients = append(clients, string(mac))
	}
	return zoneDTO{
		Index: z.ZoneIndex, Name: z.Name, Playback: z.Playback.String(),
		Track: trackDTOFrom(z.CurrentTrack), PositionMs: z.PositionMs, DurationMs: z.DurationMs,
		Volume: z.Volume, Muted: z.Muted, Shuffle: z.Shuffle,
		RepeatTrack: z.RepeatTrack, RepeatPlaylist: z.RepeatPlaylist, Clients: clients,
	}
}

// clientDTO is the wire shape of zone.ClientState.
type clientDTO struct {
	Mac       string `json:"mac"`
	Name      string `json:"name"`
	ZoneIndex *uint32 `json:"zone_index,omitempty"`
	Volume    uint8  `json:"volume"`
	Muted     bool   `json:"muted"`
	LatencyMs int    `json:"latency_ms"`
	Connected bool   `json:"connected"`
}

func clientDTOFrom(c zone.ClientState) clientDTO {
	return clientDTO{
		Mac: string(c.Mac), Name: c.Name, ZoneIndex: c.ZoneIndex,
		Volume: c.Volume, Muted: c.Muted, LatencyMs: c.LatencyMs, Connected: c.Connected,
	}
}

// sseEventDTO is the wire shape pushed over the SSE channel: a flattened
// projection of command.StatusEvent, omitting whichever fields don't
// apply to its Kind.
type sseEventDTO struct {
	Kind          string    `json:"kind"`
	ZoneIndex     *uint32   `json:"zone_index,omitempty"`
	ClientMac     string    `json:"client_mac,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	Track         *trackDTO `json:"track,omitempty"`
	Playback      string    `json:"playback_state,omitempty"`
	PositionMs    *uint64   `json:"position_ms,omitempty"`
	Volume        *uint8    `json:"volume,omitempty"`
	Muted         *bool     `json:"muted,omitempty"`
	ConnectionState string  `json:"connection_state,omitempty"`
	ErrorKind     string    `json:"error_kind,omitempty"`
	ErrorDetail   string    `json:"error_detail,omitempty"`
}

var statusKindNames = map[command.StatusKind]string{
	command.EvtPlaybackStarted:        "playback_started",
	command.EvtPlaybackStopped:        "playback_stopped",
	command.EvtPlaybackPaused:         "playback_paused",
	command.EvtVolumeChanged:          "volume_changed",
	command.EvtMuteChanged:            "mute_changed",
	command.EvtShuffleChanged:         "shuffle_changed",
	command.EvtRepeatTrackChanged:     "repeat_track_changed",
	command.EvtRepeatPlaylistChanged:  "repeat_playlist_changed",
	command.EvtPlaylistSelected:       "playlist_selected",
	command.EvtClientVolumeChanged:    "client_volume_changed",
	command.EvtClientMuteChanged:      "client_mute_changed",
	command.EvtClientZoneChanged:      "client_zone_changed",
	command.EvtTrackChanged:           "track_changed",
	command.EvtPositionTick:           "position_tick",
	command.EvtConnectionStateChanged: "connection_state_changed",
	command.EvtError:                 "error",
}

func sseEvent(ev command.StatusEvent) sseEventDTO {
	out := sseEventDTO{
		Kind:            statusKindNames[ev.Kind],
		ClientMac:       string(ev.ClientMac),
		CorrelationID:   ev.CorrelationID,
		Track:           trackDTOFrom(ev.Track),
		ConnectionState: ev.ConnectionState,
		ErrorKind:       ev.ErrorKind,
		ErrorDetail:     ev.ErrorDetail,
	}
	if ev.ClientMac == "" {
		zi := ev.ZoneIndex
		out.ZoneIndex = &zi
	}
	switch ev.Kind {
	case command.EvtPlaybackStarted, command.EvtPlaybackStopped, command.EvtPlaybackPaused, command.EvtTrackChanged, command.EvtPositionTick:
		out.Playback = ev.Playback.String()
		pos := ev.PositionMs
		out.PositionMs = &pos
	}
	switch ev.Kind {
	case command.EvtVolumeChanged, command.EvtClientVolumeChanged:
		v := ev.Volume
		out.Volume = &v
	case command.EvtMuteChanged, command.EvtClientMuteChanged:
		m := ev.Muted
		out.Muted = &m
	}
	return out
}
