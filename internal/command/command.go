// Package command defines the typed Command/StatusEvent model that is
// mirrored identically onto MQTT, KNX, and the HTTP API.
package command

import (
	"time"

	"github.com/snapdog/snapdog/internal/zone"
)

// Source identifies which adapter originated a Command, carried through
// to error responses and logs.
type Source int

const (
	SourceInternal Source = iota
	SourceHTTP
	SourceMqtt
	SourceKnx
)

func (s Source) String() string {
	switch s {
	case SourceHTTP:
		return "http"
	case SourceMqtt:
		return "mqtt"
	case SourceKnx:
		return "knx"
	default:
		return "internal"
	}
}

// Kind discriminates the Command variant. Fields on Command not relevant
// to a given Kind are left zero.
type Kind int

const (
	CmdPlay Kind = iota
	CmdPause
	CmdStop
	CmdNext
	CmdPrev
	CmdSeekMs
	CmdSeekProgress
	CmdSetVolume
	CmdSetMute
	CmdSetShuffle
	CmdSetRepeatTrack
	CmdSetRepeatPlaylist
	CmdSelectPlaylist

	CmdSetClientVolume
	CmdSetClientMute
	CmdToggleClientMute
	CmdAssignClientToZone

	CmdReloadCatalogue
)

// Command is the single typed request model routed by the dispatcher to
// the engine that owns its target.
type Command struct {
	Kind          Kind
	Source        Source
	CorrelationID string

	ZoneIndex uint32
	ClientMac zone.ClientMac

	TrackIndex  *int
	PositionMs  uint64
	Progress    float32
	Volume      uint8
	Bool        bool
	PlaylistID  string
	TargetZone  uint32
}

// StatusKind discriminates the StatusEvent variant.
type StatusKind int

const (
	EvtPlaybackStarted StatusKind = iota
	EvtPlaybackStopped
	EvtPlaybackPaused
	EvtVolumeChanged
	EvtMuteChanged
	EvtShuffleChanged
	EvtRepeatTrackChanged
	EvtRepeatPlaylistChanged
	EvtPlaylistSelected

	EvtClientVolumeChanged
	EvtClientMuteChanged
	EvtClientZoneChanged

	EvtTrackChanged
	EvtPositionTick
	EvtConnectionStateChanged
	EvtError
)

// StatusEvent is the dual of Command: engines emit these, the bus fans
// them out to every registered adapter.
type StatusEvent struct {
	Kind          StatusKind
	ZoneIndex     uint32
	ClientMac     zone.ClientMac
	CorrelationID string
	EmittedAt     time.Time

	Track      *zone.TrackInfo
	Playback   zone.PlaybackState
	PositionMs uint64
	Progress   float32
	Volume     uint8
	Muted      bool
	Shuffle    bool
	RepeatTrack    bool
	RepeatPlaylist bool
	PlaylistID string

	ConnectionState string

	ErrorKind   string
	ErrorDetail string
}

// Notification is the retry-queue envelope around a StatusEvent.
type Notification struct {
	Event      StatusEvent
	Attempt    uint16
	EnqueuedAt time.Time
}
