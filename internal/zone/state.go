// Package zone defines the value types that describe a zone's and a
// client's observable state: PlaybackState, TrackInfo, ZoneState,
// ClientState, and the Playlist they reference.
package zone

import "time"

// PlaybackState is the coarse playback lifecycle of a zone.
type PlaybackState int

const (
	Stopped PlaybackState = iota
	Paused
	Playing
)

func (p PlaybackState) String() string {
	switch p {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return "stopped"
	}
}

// TrackSource identifies where a track's bytes originate from.
type TrackSource int

const (
	SourceRadio TrackSource = iota
	SourceSubsonic
	SourceFile
)

// TrackInfo describes the track currently (or most recently) loaded into
// a zone's decoder.
type TrackInfo struct {
	Index       int
	Title       string
	Artist      string
	Album       string
	DurationMs  *uint64
	PositionMs  uint64
	Progress    float32
	CoverURL    string
	Source      TrackSource
	URL         string
}

// Playlist is an ordered, named set of tracks a zone can step through.
type Playlist struct {
	ID     string
	Name   string
	Tracks []TrackInfo
}

// ClientMac identifies a Snapcast client by its MAC address.
type ClientMac string

// ZoneState is the authoritative, owning-engine-mutated state of one
// playback zone. Reads elsewhere in the system go through Snapshot, which
// returns a value copy so callers never observe a torn write.
type ZoneState struct {
	ZoneIndex       uint32
	Name            string
	SinkPath        string
	Playback        PlaybackState
	CurrentTrack    *TrackInfo
	Playlist        *Playlist
	PositionMs      uint64
	DurationMs      *uint64
	Volume          uint8
	Muted           bool
	Shuffle         bool
	RepeatTrack     bool
	RepeatPlaylist  bool
	Members         map[ClientMac]struct{}
}

// NewZoneState creates a freshly stopped zone with default volume.
func NewZoneState(index uint32, name, sinkPath string) *ZoneState {
	return &ZoneState{
		ZoneIndex: index,
		Name:      name,
		SinkPath:  sinkPath,
		Playback:  Stopped,
		Volume:    50,
		Members:   make(map[ClientMac]struct{}),
	}
}

// SetVolume clamps v into 0..100 and applies it.
func (z *ZoneState) SetVolume(v int) {
	z.Volume = clampVolume(v)
}

func clampVolume(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return uint8(v)
}

// Valid reports whether the zone's invariants hold: volume in range, and
// position never exceeding a known duration.
func (z *ZoneState) Valid() bool {
	if z.Volume > 100 {
		return false
	}
	if z.DurationMs != nil && z.PositionMs > *z.DurationMs {
		return false
	}
	if z.Playback != Stopped && z.CurrentTrack == nil {
		return false
	}
	return true
}

// Snapshot returns an immutable value copy safe to hand to readers outside
// the owning engine's goroutine.
func (z *ZoneState) Snapshot() ZoneState {
	cp := *z
	cp.Members = make(map[ClientMac]struct{}, len(z.Members))
	for m := range z.Members {
		cp.Members[m] = struct{}{}
	}
	if z.CurrentTrack != nil {
		t := *z.CurrentTrack
		cp.CurrentTrack = &t
	}
	if z.DurationMs != nil {
		d := *z.DurationMs
		cp.DurationMs = &d
	}
	return cp
}

// ClientState is the last-known state of one Snapcast client, reconciled
// from the Snapcast server's reported state.
type ClientState struct {
	Mac       ClientMac
	Name      string
	ZoneIndex *uint32
	Volume    uint8
	Muted     bool
	LatencyMs int
	Connected bool
	LastSeen  time.Time
}

// PlaybackStatus is a derived, read-only playback summary. No code in this
// module builds one: ZonePlayer reports the same information through
// StatusEvents and ZoneState snapshots.
type PlaybackStatus struct {
	ZoneIndex    uint32
	Playback     PlaybackState
	CurrentTrack *TrackInfo
	PositionMs   uint64
	DurationMs   *uint64
	Progress     float32
}
