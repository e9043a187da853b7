package knx

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snapdog/snapdog/internal/apperr"
	"github.com/snapdog/snapdog/internal/command"
	"github.com/snapdog/snapdog/internal/config"
	"github.com/snapdog/snapdog/internal/dpt"
	"github.com/snapdog/snapdog/internal/knxaddr"
)

// DispatchFunc adapts bus.Dispatcher.Dispatch for this package, which
// never imports internal/bus directly (bus already depends on knx-
// adjacent types only through command/zone; this keeps the dependency
// one-directional). The service only needs to fire commands — the bus
// itself fans the resulting StatusEvent back out to every adapter,
// including this one's Publish.
type DispatchFunc func(ctx context.Context, cmd command.Command) error

// zoneMapping is one zone's configured command-name -> group-address
// table plus the DPT each command name encodes with, mirroring the
// gray-logic-stack bridge's deviceToGAs per-device function map
// generalized from one device to one zone.
type zoneMapping struct {
	zoneIndex uint32
	commands  map[string]knxaddr.Address // "play","pause","stop","volume","volume_up","volume_down","mute","mute_toggle"
}

// knownCommandDpt is the fixed DPT each named KNX command slot encodes
// with, per spec.md §4.4's DPT table.
var knownCommandDpt = map[string]dpt.Id{
	"play":         {Major: 1, Minor: 1},
	"pause":        {Major: 1, Minor: 1},
	"stop":         {Major: 1, Minor: 1},
	"volume":       {Major: 5, Minor: 1},
	"volume_up":    {Major: 1, Minor: 7},
	"volume_down":  {Major: 1, Minor: 7},
	"mute":         {Major: 1, Minor: 1},
	"mute_toggle":  {Major: 1, Minor: 1},
}

// VolumeFunc returns a zone's current volume, used to resolve the
// relative volume_up/volume_down push-button commands into an absolute
// SetVolume the bus understands.
type VolumeFunc func(zoneIndex uint32) (uint8, bool)

// MuteFunc returns a zone's current mute state, used to resolve the
// mute_toggle push-button command into an absolute SetMute.
type MuteFunc func(zoneIndex uint32) (bool, bool)

// volumeStep is how much a single volume_up/volume_down telegram moves
// the zone's volume.
const volumeStep = 5

// Service bridges a Transport to the command/status bus: inbound writes
// to a configured group address become typed Commands with
// Source=Knx; outbound StatusEvents are DPT-encoded and written back to
// the zone's matching status group address when one is configured.
type Service struct {
	transport *Transport
	dispatch  DispatchFunc
	volumeOf  VolumeFunc
	muteOf    MuteFunc
	zones     map[uint32]zoneMapping
	log       zerolog.Logger
}

// NewService builds a Service from the resolved zone configs. dispatch is
// normally *bus.Dispatcher.Dispatch adapted to drop its snapshot return.
func NewService(transport *Transport, dispatch DispatchFunc, volumeOf VolumeFunc, muteOf MuteFunc, zones []config.ZoneConfig, log zerolog.Logger) *Service {
	byIndex := make(map[uint32]zoneMapping, len(zones))
	for _, z := range zones {
		if !z.KnxEnabled {
			continue
		}
		byIndex[z.Index] = zoneMapping{zoneIndex: z.Index, commands: z.Knx}
	}
	return &Service{transport: transport, dispatch: dispatch, volumeOf: volumeOf, muteOf: muteOf, zones: byIndex, log: log}
}

// SetCatalog installs cat on the underlying transport, replacing the
// previous catalogue atomically. Submit's ReloadCatalogue handling does
// not call it.
func (s *Service) SetCatalog(cat *Catalog) { s.transport.SetCatalog(cat) }

// Submit satisfies bus.SystemController for CmdReloadCatalogue: it is the
// only system-level command in spec.md §3.
func (s *Service) Submit(ctx context.Context, cmd command.Command) ([]command.StatusEvent, error) {
	if cmd.Kind != command.CmdReloadCatalogue {
		return nil, apperr.New(apperr.KindInvalidState, "knx.system", nil)
	}
	// Submit re-reads no CSV and does not call SetCatalog: it only answers
	// with a catalogue_reloaded event, so the catalogue in use stays the
	// one installed at startup or by the last SetCatalog call.
	return []command.StatusEvent{{
		Kind:          command.EvtConnectionStateChanged,
		CorrelationID: cmd.CorrelationID,
		ConnectionState: "catalogue_reloaded",
	}}, nil
}

// Run listens on the transport's inbound fan-out and translates matching
// GroupEvents into Commands dispatched onto the bus. It returns when ctx
// is cancelled.
func (s *Service) Run(ctx context.Context) {
	ch := make(chan GroupEvent, 32)
	s.transport.Subscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			s.handleInbound(ctx, ev)
		}
	}
}

func (s *Service) handleInbound(ctx context.Context, ev GroupEvent) {
	if ev.APCI == APCIRead || ev.APCI == APCIResponse {
		return
	}
	for zoneIdx, zm := range s.zones {
		for name, addr := range zm.commands {
			if !addr.Equal(ev.Destination) {
				continue
			}
			cmd, ok := s.commandFor(zoneIdx, name, ev)
			if !ok {
				continue
			}
			cmd.Source = command.SourceKnx
			cmd.CorrelationID = uuid.NewString()
			if err := s.dispatch(ctx, cmd); err != nil {
				s.log.Warn().Str("zone_cmd", name).Uint32("zone", zoneIdx).Err(err).Msg("knx-originated command failed")
			}
			return
		}
	}
}

func (s *Service) commandFor(zoneIdx uint32, name string, ev GroupEvent) (command.Command, bool) {
	cmd := command.Command{ZoneIndex: zoneIdx}
	switch name {
	case "play":
		cmd.Kind = command.CmdPlay
	case "pause":
		cmd.Kind = command.CmdPause
	case "stop":
		cmd.Kind = command.CmdStop
	case "volume":
		if ev.Value == nil {
			return cmd, false
		}
		pct, ok := ev.Value.AsUint()
		if !ok {
			return cmd, false
		}
		cmd.Kind = command.CmdSetVolume
		cmd.Volume = uint8(pct)
	case "volume_up", "volume_down":
		cur, ok := s.currentVolume(zoneIdx)
		if !ok {
			return cmd, false
		}
		cmd.Kind = command.CmdSetVolume
		cmd.Volume = steppedVolume(cur, name == "volume_up")
	case "mute":
		cmd.Kind = command.CmdSetMute
		cmd.Bool = true
		if ev.Value != nil {
			if b, ok := ev.Value.AsBool(); ok {
				cmd.Bool = b
			}
		}
	case "mute_toggle":
		cur, ok := s.currentMute(zoneIdx)
		if !ok {
			return cmd, false
		}
		cmd.Kind = command.CmdSetMute
		cmd.Bool = !cur
	default:
		return cmd, false
	}
	return cmd, true
}

func (s *Service) currentVolume(zoneIdx uint32) (uint8, bool) {
	if s.volumeOf == nil {
		return 0, false
	}
	return s.volumeOf(zoneIdx)
}

func (s *Service) currentMute(zoneIdx uint32) (bool, bool) {
	if s.muteOf == nil {
		return false, false
	}
	return s.muteOf(zoneIdx)
}

func steppedVolume(cur uint8, up bool) uint8 {
	v := int(cur)
	if up {
		v += volumeStep
	} else {
		v -= volumeStep
	}
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return uint8(v)
}

// Publish satisfies bus.Adapter: it writes the zone's configured status
// group address for the StatusEvent kinds that have a DPT-encodable
// mapping. KNX has no error back-channel (spec.md §7), so Error events
// are logged only, never written to the bus.
func (s *Service) Publish(ctx context.Context, ev command.StatusEvent) error {
	zm, ok := s.zones[ev.ZoneIndex]
	if !ok {
		return nil
	}

	switch ev.Kind {
	case command.EvtVolumeChanged:
		addr, ok := zm.commands["volume"]
		if !ok {
			return nil
		}
		return s.transport.SendGroupWrite(ctx, addr, dpt.Value{Kind: dpt.KindU8, U8: ev.Volume}, dpt.Id{Major: 5, Minor: 1})

	case command.EvtMuteChanged:
		addr, ok := zm.commands["mute"]
		if !ok {
			return nil
		}
		return s.transport.SendGroupWrite(ctx, addr, dpt.Value{Kind: dpt.KindBool, Bool: ev.Muted}, dpt.Id{Major: 1, Minor: 1})

	case command.EvtPlaybackStarted:
		addr, ok := zm.commands["play"]
		if !ok {
			return nil
		}
		return s.transport.SendGroupWrite(ctx, addr, dpt.Value{Kind: dpt.KindBool, Bool: true}, dpt.Id{Major: 1, Minor: 1})

	case command.EvtPlaybackStopped:
		addr, ok := zm.commands["stop"]
		if !ok {
			return nil
		}
		return s.transport.SendGroupWrite(ctx, addr, dpt.Value{Kind: dpt.KindBool, Bool: true}, dpt.Id{Major: 1, Minor: 1})

	case command.EvtError:
		s.log.Warn().Uint32("zone", ev.ZoneIndex).Str("kind", ev.ErrorKind).Str("detail", ev.ErrorDetail).Msg("zone error event (not sent to KNX)")
		return nil

	default:
		return nil
	}
}
