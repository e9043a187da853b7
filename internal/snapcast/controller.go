package snapcast

import (
	"context"
	"fmt"
	"time"

	"github.com/snapdog/snapdog/internal/apperr"
	"github.com/snapdog/snapdog/internal/command"
	"github.com/snapdog/snapdog/internal/zone"
)

// ClientController satisfies bus.ClientController: it owns every
// client-targeted command, applying volume/mute/zone-assignment changes
// directly via the Snapcast control RPC and letting the Reconciler's next
// tick (or, for AssignClientToZone, an immediate reassignment) converge
// group membership.
type ClientController struct {
	control *Control
	recon   *Reconciler
}

func NewClientController(control *Control, recon *Reconciler) *ClientController {
	return &ClientController{control: control, recon: recon}
}

// Submit applies cmd and returns the StatusEvent(s) it produces. Volume
// and mute changes round-trip through Snapcast immediately; zone
// assignment updates the declared mapping and triggers an immediate
// client-group move so the caller doesn't wait for the next tick.
func (c *ClientController) Submit(ctx context.Context, cmd command.Command) ([]command.StatusEvent, error) {
	cs, ok := c.recon.Snapshot(cmd.ClientMac)
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "snapcast.client", fmt.Errorf("client %q not found", cmd.ClientMac))
	}

	switch cmd.Kind {
	case command.CmdSetClientVolume:
		if err := c.control.SetClientVolume(ctx, string(cmd.ClientMac), int(cmd.Volume), cs.Muted); err != nil {
			return nil, apperr.New(apperr.KindTransport, "snapcast.set_client_volume", err)
		}
		return []command.StatusEvent{{
			Kind:      command.EvtClientVolumeChanged,
			ClientMac: cmd.ClientMac,
			Volume:    cmd.Volume,
			EmittedAt: now(),
		}}, nil

	case command.CmdSetClientMute:
		if err := c.control.SetClientMute(ctx, string(cmd.ClientMac), cmd.Bool); err != nil {
			return nil, apperr.New(apperr.KindTransport, "snapcast.set_client_mute", err)
		}
		return []command.StatusEvent{{
			Kind:      command.EvtClientMuteChanged,
			ClientMac: cmd.ClientMac,
			Muted:     cmd.Bool,
			EmittedAt: now(),
		}}, nil

	case command.CmdToggleClientMute:
		toggled := !cs.Muted
		if err := c.control.SetClientMute(ctx, string(cmd.ClientMac), toggled); err != nil {
			return nil, apperr.New(apperr.KindTransport, "snapcast.toggle_client_mute", err)
		}
		return []command.StatusEvent{{
			Kind:      command.EvtClientMuteChanged,
			ClientMac: cmd.ClientMac,
			Muted:     toggled,
			EmittedAt: now(),
		}}, nil

	case command.CmdAssignClientToZone:
		if err := c.recon.AssignOverride(ctx, cmd.ClientMac, cmd.TargetZone); err != nil {
			return nil, err
		}
		return []command.StatusEvent{{
			Kind:      command.EvtClientZoneChanged,
			ClientMac: cmd.ClientMac,
			ZoneIndex: cmd.TargetZone,
			EmittedAt: now(),
		}}, nil

	default:
		return nil, apperr.New(apperr.KindInvalidState, "snapcast.client", fmt.Errorf("command kind %d not valid for a client", cmd.Kind))
	}
}

// Snapshot satisfies bus.ClientController.
func (c *ClientController) Snapshot(mac zone.ClientMac) (zone.ClientState, bool) {
	return c.recon.Snapshot(mac)
}

// All returns every known client's last-reconciled state, for the HTTP
// API's client listing endpoint.
func (c *ClientController) All() []zone.ClientState {
	return c.recon.All()
}

func now() time.Time { return time.Now() }
