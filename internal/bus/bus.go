// Package bus implements the Command/Status dispatcher described in
// spec.md §4.2: a single in-process router from typed Command to the
// engine that owns its target, and from StatusEvent to every registered
// adapter. A mutex-guarded routing table of zone/client/system handlers
// dispatches by target index; each handler serializes its own command
// processing on its own goroutine, so the dispatcher itself never blocks
// one zone's work behind another's.
package bus

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapdog/snapdog/internal/apperr"
	"github.com/snapdog/snapdog/internal/command"
	"github.com/snapdog/snapdog/internal/zone"
)

// ZoneEngine is the owning-engine contract a ZonePlayer satisfies.
// Submit serializes cmd against any other command targeting the same
// zone and returns once the zone's authoritative state has been updated,
// along with the StatusEvents that transition produced.
type ZoneEngine interface {
	Index() uint32
	Submit(ctx context.Context, cmd command.Command) ([]command.StatusEvent, error)
	Snapshot() zone.ZoneState
}

// ClientController owns every client-targeted command
// (SetClientVolume/SetClientMute/ToggleClientMute/AssignClientToZone),
// backed by the Snapcast adapter plus the in-memory ClientState store.
type ClientController interface {
	Submit(ctx context.Context, cmd command.Command) ([]command.StatusEvent, error)
	Snapshot(mac zone.ClientMac) (zone.ClientState, bool)
}

// SystemController owns commands with no zone/client target
// (ReloadCatalogue).
type SystemController interface {
	Submit(ctx context.Context, cmd command.Command) ([]command.StatusEvent, error)
}

// Adapter is anything the notification queue fans StatusEvents out to:
// MQTT, KNX status-group writes, and the HTTP push channel each filter
// to what they publish internally.
type Adapter interface {
	Publish(ctx context.Context, ev command.StatusEvent) error
}

// StatusSnapshot is returned from Dispatch: whichever of Zone/Client is
// non-nil reflects the authoritative state right after the command was
// applied.
type StatusSnapshot struct {
	Zone   *zone.ZoneState
	Client *zone.ClientState
}

// Dispatcher is the single router described in spec.md §4.2/§4.3.
type Dispatcher struct {
	mu      sync.RWMutex
	zones   map[uint32]ZoneEngine
	clients ClientController
	system  SystemController

	queue *NotificationQueue
	log   zerolog.Logger
}

// New builds a Dispatcher. RegisterZone/SetClientController/SetSystemController
// finish wiring before the daemon starts accepting commands.
func New(queue *NotificationQueue, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		zones: make(map[uint32]ZoneEngine),
		queue: queue,
		log:   log,
	}
}

// RegisterZone adds a zone engine to the routing table. It takes the
// dispatcher's lock, so it may run concurrently with Dispatch.
func (d *Dispatcher) RegisterZone(z ZoneEngine) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.zones[z.Index()] = z
}

// SetClientController wires the handler for client-targeted commands.
func (d *Dispatcher) SetClientController(c ClientController) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients = c
}

// SetSystemController wires the handler for untargeted system commands.
func (d *Dispatcher) SetSystemController(s SystemController) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.system = s
}

// Subscribe registers adapter to receive every StatusEvent the queue
// delivers, per spec.md §4.2 "subscribe(adapter)".
func (d *Dispatcher) Subscribe(adapter Adapter) {
	d.queue.AddAdapter(adapter)
}

// ZoneSnapshot returns the current state of the zone at index, if
// registered. Used by the KNX and MQTT adapters to resolve relative
// commands (volume_up/volume_down, mute toggle) against current state
// without those adapters holding a reference to the zone engine itself.
func (d *Dispatcher) ZoneSnapshot(index uint32) (zone.ZoneState, bool) {
	d.mu.RLock()
	z, ok := d.zones[index]
	d.mu.RUnlock()
	if !ok {
		return zone.ZoneState{}, false
	}
	return z.Snapshot(), true
}

// AllZoneSnapshots returns every registered zone's current state, ordered
// by zone index, for the HTTP API's zone listing endpoint.
func (d *Dispatcher) AllZoneSnapshots() []zone.ZoneState {
	d.mu.RLock()
	out := make([]zone.ZoneState, 0, len(d.zones))
	for _, z := range d.zones {
		out = append(out, z.Snapshot())
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ZoneIndex < out[j].ZoneIndex })
	return out
}

// ClientSnapshot returns the current state of the named client, if the
// client controller is wired and knows about it.
func (d *Dispatcher) ClientSnapshot(mac zone.ClientMac) (zone.ClientState, bool) {
	d.mu.RLock()
	c := d.clients
	d.mu.RUnlock()
	if c == nil {
		return zone.ClientState{}, false
	}
	return c.Snapshot(mac)
}

func isClientCommand(k command.Kind) bool {
	switch k {
	case command.CmdSetClientVolume, command.CmdSetClientMute, command.CmdToggleClientMute, command.CmdAssignClientToZone:
		return true
	default:
		return false
	}
}

func isSystemCommand(k command.Kind) bool {
	return k == command.CmdReloadCatalogue
}

// Dispatch routes cmd to its owning engine, waits for the resulting state
// mutation, enqueues every emitted StatusEvent onto the notification
// queue (blocking under back-pressure, per spec.md §4.3), and returns the
// post-command snapshot.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd command.Command) (StatusSnapshot, error) {
	var (
		events []command.StatusEvent
		err    error
		snap   StatusSnapshot
	)

	switch {
	case isSystemCommand(cmd.Kind):
		d.mu.RLock()
		sys := d.system
		d.mu.RUnlock()
		if sys == nil {
			return snap, apperr.New(apperr.KindNotFound, "bus.dispatch", fmt.Errorf("no system controller registered"))
		}
		events, err = sys.Submit(ctx, cmd)

	case isClientCommand(cmd.Kind):
		d.mu.RLock()
		clients := d.clients
		d.mu.RUnlock()
		if clients == nil {
			return snap, apperr.New(apperr.KindNotFound, "bus.dispatch", fmt.Errorf("no client controller registered"))
		}
		events, err = clients.Submit(ctx, cmd)
		if err == nil {
			if cs, ok := clients.Snapshot(cmd.ClientMac); ok {
				snap.Client = &cs
			}
		}

	default:
		d.mu.RLock()
		z, ok := d.zones[cmd.ZoneIndex]
		d.mu.RUnlock()
		if !ok {
			return snap, apperr.New(apperr.KindNotFound, "bus.dispatch", fmt.Errorf("zone %d not found", cmd.ZoneIndex))
		}
		events, err = z.Submit(ctx, cmd)
		if err == nil {
			zs := z.Snapshot()
			snap.Zone = &zs
		}
	}

	if err != nil {
		return snap, err
	}

	for _, ev := range events {
		if perr := d.Publish(ctx, ev); perr != nil {
			return snap, perr
		}
	}
	return snap, nil
}

// Publish enqueues a StatusEvent for fan-out without going through a
// Command — used by engines for state changes that were not themselves
// the direct result of a command (TrackChanged from decoder metadata,
// PositionTick, ConnectionStateChanged, async Error events).
func (d *Dispatcher) Publish(ctx context.Context, ev command.StatusEvent) error {
	return d.queue.Enqueue(ctx, command.Notification{Event: ev, EnqueuedAt: time.Now()})
}
