package snapcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapdog/snapdog/internal/config"
	"github.com/snapdog/snapdog/internal/zone"
)

// ZoneSink resolves a zone index to the stream/group identifiers the
// reconciler drives clients toward; backed by config.ZoneConfig.Sink and
// the Snapcast group whose stream_id equals that sink path.
type ZoneSink struct {
	ZoneIndex uint32
	StreamID  string
}

// Reconciler runs the periodic fixpoint loop of spec.md §4.5: every
// configured client with a known MAC present on the server is moved into
// the group whose stream matches its target zone's sink, idempotently.
// A time.NewTicker drives ticks until the context is cancelled.
type Reconciler struct {
	control *Control
	clients []config.ClientConfig
	zones   []ZoneSink
	interval time.Duration
	debounce time.Duration
	log     zerolog.Logger

	mu        sync.RWMutex
	states    map[zone.ClientMac]zone.ClientState
	overrides map[zone.ClientMac]uint32

	eventsIn <-chan Event
	extra    chan struct{}
}

// New builds a Reconciler. clients and zones are the declared
// configuration to converge toward; eventsIn, if non-nil, is the
// Snapcast event stream used for the optional event-driven debounced
// extra pass.
func New(control *Control, clients []config.ClientConfig, zones []ZoneSink, interval, debounce time.Duration, eventsIn <-chan Event, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		control:  control,
		clients:  clients,
		zones:    zones,
		interval: interval,
		debounce: debounce,
		log:       log,
		states:    make(map[zone.ClientMac]zone.ClientState),
		overrides: make(map[zone.ClientMac]uint32),
		eventsIn:  eventsIn,
		extra:     make(chan struct{}, 1),
	}
}

// AssignOverride records an AssignClientToZone command's target zone,
// taking precedence over the client's configured default_zone on every
// future tick, and immediately runs one reconciliation pass so the move
// is visible without waiting for the next tick.
func (r *Reconciler) AssignOverride(ctx context.Context, mac zone.ClientMac, zoneIndex uint32) error {
	r.mu.Lock()
	r.overrides[mac] = zoneIndex
	r.mu.Unlock()
	return r.Tick(ctx)
}

// Run ticks every interval (spec.md default 5000ms) until ctx is
// cancelled, and additionally schedules a debounced extra pass whenever
// an event arrives on eventsIn.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.log.Warn().Err(err).Msg("reconciler tick failed")
			}
		case ev, ok := <-r.eventsIn:
			if !ok {
				r.eventsIn = nil
				continue
			}
			_ = ev
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(r.debounce, func() {
				select {
				case r.extra <- struct{}{}:
				default:
				}
			})
		case <-r.extra:
			if err := r.Tick(ctx); err != nil {
				r.log.Warn().Err(err).Msg("reconciler event-driven tick failed")
			}
		}
	}
}

// Tick performs one reconciliation pass: snapshot, diff, converge. It is
// idempotent — a second call against an already-converged server makes
// no RPC calls beyond its Server.GetStatus query, per spec.md §8's
// fixpoint property.
func (r *Reconciler) Tick(ctx context.Context) error {
	status, err := r.control.Status(ctx)
	if err != nil {
		return fmt.Errorf("snapcast status: %w", err)
	}

	byGroup := map[string]string{} // clientID -> groupID
	byClient := map[string]Client{}
	groupStream := map[string]string{} // groupID -> stream_id
	for _, g := range status.Groups {
		groupStream[g.ID] = g.StreamID
		for _, c := range g.Clients {
			byGroup[c.ID] = g.ID
			byClient[c.ID] = c
		}
	}

	streamForZone := map[uint32]string{}
	groupForStream := map[string]string{}
	for _, zs := range r.zones {
		streamForZone[zs.ZoneIndex] = zs.StreamID
	}
	for gid, sid := range groupStream {
		groupForStream[sid] = gid
	}

	r.updateStates(byClient)

	r.mu.RLock()
	overrides := make(map[zone.ClientMac]uint32, len(r.overrides))
	for k, v := range r.overrides {
		overrides[k] = v
	}
	r.mu.RUnlock()

	for _, cc := range r.clients {
		if cc.Mac == "" {
			continue
		}
		c, present := byClient[cc.Mac]
		if !present {
			continue
		}

		targetZone := cc.DefaultZone
		if override, ok := overrides[zone.ClientMac(cc.Mac)]; ok {
			targetZone = override
		}
		targetStream, ok := streamForZone[targetZone]
		if !ok {
			continue
		}
		targetGroup, ok := groupForStream[targetStream]
		if !ok {
			continue
		}

		actualGroup := byGroup[cc.Mac]
		if actualGroup != targetGroup {
			if err := r.control.SetClientGroup(ctx, targetGroup, cc.Mac); err != nil {
				r.log.Warn().Str("client", cc.Mac).Err(err).Msg("set_client_group failed")
				continue
			}
			r.log.Info().Str("client", cc.Mac).Str("group", targetGroup).Msg("reassigned client to target zone group")
		}

		if groupStream[targetGroup] != targetStream {
			if err := r.control.SetGroupStream(ctx, targetGroup, targetStream); err != nil {
				r.log.Warn().Str("group", targetGroup).Err(err).Msg("set_group_stream failed")
				continue
			}
			groupStream[targetGroup] = targetStream
		}

		if cc.Name != "" && c.Config.Name != cc.Name {
			// Resolved open question (DESIGN.md): the reconciler only
			// drives group membership and the mapping's own declared
			// name, never overwriting names it wasn't given.
			if err := r.control.RenameClient(ctx, cc.Mac, cc.Name); err != nil {
				r.log.Warn().Str("client", cc.Mac).Err(err).Msg("rename_client failed")
			}
		}

		r.mu.Lock()
		if cs, ok := r.states[zone.ClientMac(cc.Mac)]; ok {
			z := targetZone
			cs.ZoneIndex = &z
			r.states[zone.ClientMac(cc.Mac)] = cs
		}
		r.mu.Unlock()
	}
	return nil
}

func (r *Reconciler) updateStates(byClient map[string]Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[zone.ClientMac]struct{}, len(byClient))
	for id, c := range byClient {
		mac := zone.ClientMac(id)
		seen[mac] = struct{}{}
		r.states[mac] = zone.ClientState{
			Mac:       mac,
			Name:      c.Config.Name,
			Volume:    uint8(c.Config.Volume.Percent),
			Muted:     c.Config.Volume.Muted,
			LatencyMs: c.Config.Latency,
			Connected: c.Connected,
			LastSeen:  time.Unix(c.LastSeen.Sec, c.LastSeen.Usec*1000),
		}
	}
	// Remove clients the server no longer reports, per spec.md §3
	// ClientState lifecycle: "removed on reconcile when the server no
	// longer reports it."
	for mac := range r.states {
		if _, ok := seen[mac]; !ok {
			delete(r.states, mac)
		}
	}
}

// Snapshot returns the last-known state of mac, if the server has ever
// reported it.
func (r *Reconciler) Snapshot(mac zone.ClientMac) (zone.ClientState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs, ok := r.states[mac]
	return cs, ok
}

// All returns a snapshot of every known client, sorted by no particular
// order (callers that need stable ordering sort themselves).
func (r *Reconciler) All() []zone.ClientState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]zone.ClientState, 0, len(r.states))
	for _, cs := range r.states {
		out = append(out, cs)
	}
	return out
}
