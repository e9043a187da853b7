package snapcast

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapdog/snapdog/internal/config"
)

// fakeRPC is an in-memory Snapcast server: it tracks groups/clients and
// mutates them in response to the same RPC calls Control issues, so
// Tick's convergence can be exercised without a real server.
type fakeRPC struct {
	mu     sync.Mutex
	groups map[string]*Group
	calls  []string
}

func newFakeRPC(groups ...Group) *fakeRPC {
	m := make(map[string]*Group, len(groups))
	for i := range groups {
		g := groups[i]
		m[g.ID] = &g
	}
	return &fakeRPC{groups: m}
}

func (f *fakeRPC) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.calls {
		if m == method {
			n++
		}
	}
	return n
}

func (f *fakeRPC) Call(ctx context.Context, method string, params, result interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)

	switch method {
	case "Server.GetStatus":
		wrapped := result.(*statusResult)
		var groups []Group
		for _, g := range f.groups {
			groups = append(groups, *g)
		}
		sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
		wrapped.Server.Groups = groups
		return nil

	case "Group.SetClients":
		p := params.(map[string]interface{})
		groupID := p["id"].(string)
		clientIDs := p["clients"].([]string)
		for _, cid := range clientIDs {
			var moved Client
			for _, g := range f.groups {
				for i, c := range g.Clients {
					if c.ID == cid {
						moved = c
						g.Clients = append(g.Clients[:i], g.Clients[i+1:]...)
						break
					}
				}
			}
			if moved.ID == "" {
				moved = Client{ID: cid, Connected: true}
			}
			f.groups[groupID].Clients = append(f.groups[groupID].Clients, moved)
		}
		return nil

	case "Group.SetStream":
		p := params.(map[string]interface{})
		f.groups[p["id"].(string)].StreamID = p["stream_id"].(string)
		return nil

	case "Client.SetName":
		p := params.(map[string]interface{})
		cid := p["id"].(string)
		name := p["name"].(string)
		for _, g := range f.groups {
			for i, c := range g.Clients {
				if c.ID == cid {
					g.Clients[i].Config.Name = name
				}
			}
		}
		return nil
	}
	return nil
}

func (f *fakeRPC) Events() <-chan Event { return nil }
func (f *fakeRPC) Close() error         { return nil }

func TestReconcilerTickMovesMisplacedClient(t *testing.T) {
	rpc := newFakeRPC(
		Group{ID: "g-living", StreamID: "living"},
		Group{ID: "g-kitchen", StreamID: "kitchen", Clients: []Client{
			{ID: "aa:bb:cc:dd:ee:01", Connected: true},
		}},
	)
	control := NewControl(rpc, zerolog.Nop())

	clients := []config.ClientConfig{
		{Index: 0, Name: "Living Room Speaker", Mac: "aa:bb:cc:dd:ee:01", DefaultZone: 0},
	}
	zones := []ZoneSink{{ZoneIndex: 0, StreamID: "living"}}

	r := New(control, clients, zones, time.Hour, time.Second, nil, zerolog.Nop())

	if err := r.Tick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	if got := rpc.callCount("Group.SetClients"); got != 1 {
		t.Fatalf("expected 1 Group.SetClients call after first tick, got %d", got)
	}

	rpc.mu.Lock()
	living := rpc.groups["g-living"]
	rpc.mu.Unlock()
	if len(living.Clients) != 1 || living.Clients[0].ID != "aa:bb:cc:dd:ee:01" {
		t.Fatalf("expected client moved into g-living, got %+v", living.Clients)
	}
}

// TestReconcilerTickIsIdempotent verifies spec.md's fixpoint property: once
// a client sits in the group matching its target zone's stream, a second
// Tick against the same server state issues no further convergence RPCs.
func TestReconcilerTickIsIdempotent(t *testing.T) {
	rpc := newFakeRPC(
		Group{ID: "g-living", StreamID: "living"},
		Group{ID: "g-kitchen", StreamID: "kitchen", Clients: []Client{
			{ID: "aa:bb:cc:dd:ee:01", Connected: true},
		}},
	)
	control := NewControl(rpc, zerolog.Nop())

	clients := []config.ClientConfig{
		{Index: 0, Name: "Living Room Speaker", Mac: "aa:bb:cc:dd:ee:01", DefaultZone: 0},
	}
	zones := []ZoneSink{{ZoneIndex: 0, StreamID: "living"}}

	r := New(control, clients, zones, time.Hour, time.Second, nil, zerolog.Nop())

	if err := r.Tick(context.Background()); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	before := rpc.callCount("Group.SetClients") + rpc.callCount("Group.SetStream")

	if err := r.Tick(context.Background()); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	after := rpc.callCount("Group.SetClients") + rpc.callCount("Group.SetStream")

	if after != before {
		t.Fatalf("expected zero additional convergence calls on an already-converged server, went from %d to %d", before, after)
	}
}

func TestReconcilerAssignOverrideTakesPrecedence(t *testing.T) {
	rpc := newFakeRPC(
		Group{ID: "g-living", StreamID: "living"},
		Group{ID: "g-kitchen", StreamID: "kitchen", Clients: []Client{
			{ID: "aa:bb:cc:dd:ee:01", Connected: true},
		}},
	)
	control := NewControl(rpc, zerolog.Nop())

	clients := []config.ClientConfig{
		{Index: 1, Name: "Kitchen Speaker", Mac: "aa:bb:cc:dd:ee:01", DefaultZone: 1},
	}
	zones := []ZoneSink{
		{ZoneIndex: 0, StreamID: "living"},
		{ZoneIndex: 1, StreamID: "kitchen"},
	}

	r := New(control, clients, zones, time.Hour, time.Second, nil, zerolog.Nop())

	if err := r.AssignOverride(context.Background(), "aa:bb:cc:dd:ee:01", 0); err != nil {
		t.Fatalf("assign override: %v", err)
	}

	rpc.mu.Lock()
	living := rpc.groups["g-living"]
	rpc.mu.Unlock()
	if len(living.Clients) != 1 {
		t.Fatalf("expected override to move client into g-living, got %+v", living.Clients)
	}

	cs, ok := r.Snapshot("aa:bb:cc:dd:ee:01")
	if !ok || cs.ZoneIndex == nil || *cs.ZoneIndex != 0 {
		t.Fatalf("expected snapshot zone index 0 after override, got %+v", cs)
	}
}
