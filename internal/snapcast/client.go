// Package snapcast implements the SnapcastControl port (spec.md §4.5):
// a hand-rolled JSON-RPC-over-TCP client to the Snapcast server's control
// channel, plus the zone-grouping Reconciler that drives the server's
// observed client/group state toward the declared configuration.
//
// No off-the-shelf Snapcast Go client covers this wire protocol (out of
// scope per spec.md §1: "specified only at their interface"), so Conn
// is a small hand-rolled network client with its own request/response
// bookkeeping, rather than reaching for a generic JSON-RPC library.
package snapcast

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snapdog/snapdog/internal/apperr"
	"github.com/snapdog/snapdog/internal/resilience"
)

// rpcRequest / rpcResponse mirror Snapcast's JSON-RPC 2.0 framing: one
// JSON object per line over the TCP control socket.
type rpcRequest struct {
	ID      string      `json:"id"`
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	Method string          `json:"method,omitempty"` // non-empty on server->client notifications
	Params json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("snapcast rpc error %d: %s", e.Code, e.Message) }

// Client model types, trimmed to the fields the reconciler and the bus
// adapter need from a Snapcast "Server.GetStatus" result.
type Client struct {
	ID         string `json:"id"` // MAC address
	Connected  bool   `json:"connected"`
	Config     ClientConfig `json:"config"`
	LastSeen   struct {
		Sec  int64 `json:"sec"`
		Usec int64 `json:"usec"`
	} `json:"lastSeen"`
}

type ClientConfig struct {
	Name     string `json:"name"`
	Volume   struct {
		Percent int  `json:"percent"`
		Muted   bool `json:"muted"`
	} `json:"volume"`
	Latency int `json:"latency"`
}

type Group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	StreamID string  `json:"stream_id"`
	Clients []Client `json:"clients"`
}

type ServerStatus struct {
	Groups []Group `json:"groups"`
}

// Event is a decoded server->client notification (e.g.
// "Client.OnConnect", "Client.OnVolumeChanged", "Group.OnStreamChanged").
type Event struct {
	Method string
	Raw    json.RawMessage
}

// RPC is the minimal JSON-RPC transport Control needs; satisfied by
// *Conn, mocked in tests.
type RPC interface {
	Call(ctx context.Context, method string, params, result interface{}) error
	Events() <-chan Event
	Close() error
}

// Conn is a TCP connection to Snapcast's JSON-RPC control port
// (default 1705), one request in flight per id, serialized writes.
type Conn struct {
	addr   string
	policy *resilience.Policy
	log    zerolog.Logger

	mu      sync.Mutex
	nc      net.Conn
	w       *bufio.Writer
	pending map[string]chan rpcResponse

	events chan Event
	closed chan struct{}
}

// Dial opens addr (host:port) under policy and starts the read pump.
func Dial(ctx context.Context, addr string, policy *resilience.Policy, log zerolog.Logger) (*Conn, error) {
	c := &Conn{
		addr:    addr,
		policy:  policy,
		log:     log,
		pending: make(map[string]chan rpcResponse),
		events:  make(chan Event, 64),
		closed:  make(chan struct{}),
	}

	var nc net.Conn
	err := policy.Do(ctx, "snapcast.connect", func(attemptCtx context.Context) error {
		d := net.Dialer{}
		conn, derr := d.DialContext(attemptCtx, "tcp", addr)
		if derr != nil {
			return derr
		}
		nc = conn
		return nil
	})
	if err != nil {
		return nil, apperr.New(apperr.KindTransport, "snapcast.dial", err)
	}

	c.nc = nc
	c.w = bufio.NewWriter(nc)
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	defer close(c.events)
	scanner := bufio.NewScanner(c.nc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			c.log.Warn().Err(err).Msg("snapcast: malformed rpc frame")
			continue
		}
		if resp.Method != "" {
			select {
			case c.events <- Event{Method: resp.Method, Raw: resp.Params}:
			default:
				c.log.Warn().Str("method", resp.Method).Msg("snapcast event channel full, event dropped")
			}
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		if ok {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
	close(c.closed)
}

// Call issues an RPC request and decodes its result into result (may be
// nil for fire-and-forget calls where the caller doesn't need the body).
func (c *Conn) Call(ctx context.Context, method string, params, result interface{}) error {
	id := uuid.NewString()
	req := rpcRequest{ID: id, JSONRPC: "2.0", Method: method, Params: params}

	body, err := json.Marshal(req)
	if err != nil {
		return apperr.New(apperr.KindInternal, "snapcast.call", err)
	}

	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.writeLine(body); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return apperr.New(apperr.KindTransport, "snapcast.call", err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return apperr.New(apperr.KindTimeout, "snapcast.call", ctx.Err())
	case resp := <-ch:
		if resp.Error != nil {
			return apperr.New(apperr.KindProtocol, "snapcast.call", resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return apperr.New(apperr.KindProtocol, "snapcast.call", err)
			}
		}
		return nil
	case <-c.closed:
		return apperr.New(apperr.KindTransport, "snapcast.call", fmt.Errorf("connection closed"))
	}
}

func (c *Conn) writeLine(body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(body); err != nil {
		return err
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return err
	}
	return c.w.Flush()
}

// Events returns the stream of server->client notifications.
func (c *Conn) Events() <-chan Event { return c.events }

// Close shuts down the connection. Safe to call multiple times.
func (c *Conn) Close() error {
	if c.nc == nil {
		return nil
	}
	return c.nc.Close()
}

// Control (the control surface) wraps RPC with the typed calls spec.md §4.5
// requires: list_clients, set_client_volume, set_client_mute,
// set_client_group, set_group_stream, rename_client.
type Control struct {
	rpc RPC
	log zerolog.Logger
}

func NewControl(rpc RPC, log zerolog.Logger) *Control {
	return &Control{rpc: rpc, log: log}
}

// statusResult mirrors Snapcast's actual "Server.GetStatus" envelope,
// which nests groups one level deeper than ServerStatus for convenience
// elsewhere in this package.
type statusResult struct {
	Server struct {
		Groups []Group `json:"groups"`
	} `json:"server"`
}

func (c *Control) Status(ctx context.Context) (ServerStatus, error) {
	var wrapped statusResult
	if err := c.rpc.Call(ctx, "Server.GetStatus", nil, &wrapped); err != nil {
		return ServerStatus{}, err
	}
	return ServerStatus{Groups: wrapped.Server.Groups}, nil
}

func (c *Control) SetClientVolume(ctx context.Context, clientID string, percent int, muted bool) error {
	params := map[string]interface{}{
		"id": clientID,
		"volume": map[string]interface{}{
			"percent": percent,
			"muted":   muted,
		},
	}
	return c.rpc.Call(ctx, "Client.SetVolume", params, nil)
}

func (c *Control) SetClientMute(ctx context.Context, clientID string, muted bool) error {
	params := map[string]interface{}{"id": clientID, "muted": muted}
	return c.rpc.Call(ctx, "Client.SetVolume", params, nil)
}

func (c *Control) SetClientGroup(ctx context.Context, groupID, clientID string) error {
	params := map[string]interface{}{"id": groupID, "clients": []string{clientID}}
	return c.rpc.Call(ctx, "Group.SetClients", params, nil)
}

func (c *Control) SetGroupStream(ctx context.Context, groupID, streamID string) error {
	params := map[string]interface{}{"id": groupID, "stream_id": streamID}
	return c.rpc.Call(ctx, "Group.SetStream", params, nil)
}

func (c *Control) RenameClient(ctx context.Context, clientID, name string) error {
	params := map[string]interface{}{"id": clientID, "name": name}
	return c.rpc.Call(ctx, "Client.SetName", params, nil)
}
