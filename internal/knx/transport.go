package knx

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	vknx "github.com/vapourismo/knx-go/knx"
	"github.com/vapourismo/knx-go/knx/cemi"
	"github.com/rs/zerolog"

	"github.com/snapdog/snapdog/internal/apperr"
	"github.com/snapdog/snapdog/internal/dpt"
	"github.com/snapdog/snapdog/internal/knxaddr"
	"github.com/snapdog/snapdog/internal/resilience"
)

// ConnectionType selects how the transport reaches the KNX bus.
type ConnectionType int

const (
	ConnTunnel ConnectionType = iota
	ConnRouter
	ConnUSB
)

func ParseConnectionType(s string) (ConnectionType, error) {
	switch s {
	case "Tunnel", "tunnel":
		return ConnTunnel, nil
	case "Router", "router":
		return ConnRouter, nil
	case "Usb", "usb", "USB":
		return ConnUSB, nil
	default:
		return 0, fmt.Errorf("unknown knx connection type %q", s)
	}
}

// DefaultGatewayPort is the standard KNXnet/IP port.
const DefaultGatewayPort = 3671

// DefaultMulticastAddress is the KNXnet/IP routing multicast group.
const DefaultMulticastAddress = "224.0.23.12"

// Config is the resolved connection configuration for a Transport.
type Config struct {
	Connection       ConnectionType
	Gateway          string
	Port             int
	MulticastAddress string
	USBDevice        string
	Timeout          time.Duration
	AutoReconnect    bool
}

func (c Config) gatewayAddr() string {
	port := c.Port
	if port == 0 {
		port = DefaultGatewayPort
	}
	return net.JoinHostPort(c.Gateway, fmt.Sprintf("%d", port))
}

func (c Config) multicastAddr() string {
	addr := c.MulticastAddress
	if addr == "" {
		addr = DefaultMulticastAddress
	}
	return net.JoinHostPort(addr, fmt.Sprintf("%d", DefaultGatewayPort))
}

// ConnState mirrors the per-connection state machine from the spec:
// Disconnected -> Connecting ->(ok) Connected ->(loss) Reconnecting -> ...;
// Stop from any state is terminal.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateStopped
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "disconnected"
	}
}

// groupClient is the subset of knx-go's tunnel/router client types this
// package depends on, letting Tunnel and Router connections share one
// send/receive loop.
type groupClient interface {
	Send(vknx.GroupEvent) error
	Inbound() <-chan vknx.GroupEvent
	Close()
}

// Transport owns a single KNX connection (tunnel or router; the USB
// connection type parses, but connecting with it always fails),
// reconnecting under a resilience.Policy when AutoReconnect is set, and
// fans inbound telegrams out to every registered listener.
type Transport struct {
	cfg    Config
	policy *resilience.Policy
	log    zerolog.Logger

	mu     sync.RWMutex
	state  ConnState
	client groupClient
	catalog atomic.Pointer[Catalog] // optional configured-DPT lookup, nil for the monitor

	listenersMu sync.Mutex
	listeners   []chan<- GroupEvent

	cancel context.CancelFunc
}

// New builds a Transport. catalog may be nil when no configured DPTs are
// available (the standalone monitor uses heuristic detection only).
func New(cfg Config, policy *resilience.Policy, catalog *Catalog, log zerolog.Logger) *Transport {
	t := &Transport{cfg: cfg, policy: policy, log: log, state: StateDisconnected}
	if catalog != nil {
		t.catalog.Store(catalog)
	}
	return t
}

// SetCatalog atomically replaces the group-address catalogue dispatch
// consults to resolve a configured DPT for an inbound telegram, per
// spec.md §3's "replaced atomically on reload": readers of dispatch see
// either the old or the new catalogue, never a partial one.
func (t *Transport) SetCatalog(cat *Catalog) { t.catalog.Store(cat) }

// State reports the current connection state.
func (t *Transport) State() ConnState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

func (t *Transport) setState(s ConnState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Subscribe registers ch to receive every inbound GroupEvent. The channel
// must be drained promptly; Transport does not buffer per-listener.
func (t *Transport) Subscribe(ch chan<- GroupEvent) {
	t.listenersMu.Lock()
	t.listeners = append(t.listeners, ch)
	t.listenersMu.Unlock()
}

// Run connects and serves until ctx is cancelled. With AutoReconnect it
// reopens the connection under the resilience policy on transport loss;
// otherwise a single loss is terminal.
func (t *Transport) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	defer cancel()

	for {
		if ctx.Err() != nil {
			t.setState(StateStopped)
			return ctx.Err()
		}

		t.setState(StateConnecting)
		client, err := t.connect(ctx)
		if err != nil {
			t.setState(StateStopped)
			return apperr.New(apperr.KindTransport, "knx.connect", err)
		}

		t.mu.Lock()
		t.client = client
		t.mu.Unlock()
		t.setState(StateConnected)
		t.log.Info().Str("connection", t.connectionLabel()).Msg("knx transport connected")

		lossErr := t.serve(ctx, client)
		client.Close()

		if ctx.Err() != nil {
			t.setState(StateStopped)
			return ctx.Err()
		}
		if !t.cfg.AutoReconnect {
			t.setState(StateStopped)
			return apperr.New(apperr.KindTransport, "knx.serve", lossErr)
		}

		t.setState(StateReconnecting)
		t.log.Warn().Err(lossErr).Msg("knx transport lost, reconnecting")
	}
}

// Stop cancels the transport's run loop, if running.
func (t *Transport) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *Transport) connect(ctx context.Context) (groupClient, error) {
	var client groupClient
	err := t.policy.Do(ctx, "knx.connect", func(attemptCtx context.Context) error {
		c, err := t.dial(attemptCtx)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	return client, err
}

func (t *Transport) dial(ctx context.Context) (groupClient, error) {
	switch t.cfg.Connection {
	case ConnTunnel:
		tunnelCfg := vknx.TunnelConfig{}
		if t.cfg.Timeout > 0 {
			tunnelCfg.ResendInterval = t.cfg.Timeout
		}
		tunnel, err := vknx.NewGroupTunnel(t.cfg.gatewayAddr(), tunnelCfg)
		if err != nil {
			return nil, err
		}
		return &tunnel, nil
	case ConnRouter:
		router, err := vknx.NewGroupRouter(t.cfg.multicastAddr(), vknx.RouterConfig{})
		if err != nil {
			return nil, err
		}
		return &router, nil
	case ConnUSB:
		// knx-go has no USB/HID transport; USB mode requires a platform
		// HID backend this module does not vendor. Fail clearly rather
		// than silently falling back to another connection type.
		return nil, fmt.Errorf("usb connection mode is not supported by the available knx transport library")
	default:
		return nil, fmt.Errorf("unknown connection type %d", t.cfg.Connection)
	}
}

func (t *Transport) connectionLabel() string {
	switch t.cfg.Connection {
	case ConnRouter:
		return "router"
	case ConnUSB:
		return "usb"
	default:
		return "tunnel"
	}
}

// serve pumps the client's inbound channel until it closes or ctx cancels.
func (t *Transport) serve(ctx context.Context, client groupClient) error {
	inbound := client.Inbound()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-inbound:
			if !ok {
				return fmt.Errorf("knx inbound channel closed")
			}
			t.dispatch(ev)
		}
	}
}

func (t *Transport) dispatch(ev vknx.GroupEvent) {
	addr := knxaddr.FromRaw16(uint16(ev.Destination))

	var apci APCI
	switch ev.Command {
	case vknx.GroupRead:
		apci = APCIRead
	case vknx.GroupResponse:
		apci = APCIResponse
	default:
		apci = APCIWrite
	}

	out := GroupEvent{
		Source:      ev.Source.String(),
		Destination: addr,
		APCI:        apci,
		Raw:         append([]byte(nil), ev.Data...),
		At:          time.Now(),
	}

	if apci != APCIRead && len(ev.Data) > 0 {
		if cat := t.catalog.Load(); cat != nil {
			if id, ok := cat.DptFor(addr); ok {
				if v, err := dpt.Decode(ev.Data, id); err == nil {
					out.Value = &v
				}
			}
		}
		if out.Value == nil {
			v := dpt.Detect(ev.Data)
			out.Value = &v
		}
	}

	t.listenersMu.Lock()
	listeners := append([]chan<- GroupEvent(nil), t.listeners...)
	t.listenersMu.Unlock()
	for _, ch := range listeners {
		select {
		case ch <- out:
		default:
			t.log.Warn().Str("dst", addr.String()).Msg("knx listener channel full, event dropped")
		}
	}
}

// SendGroupWrite encodes value per id and writes it to address.
func (t *Transport) SendGroupWrite(ctx context.Context, address knxaddr.Address, value dpt.Value, id dpt.Id) error {
	raw, err := dpt.Encode(value, id)
	if err != nil {
		return apperr.New(apperr.KindDpt, "knx.send_group_write", err)
	}
	return t.send(ctx, address, vknx.GroupWrite, raw)
}

// SendGroupRead issues a GroupValue_Read for address.
func (t *Transport) SendGroupRead(ctx context.Context, address knxaddr.Address) error {
	return t.send(ctx, address, vknx.GroupRead, nil)
}

func (t *Transport) send(ctx context.Context, address knxaddr.Address, cmd vknx.GroupCommand, data []byte) error {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	if client == nil {
		return apperr.New(apperr.KindTransport, "knx.send", fmt.Errorf("not connected"))
	}

	ev := vknx.GroupEvent{
		Command:     cmd,
		Destination: cemi.GroupAddr(address.Raw16()),
		Data:        data,
	}
	return t.policy.Do(ctx, "knx.send", func(context.Context) error {
		return client.Send(ev)
	})
}

// ReadGroupValue sends a read and awaits a matching response until ctx is
// done, which it reports as KindTimeout. It applies no timeout of its own:
// ctx alone bounds the wait.
func (t *Transport) ReadGroupValue(ctx context.Context, address knxaddr.Address, id dpt.Id) (dpt.Value, error) {
	ch := make(chan GroupEvent, 8)
	t.Subscribe(ch)
	defer t.unsubscribe(ch)

	if err := t.SendGroupRead(ctx, address); err != nil {
		return dpt.Value{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return dpt.Value{}, apperr.New(apperr.KindTimeout, "knx.read_group_value", ctx.Err())
		case ev := <-ch:
			if !ev.Destination.Equal(address) || ev.APCI != APCIResponse {
				continue
			}
			v, err := dpt.Decode(ev.Raw, id)
			if err != nil {
				return dpt.Value{}, apperr.New(apperr.KindDpt, "knx.read_group_value", err)
			}
			return v, nil
		}
	}
}

func (t *Transport) unsubscribe(target chan<- GroupEvent) {
	t.listenersMu.Lock()
	defer t.listenersMu.Unlock()
	for i, ch := range t.listeners {
		if ch == target {
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}
