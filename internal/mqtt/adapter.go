package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqttlib "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snapdog/snapdog/internal/apperr"
	"github.com/snapdog/snapdog/internal/command"
	"github.com/snapdog/snapdog/internal/config"
	"github.com/snapdog/snapdog/internal/resilience"
	"github.com/snapdog/snapdog/internal/zone"
)

// DispatchFunc fires a parsed Command onto the bus; normally
// *bus.Dispatcher.Dispatch adapted to drop its snapshot return, mirroring
// internal/knx.DispatchFunc.
type DispatchFunc func(ctx context.Context, cmd command.Command) error

// ZoneMuteFunc returns a zone's current mute state, used to resolve a
// "toggle" payload on a zone mute topic into an absolute SetMute.
type ZoneMuteFunc func(zoneIndex uint32) (bool, bool)

// Adapter owns the broker connection, subscribes to every configured
// *_SET_TOPIC, parses inbound payloads into Commands, and publishes
// StatusEvents as retained/non-retained messages per spec.md §4.6.
type Adapter struct {
	cfg      config.MqttConfig
	zones    []config.ZoneConfig
	clients  []config.ClientConfig
	dispatch DispatchFunc
	muteOf   ZoneMuteFunc
	policy   *resilience.Policy
	log      zerolog.Logger

	cli mqttlib.Client
}

// New builds an Adapter; Connect must be called before Publish/Run do
// anything useful.
func New(cfg config.MqttConfig, zones []config.ZoneConfig, clients []config.ClientConfig, dispatch DispatchFunc, muteOf ZoneMuteFunc, log zerolog.Logger) *Adapter {
	return &Adapter{
		cfg:      cfg,
		zones:    zones,
		clients:  clients,
		dispatch: dispatch,
		muteOf:   muteOf,
		policy:   resilience.New(cfg.Connection),
		log:      log,
	}
}

// Connect dials the broker under the connection policy, publishing the
// "online" LWT-paired retained status message once connected, and
// subscribes every configured command topic.
func (a *Adapter) Connect(ctx context.Context) error {
	opts := mqttlib.NewClientOptions()
	scheme := "tcp"
	if a.cfg.SslEnabled {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, a.cfg.BrokerAddress, a.cfg.Port))
	opts.SetClientID(a.cfg.ClientID)
	if a.cfg.Username != "" {
		opts.SetUsername(a.cfg.Username)
		opts.SetPassword(a.cfg.Password)
	}
	opts.SetKeepAlive(time.Duration(a.cfg.KeepAlive) * time.Second)
	opts.SetWill(statusTopic(a.cfg.BaseTopic), "offline", 1, true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(c mqttlib.Client) {
		a.log.Info().Msg("mqtt connected")
		c.Publish(statusTopic(a.cfg.BaseTopic), 1, true, "online")
		a.subscribeAll(c)
	})
	opts.SetConnectionLostHandler(func(_ mqttlib.Client, err error) {
		a.log.Warn().Err(err).Msg("mqtt connection lost")
	})

	a.cli = mqttlib.NewClient(opts)

	return a.policy.Do(ctx, "mqtt.connect", func(context.Context) error {
		token := a.cli.Connect()
		if !token.WaitTimeout(a.connectTimeout()) {
			return fmt.Errorf("mqtt connect timed out")
		}
		if err := token.Error(); err != nil {
			return err
		}
		return nil
	})
}

func (a *Adapter) connectTimeout() time.Duration {
	if a.cfg.Connection.Timeout > 0 {
		return a.cfg.Connection.Timeout
	}
	return 5 * time.Second
}

// Disconnect closes the broker connection, publishing "offline" first so
// well-behaved subscribers see a clean shutdown rather than waiting for
// the LWT to fire.
func (a *Adapter) Disconnect() {
	if a.cli == nil {
		return
	}
	if a.cli.IsConnected() {
		tok := a.cli.Publish(statusTopic(a.cfg.BaseTopic), 1, true, "offline")
		tok.WaitTimeout(2 * time.Second)
	}
	a.cli.Disconnect(250)
}

func (a *Adapter) subscribeAll(c mqttlib.Client) {
	for _, z := range a.zones {
		a.subscribeZone(c, z)
	}
	for _, cl := range a.clients {
		a.subscribeClient(c, cl)
	}
}

func (a *Adapter) subscribeZone(c mqttlib.Client, z config.ZoneConfig) {
	base := z.MqttBaseTopic
	sub := func(key, suffix string, handle func(zone.ClientMac, string)) {
		topic := zoneTopic(a.cfg.BaseTopic, base, z.MqttTopics, z.Index, key, suffix)
		c.Subscribe(topic, 1, func(_ mqttlib.Client, msg mqttlib.Message) {
			handle("", string(msg.Payload()))
		})
	}
	sub("control_set_topic", "control/set", func(_ zone.ClientMac, payload string) { a.handleControl(z.Index, payload) })
	sub("volume_set_topic", "volume/set", func(_ zone.ClientMac, payload string) { a.handleZoneVolume(z.Index, payload) })
	sub("mute_set_topic", "mute/set", func(_ zone.ClientMac, payload string) { a.handleZoneMute(z.Index, payload) })
	sub("shuffle_set_topic", "shuffle/set", func(_ zone.ClientMac, payload string) { a.handleZoneBoolCmd(z.Index, command.CmdSetShuffle, payload) })
	sub("repeat_track_set_topic", "repeat_track/set", func(_ zone.ClientMac, payload string) { a.handleZoneBoolCmd(z.Index, command.CmdSetRepeatTrack, payload) })
	sub("repeat_playlist_set_topic", "repeat_playlist/set", func(_ zone.ClientMac, payload string) { a.handleZoneBoolCmd(z.Index, command.CmdSetRepeatPlaylist, payload) })
	sub("playlist_set_topic", "playlist/set", func(_ zone.ClientMac, payload string) {
		a.submit(command.Command{Kind: command.CmdSelectPlaylist, ZoneIndex: z.Index, PlaylistID: payload})
	})
}

func (a *Adapter) subscribeClient(c mqttlib.Client, cl config.ClientConfig) {
	sub := func(key, suffix string, handle func(string)) {
		topic := clientTopic(a.cfg.BaseTopic, cl.MqttTopics, cl.Mac, key, suffix)
		c.Subscribe(topic, 1, func(_ mqttlib.Client, msg mqttlib.Message) {
			handle(string(msg.Payload()))
		})
	}
	sub("volume_set_topic", "volume/set", func(payload string) { a.handleClientVolume(cl.Mac, payload) })
	sub("mute_set_topic", "mute/set", func(payload string) { a.handleClientMute(cl.Mac, payload) })
	sub("zone_set_topic", "zone/set", func(payload string) {
		idx, err := strconv.ParseUint(strings.TrimSpace(payload), 10, 32)
		if err != nil {
			a.log.Warn().Str("payload", payload).Msg("mqtt: invalid zone assignment payload")
			return
		}
		a.submit(command.Command{Kind: command.CmdAssignClientToZone, ClientMac: zone.ClientMac(cl.Mac), TargetZone: uint32(idx)})
	})
}

func (a *Adapter) handleControl(zoneIndex uint32, payload string) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "play":
		a.submit(command.Command{Kind: command.CmdPlay, ZoneIndex: zoneIndex})
	case "pause":
		a.submit(command.Command{Kind: command.CmdPause, ZoneIndex: zoneIndex})
	case "stop":
		a.submit(command.Command{Kind: command.CmdStop, ZoneIndex: zoneIndex})
	case "next":
		a.submit(command.Command{Kind: command.CmdNext, ZoneIndex: zoneIndex})
	case "previous", "prev":
		a.submit(command.Command{Kind: command.CmdPrev, ZoneIndex: zoneIndex})
	default:
		a.log.Warn().Str("payload", payload).Msg("mqtt: unrecognized control payload")
	}
}

func (a *Adapter) handleZoneVolume(zoneIndex uint32, payload string) {
	v, err := parseIntInRange(payload, 0, 100)
	if err != nil {
		a.log.Warn().Str("payload", payload).Err(err).Msg("mqtt: invalid volume payload")
		return
	}
	a.submit(command.Command{Kind: command.CmdSetVolume, ZoneIndex: zoneIndex, Volume: uint8(v)})
}

func (a *Adapter) handleZoneMute(zoneIndex uint32, payload string) {
	b, toggle, err := parseBoolShaped(payload)
	if err != nil {
		a.log.Warn().Str("payload", payload).Err(err).Msg("mqtt: invalid mute payload")
		return
	}
	if toggle {
		if a.muteOf == nil {
			a.log.Warn().Uint32("zone", zoneIndex).Msg("mqtt: toggle mute requested but no state lookup wired")
			return
		}
		cur, ok := a.muteOf(zoneIndex)
		if !ok {
			return
		}
		b = !cur
	}
	a.submit(command.Command{Kind: command.CmdSetMute, ZoneIndex: zoneIndex, Bool: b})
}

func (a *Adapter) handleZoneBoolCmd(zoneIndex uint32, kind command.Kind, payload string) {
	b, _, err := parseBoolShaped(payload)
	if err != nil {
		a.log.Warn().Str("payload", payload).Err(err).Msg("mqtt: invalid boolean payload")
		return
	}
	a.submit(command.Command{Kind: kind, ZoneIndex: zoneIndex, Bool: b})
}

func (a *Adapter) handleClientVolume(mac, payload string) {
	v, err := parseIntInRange(payload, 0, 100)
	if err != nil {
		a.log.Warn().Str("payload", payload).Err(err).Msg("mqtt: invalid client volume payload")
		return
	}
	a.submit(command.Command{Kind: command.CmdSetClientVolume, ClientMac: zone.ClientMac(mac), Volume: uint8(v)})
}

func (a *Adapter) handleClientMute(mac, payload string) {
	b, toggle, err := parseBoolShaped(payload)
	if err != nil {
		a.log.Warn().Str("payload", payload).Err(err).Msg("mqtt: invalid client mute payload")
		return
	}
	if toggle {
		a.submit(command.Command{Kind: command.CmdToggleClientMute, ClientMac: zone.ClientMac(mac)})
		return
	}
	a.submit(command.Command{Kind: command.CmdSetClientMute, ClientMac: zone.ClientMac(mac), Bool: b})
}

func (a *Adapter) submit(cmd command.Command) {
	cmd.Source = command.SourceMqtt
	cmd.CorrelationID = uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.dispatch(ctx, cmd); err != nil {
		a.publishError(err, cmd.CorrelationID)
	}
}

func (a *Adapter) publishError(err error, correlationID string) {
	kind := apperr.KindOf(err)
	payload := fmt.Sprintf(`{"kind":%q,"detail":%q,"correlation_id":%q}`, kind.String(), err.Error(), correlationID)
	if a.cli != nil && a.cli.IsConnected() {
		a.cli.Publish(errorTopic(a.cfg.BaseTopic), 1, false, payload)
	}
}

// parseIntInRange parses a decimal integer payload, failing if outside
// [lo, hi], per spec.md §4.6 "int-shaped topics parse decimal integers
// within declared range".
func parseIntInRange(payload string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(payload))
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", payload)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("value %d out of range [%d,%d]", v, lo, hi)
	}
	return v, nil
}

// parseBoolShaped accepts true|false|1|0|on|off|toggle per spec.md §4.6.
// The second return reports whether payload was "toggle" (the caller then
// needs current state to resolve the actual boolean; for toggle callers
// the first value carries no meaning and is ignored).
func parseBoolShaped(payload string) (value bool, toggle bool, err error) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "true", "1", "on":
		return true, false, nil
	case "false", "0", "off":
		return false, false, nil
	case "toggle":
		return false, true, nil
	default:
		return false, false, fmt.Errorf("not a boolean-shaped payload: %q", payload)
	}
}
