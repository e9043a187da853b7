package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/snapdog/snapdog/internal/apperr"
	"github.com/snapdog/snapdog/internal/command"
	"github.com/snapdog/snapdog/internal/config"
)

// Publish satisfies bus.Adapter: every StatusEvent is translated into a
// topic + payload pair and published with the QoS/retain rule of
// spec.md §4.6 (retain=true for state-like topics, false for edges).
func (a *Adapter) Publish(ctx context.Context, ev command.StatusEvent) error {
	if a.cli == nil || !a.cli.IsConnected() {
		return apperr.New(apperr.KindTransport, "mqtt.publish", fmt.Errorf("not connected"))
	}

	if ev.ClientMac != "" {
		return a.publishClientEvent(ev)
	}
	return a.publishZoneEvent(ev)
}

func (a *Adapter) publishZoneEvent(ev command.StatusEvent) error {
	z := a.zoneConfig(ev.ZoneIndex)
	if z == nil {
		return nil
	}

	switch ev.Kind {
	case command.EvtVolumeChanged:
		return a.pub(zoneTopic(a.cfg.BaseTopic, z.MqttBaseTopic, z.MqttTopics, z.Index, "volume_topic", "volume"),
			fmt.Sprintf("%d", ev.Volume), "volume")
	case command.EvtMuteChanged:
		return a.pub(zoneTopic(a.cfg.BaseTopic, z.MqttBaseTopic, z.MqttTopics, z.Index, "mute_topic", "mute"),
			boolPayload(ev.Muted), "mute")
	case command.EvtShuffleChanged:
		return a.pub(zoneTopic(a.cfg.BaseTopic, z.MqttBaseTopic, z.MqttTopics, z.Index, "shuffle_topic", "shuffle"),
			boolPayload(ev.Shuffle), "shuffle")
	case command.EvtRepeatTrackChanged:
		return a.pub(zoneTopic(a.cfg.BaseTopic, z.MqttBaseTopic, z.MqttTopics, z.Index, "repeat_track_topic", "repeat_track"),
			boolPayload(ev.RepeatTrack), "repeat_track")
	case command.EvtRepeatPlaylistChanged:
		return a.pub(zoneTopic(a.cfg.BaseTopic, z.MqttBaseTopic, z.MqttTopics, z.Index, "repeat_playlist_topic", "repeat_playlist"),
			boolPayload(ev.RepeatPlaylist), "repeat_playlist")
	case command.EvtPlaybackStarted, command.EvtPlaybackStopped, command.EvtPlaybackPaused:
		return a.pub(zoneTopic(a.cfg.BaseTopic, z.MqttBaseTopic, z.MqttTopics, z.Index, "state_topic", "state"),
			ev.Playback.String(), "state")
	case command.EvtTrackChanged:
		body, err := json.Marshal(ev.Track)
		if err != nil {
			return apperr.New(apperr.KindInternal, "mqtt.publish", err)
		}
		return a.pub(zoneTopic(a.cfg.BaseTopic, z.MqttBaseTopic, z.MqttTopics, z.Index, "track_topic", "track"),
			string(body), "track")
	case command.EvtPositionTick:
		return a.pub(zoneTopic(a.cfg.BaseTopic, z.MqttBaseTopic, z.MqttTopics, z.Index, "position_topic", "position"),
			fmt.Sprintf("%d", ev.PositionMs), "position")
	case command.EvtError:
		payload := fmt.Sprintf(`{"kind":%q,"detail":%q,"correlation_id":%q}`, ev.ErrorKind, ev.ErrorDetail, ev.CorrelationID)
		return a.pub(errorTopic(a.cfg.BaseTopic), payload, "error")
	default:
		return nil
	}
}

func (a *Adapter) publishClientEvent(ev command.StatusEvent) error {
	cl := a.clientConfig(ev.ClientMac)
	mac := string(ev.ClientMac)
	topics := map[string]string{}
	if cl != nil {
		topics = cl.MqttTopics
	}

	switch ev.Kind {
	case command.EvtClientVolumeChanged:
		return a.pub(clientTopic(a.cfg.BaseTopic, topics, mac, "volume_topic", "volume"), fmt.Sprintf("%d", ev.Volume), "volume")
	case command.EvtClientMuteChanged:
		return a.pub(clientTopic(a.cfg.BaseTopic, topics, mac, "mute_topic", "mute"), boolPayload(ev.Muted), "mute")
	case command.EvtClientZoneChanged:
		return a.pub(clientTopic(a.cfg.BaseTopic, topics, mac, "zone_topic", "zone"), fmt.Sprintf("%d", ev.ZoneIndex), "zone")
	default:
		return nil
	}
}

func (a *Adapter) pub(topic, payload, retainKey string) error {
	token := a.cli.Publish(topic, 1, retainFor(retainKey), payload)
	if !token.WaitTimeout(5 * time.Second) {
		return apperr.New(apperr.KindTimeout, "mqtt.publish", fmt.Errorf("publish to %s timed out", topic))
	}
	if err := token.Error(); err != nil {
		return apperr.New(apperr.KindTransport, "mqtt.publish", err)
	}
	return nil
}

func (a *Adapter) zoneConfig(idx uint32) *config.ZoneConfig {
	for i := range a.zones {
		if a.zones[i].Index == idx {
			return &a.zones[i]
		}
	}
	return nil
}

func (a *Adapter) clientConfig(mac string) *config.ClientConfig {
	for i := range a.clients {
		if a.clients[i].Mac == mac {
			return &a.clients[i]
		}
	}
	return nil
}

func boolPayload(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
