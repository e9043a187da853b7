// Package mqtt implements the MQTT adapter of spec.md §4.6: topic
// templating built from BaseTopic + per-zone/per-client suffixes,
// command-topic subscription and payload parsing, and StatusEvent
// publication with the documented QoS/retain rules. Topic helper
// functions follow the small-pure-function style of
// nerrad567-gray-logic-stack's CommandSubscribeTopic/StateTopic/AckTopic
// naming, generalized from one device-command topic to the zone/client
// topic table spec.md §6 enumerates per ZONE_{i}_MQTT_*/CLIENT_{i}_MQTT_*.
package mqtt

import "fmt"

// zoneTopic returns the zone's configured topic for key (e.g.
// "volume_set_topic") when one is set; otherwise it joins the zone's MQTT
// base topic (or BaseTopic/zone/<index> when that is empty) with
// fallbackSuffix.
func zoneTopic(baseTopic, zoneBase string, topics map[string]string, zoneIndex uint32, key, fallbackSuffix string) string {
	if t, ok := topics[key]; ok && t != "" {
		return t
	}
	prefix := zoneBase
	if prefix == "" {
		prefix = fmt.Sprintf("%s/zone/%d", baseTopic, zoneIndex)
	}
	return prefix + "/" + fallbackSuffix
}

func clientTopic(baseTopic string, topics map[string]string, mac, key, fallbackSuffix string) string {
	if t, ok := topics[key]; ok && t != "" {
		return t
	}
	return fmt.Sprintf("%s/client/%s/%s", baseTopic, mac, fallbackSuffix)
}

// statusTopic is the BaseTopic-rooted liveness topic carrying the LWT.
func statusTopic(baseTopic string) string { return baseTopic + "/status" }

// errorTopic carries {kind, detail, correlation_id} payloads per spec.md
// §7 "to an MQTT error topic payload".
func errorTopic(baseTopic string) string { return baseTopic + "/error" }

// retainFor reports whether a topic key is state-like (retain=true) or an
// edge event (retain=false), per spec.md §4.6.
func retainFor(key string) bool {
	switch key {
	case "volume", "mute", "state", "track", "shuffle", "repeat_track", "repeat_playlist":
		return true
	default:
		return false
	}
}
