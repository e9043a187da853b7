package config

import (
	"fmt"
)

// Validate checks the cross-field and range invariants Load cannot catch
// field-by-field. Any failure is fatal at startup per spec §6/§7 — Config
// is the only error kind that is never retried.
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return errConfig("API_PORT", fmt.Sprintf("out of range: %d", c.API.Port))
	}
	if c.API.AuthEnabled && len(c.API.APIKeys) == 0 {
		return errConfig("API_AUTH_ENABLED", "enabled but no APIKEY_n values configured")
	}

	if c.Audio.BitDepth != 8 && c.Audio.BitDepth != 16 && c.Audio.BitDepth != 24 && c.Audio.BitDepth != 32 {
		return errConfig("AUDIO_BIT_DEPTH", fmt.Sprintf("unsupported bit depth %d", c.Audio.BitDepth))
	}
	if c.Audio.Channels <= 0 {
		return errConfig("AUDIO_CHANNELS", "must be positive")
	}
	if c.Audio.SampleRate <= 0 {
		return errConfig("AUDIO_SAMPLE_RATE", "must be positive")
	}

	if c.Knx.Enabled {
		// Same spellings knx.ParseConnectionType accepts; that package
		// imports config, so it cannot be called from here.
		switch c.Knx.ConnectionType {
		case "Tunnel", "tunnel", "Router", "router", "Usb", "usb", "USB":
		default:
			return errConfig("SERVICES_KNX_CONNECTION_TYPE", fmt.Sprintf("unknown knx connection type %q", c.Knx.ConnectionType))
		}
		if c.Knx.ConnectionType == "Tunnel" && c.Knx.Gateway == "" {
			return errConfig("SERVICES_KNX_GATEWAY", "required for Tunnel connection type")
		}
	}

	if c.Mqtt.Enabled && c.Mqtt.BrokerAddress == "" {
		return errConfig("SERVICES_MQTT_BROKER_ADDRESS", "required when MQTT is enabled")
	}

	if c.Subsonic.Enabled && c.Subsonic.URL == "" {
		return errConfig("SERVICES_SUBSONIC_URL", "required when Subsonic is enabled")
	}

	if c.Library.Enabled && c.Library.Directory == "" {
		return errConfig("LIBRARY_DIRECTORY", "required when the local library is enabled")
	}

	seenZones := map[uint32]bool{}
	for _, z := range c.Zones {
		if z.Name == "" {
			return errConfig(fmt.Sprintf("ZONE_%d_NAME", z.Index), "required")
		}
		if z.Sink == "" {
			return errConfig(fmt.Sprintf("ZONE_%d_SINK", z.Index), "required")
		}
		if seenZones[z.Index] {
			return errConfig(fmt.Sprintf("ZONE_%d", z.Index), "duplicate zone index")
		}
		seenZones[z.Index] = true
	}
	if len(c.Zones) == 0 {
		return errConfig("ZONE_0_NAME", "at least one zone must be configured")
	}

	seenMacs := map[string]bool{}
	for _, cl := range c.Clients {
		if cl.Mac == "" {
			return errConfig(fmt.Sprintf("CLIENT_%d_MAC", cl.Index), "required")
		}
		if seenMacs[cl.Mac] {
			return errConfig(fmt.Sprintf("CLIENT_%d_MAC", cl.Index), "duplicate MAC across clients")
		}
		seenMacs[cl.Mac] = true
		if !seenZones[cl.DefaultZone] {
			return errConfig(fmt.Sprintf("CLIENT_%d_DEFAULT_ZONE", cl.Index), "references unknown zone")
		}
	}

	for _, r := range c.Radios {
		if r.URL == "" {
			return errConfig(fmt.Sprintf("RADIO_%d_URL", r.Index), "required")
		}
	}

	return nil
}
