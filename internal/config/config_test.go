package config

import (
	"os"
	"testing"
)

func clearSnapdogEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if len(kv) > len(envPrefix)+1 && kv[:len(envPrefix)+1] == envPrefix+"_" {
			name := kv[:indexOf(kv, '=')]
			os.Unsetenv(name)
		}
	}
}

func indexOf(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return len(s)
}

func TestLoadParsesZonesAndClients(t *testing.T) {
	clearSnapdogEnv(t)
	defer clearSnapdogEnv(t)

	os.Setenv("SNAPDOG_ZONE_0_NAME", "Living Room")
	os.Setenv("SNAPDOG_ZONE_0_SINK", "/tmp/snapfifo-0")
	os.Setenv("SNAPDOG_ZONE_0_KNX_PLAY", "1/2/3")
	os.Setenv("SNAPDOG_CLIENT_0_NAME", "Kitchen Speaker")
	os.Setenv("SNAPDOG_CLIENT_0_MAC", "aa:bb:cc:dd:ee:ff")
	os.Setenv("SNAPDOG_CLIENT_0_DEFAULT_ZONE", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Zones) != 1 {
		t.Fatalf("expected 1 zone, got %d", len(cfg.Zones))
	}
	z := cfg.Zones[0]
	if z.Name != "Living Room" || z.Sink != "/tmp/snapfifo-0" {
		t.Fatalf("unexpected zone: %+v", z)
	}
	addr, ok := z.Knx["play"]
	if !ok || addr.String() != "1/2/3" {
		t.Fatalf("expected zone KNX play address 1/2/3, got %v ok=%v", addr, ok)
	}

	if len(cfg.Clients) != 1 {
		t.Fatalf("expected 1 client, got %d", len(cfg.Clients))
	}
	if cfg.Clients[0].Mac != "aa:bb:cc:dd:ee:ff" {
		t.Fatalf("unexpected client mac: %s", cfg.Clients[0].Mac)
	}
}

func TestValidateRejectsMissingZoneSink(t *testing.T) {
	clearSnapdogEnv(t)
	defer clearSnapdogEnv(t)

	os.Setenv("SNAPDOG_ZONE_0_NAME", "Office")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error for missing ZONE_0_SINK")
	}
}

func TestValidateRejectsClientWithUnknownZone(t *testing.T) {
	clearSnapdogEnv(t)
	defer clearSnapdogEnv(t)

	os.Setenv("SNAPDOG_ZONE_0_NAME", "Office")
	os.Setenv("SNAPDOG_ZONE_0_SINK", "/tmp/fifo")
	os.Setenv("SNAPDOG_CLIENT_0_MAC", "11:22:33:44:55:66")
	os.Setenv("SNAPDOG_CLIENT_0_DEFAULT_ZONE", "9")

	_, err := Load()
	if err == nil {
		t.Fatal("expected validation error for client referencing unknown zone")
	}
}
