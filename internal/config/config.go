// Package config loads the hierarchical SnapDog configuration from
// environment variables prefixed SNAPDOG_, joined by underscores, per
// spec §6. Scalar sections are bound through viper (carried from the
// pack's config conventions); the indexed ZONE_/CLIENT_/RADIO_ blocks are
// enumerated by hand since viper has no native support for sparse,
// dynamically-numbered array sections. Mapping from env key to struct
// field is a pure function, independently testable. Parsing is lenient
// and reports no error: an unparsable number or boolean reads as zero or
// false, an unknown backoff name reads as exponential, and an unparsable
// group address is skipped. The KindConfig errors naming a key come only
// from Validate's range and presence checks.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/snapdog/snapdog/internal/apperr"
	"github.com/snapdog/snapdog/internal/knxaddr"
	"github.com/snapdog/snapdog/internal/resilience"
)

const envPrefix = "SNAPDOG"

// Config is the fully resolved, validated configuration snapshot loaded
// once at startup. It is never mutated after Load returns; a config
// reload is out of scope (only the KNX group-address catalogue supports
// ReloadCatalogue).
type Config struct {
	System   SystemConfig
	API      APIConfig
	Snapcast SnapcastConfig
	Mqtt     MqttConfig
	Knx      KnxConfig
	Subsonic SubsonicConfig
	Library  LibraryConfig
	Audio    AudioConfig
	Zones    []ZoneConfig
	Clients  []ClientConfig
	Radios   []RadioConfig
}

type SystemConfig struct {
	LogLevel             string
	Environment           string
	HealthChecksEnabled   bool
	HealthChecksTimeout   int // seconds
	HealthChecksTags      []string
}

type APIConfig struct {
	Enabled     bool
	Port        int
	AuthEnabled bool
	APIKeys     []string
}

type SnapcastConfig struct {
	Address           string
	JSONRPCPort       int
	HTTPPort          int
	Timeout           int // seconds
	ReconnectInterval int // seconds
	AutoReconnect     bool
}

type MqttConfig struct {
	Enabled      bool
	BrokerAddress string
	Port         int
	ClientID     string
	SslEnabled   bool
	Username     string
	Password     string
	KeepAlive    int
	BaseTopic    string
	Connection   resilience.PolicyConfig
	Operation    resilience.PolicyConfig
}

type KnxConfig struct {
	Enabled          bool
	ConnectionType   string // Tunnel | Router | Usb
	Gateway          string
	MulticastAddress string
	USBDevice        string
	Port             int
	Timeout          int // seconds
	AutoReconnect    bool
	GroupAddressCSV  string
	Connection       resilience.PolicyConfig
	Operation        resilience.PolicyConfig
}

type SubsonicConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
	TimeoutMs int
	Connection resilience.PolicyConfig
	Operation  resilience.PolicyConfig
}

// LibraryConfig points at a local directory of audio files served as a
// catalogue source and kept in sync by watching the directory for
// additions and removals, rather than scanned once at startup.
type LibraryConfig struct {
	Enabled   bool
	Directory string
}

type AudioConfig struct {
	SampleRate int
	BitDepth   int
	Channels   int
	Codec      string
	BufferMs   int
}

type ZoneConfig struct {
	Index         uint32
	Name          string
	Sink          string
	MqttBaseTopic string
	MqttTopics    map[string]string // e.g. "volume_set" -> topic suffix
	KnxEnabled    bool
	Knx           map[string]knxaddr.Address // command name -> group address
}

type ClientConfig struct {
	Index       uint32
	Name        string
	Mac         string
	DefaultZone uint32
	MqttTopics  map[string]string
	Knx         map[string]knxaddr.Address
}

type RadioConfig struct {
	Index uint32
	Name  string
	URL   string
}

// Load reads the process environment and returns a validated Config, or
// a *apperr.Error{Kind: KindConfig} naming the offending key on the first
// failure.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{
		System:   loadSystem(v),
		API:      loadAPI(v),
		Snapcast: loadSnapcast(v),
		Mqtt:     loadMqtt(v),
		Knx:      loadKnx(v),
		Subsonic: loadSubsonic(v),
		Library:  loadLibrary(v),
		Audio:    loadAudio(v),
	}

	env := environMap()
	cfg.Zones = loadZones(env)
	cfg.Clients = loadClients(env)
	cfg.Radios = loadRadios(env)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("system.log_level", "info")
	v.SetDefault("system.environment", "production")
	v.SetDefault("system.health_checks_enabled", true)
	v.SetDefault("system.health_checks_timeout", 5)

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 5000)
	v.SetDefault("api.auth_enabled", false)

	v.SetDefault("services.snapcast.jsonrpc_port", 1705)
	v.SetDefault("services.snapcast.http_port", 1780)
	v.SetDefault("services.snapcast.timeout", 5)
	v.SetDefault("services.snapcast.reconnect_interval", 5)
	v.SetDefault("services.snapcast.auto_reconnect", true)

	v.SetDefault("services.mqtt.port", 1883)
	v.SetDefault("services.mqtt.client_id", "snapdog")
	v.SetDefault("services.mqtt.keep_alive", 60)
	v.SetDefault("services.mqtt.mqtt_base_topic", "snapdog")

	v.SetDefault("services.knx.port", 3671)
	v.SetDefault("services.knx.timeout", 5)
	v.SetDefault("services.knx.auto_reconnect", true)

	v.SetDefault("services.subsonic.timeout", 10000)

	v.SetDefault("library.enabled", false)

	v.SetDefault("audio.sample_rate", 48000)
	v.SetDefault("audio.bit_depth", 16)
	v.SetDefault("audio.channels", 2)
	v.SetDefault("audio.codec", "flac")
	v.SetDefault("audio.buffer_ms", 1000)
}

func loadSystem(v *viper.Viper) SystemConfig {
	var tags []string
	if raw := v.GetString("system.health_checks_tags"); raw != "" {
		tags = splitCSV(raw)
	}
	return SystemConfig{
		LogLevel:            v.GetString("system.log_level"),
		Environment:         v.GetString("system.environment"),
		HealthChecksEnabled: v.GetBool("system.health_checks_enabled"),
		HealthChecksTimeout: v.GetInt("system.health_checks_timeout"),
		HealthChecksTags:    tags,
	}
}

func loadAPI(v *viper.Viper) APIConfig {
	keys := collectIndexedEnv("SNAPDOG_API_APIKEY_")
	return APIConfig{
		Enabled:     v.GetBool("api.enabled"),
		Port:        v.GetInt("api.port"),
		AuthEnabled: v.GetBool("api.auth_enabled"),
		APIKeys:     keys,
	}
}

func loadSnapcast(v *viper.Viper) SnapcastConfig {
	return SnapcastConfig{
		Address:           v.GetString("services.snapcast.address"),
		JSONRPCPort:       v.GetInt("services.snapcast.jsonrpc_port"),
		HTTPPort:          v.GetInt("services.snapcast.http_port"),
		Timeout:           v.GetInt("services.snapcast.timeout"),
		ReconnectInterval: v.GetInt("services.snapcast.reconnect_interval"),
		AutoReconnect:     v.GetBool("services.snapcast.auto_reconnect"),
	}
}

func loadMqtt(v *viper.Viper) MqttConfig {
	return MqttConfig{
		Enabled:       v.GetBool("services.mqtt.enabled"),
		BrokerAddress: v.GetString("services.mqtt.broker_address"),
		Port:          v.GetInt("services.mqtt.port"),
		ClientID:      v.GetString("services.mqtt.client_id"),
		SslEnabled:    v.GetBool("services.mqtt.ssl_enabled"),
		Username:      v.GetString("services.mqtt.username"),
		Password:      v.GetString("services.mqtt.password"),
		KeepAlive:     v.GetInt("services.mqtt.keep_alive"),
		BaseTopic:     v.GetString("services.mqtt.mqtt_base_topic"),
		Connection:    loadPolicy(v, "services.mqtt.resilience.connection", resilience.DefaultPolicyConfig()),
		Operation:     loadPolicy(v, "services.mqtt.resilience.operation", resilience.DefaultPolicyConfig()),
	}
}

func loadKnx(v *viper.Viper) KnxConfig {
	return KnxConfig{
		Enabled:          v.GetBool("services.knx.enabled"),
		ConnectionType:   v.GetString("services.knx.connection_type"),
		Gateway:          v.GetString("services.knx.gateway"),
		MulticastAddress: v.GetString("services.knx.multicast_address"),
		USBDevice:        v.GetString("services.knx.usb_device"),
		Port:             v.GetInt("services.knx.port"),
		Timeout:          v.GetInt("services.knx.timeout"),
		AutoReconnect:    v.GetBool("services.knx.auto_reconnect"),
		GroupAddressCSV:  v.GetString("services.knx.group_address_csv"),
		Connection:       loadPolicy(v, "services.knx.resilience.connection", resilience.DefaultPolicyConfig()),
		Operation:        loadPolicy(v, "services.knx.resilience.operation", resilience.DefaultPolicyConfig()),
	}
}

func loadSubsonic(v *viper.Viper) SubsonicConfig {
	return SubsonicConfig{
		Enabled:    v.GetBool("services.subsonic.enabled"),
		URL:        v.GetString("services.subsonic.url"),
		Username:   v.GetString("services.subsonic.username"),
		Password:   v.GetString("services.subsonic.password"),
		TimeoutMs:  v.GetInt("services.subsonic.timeout"),
		Connection: loadPolicy(v, "services.subsonic.resilience.connection", resilience.DefaultPolicyConfig()),
		Operation:  loadPolicy(v, "services.subsonic.resilience.operation", resilience.DefaultPolicyConfig()),
	}
}

func loadLibrary(v *viper.Viper) LibraryConfig {
	return LibraryConfig{
		Enabled:   v.GetBool("library.enabled"),
		Directory: v.GetString("library.directory"),
	}
}

func loadAudio(v *viper.Viper) AudioConfig {
	return AudioConfig{
		SampleRate: v.GetInt("audio.sample_rate"),
		BitDepth:   v.GetInt("audio.bit_depth"),
		Channels:   v.GetInt("audio.channels"),
		Codec:      v.GetString("audio.codec"),
		BufferMs:   v.GetInt("audio.buffer_ms"),
	}
}

func loadPolicy(v *viper.Viper, base string, def resilience.PolicyConfig) resilience.PolicyConfig {
	cfg := def
	if v.IsSet(base + ".max_retries") {
		cfg.MaxRetries = v.GetInt(base + ".max_retries")
	}
	if v.IsSet(base + ".retry_delay_ms") {
		cfg.RetryDelay = msDuration(v.GetInt(base + ".retry_delay_ms"))
	}
	if v.IsSet(base + ".backoff_type") {
		cfg.Backoff = parseBackoff(v.GetString(base + ".backoff_type"))
	}
	if v.IsSet(base + ".use_jitter") {
		cfg.UseJitter = v.GetBool(base + ".use_jitter")
	}
	if v.IsSet(base + ".jitter_percentage") {
		cfg.JitterPercentage = v.GetFloat64(base + ".jitter_percentage")
	}
	if v.IsSet(base + ".timeout_seconds") {
		cfg.Timeout = secDuration(v.GetInt(base + ".timeout_seconds"))
	}
	return cfg
}

func parseBackoff(s string) resilience.Backoff {
	switch strings.ToLower(s) {
	case "linear":
		return resilience.BackoffLinear
	case "constant":
		return resilience.BackoffConstant
	default:
		return resilience.BackoffExponential
	}
}

// --- indexed ZONE_/CLIENT_/RADIO_ sections ---

var indexedBlockRE = regexp.MustCompile(`^SNAPDOG_(ZONE|CLIENT|RADIO)_(\d+)_(.+)$`)

func environMap() map[string]string {
	m := make(map[string]string, len(os.Environ()))
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			m[parts[0]] = parts[1]
		}
	}
	return m
}

func loadZones(env map[string]string) []ZoneConfig {
	byIndex := map[uint32]*ZoneConfig{}
	for key, val := range env {
		m := indexedBlockRE.FindStringSubmatch(key)
		if m == nil || m[1] != "ZONE" {
			continue
		}
		idx := parseUintOrZero(m[2])
		z := byIndex[idx]
		if z == nil {
			z = &ZoneConfig{Index: idx, MqttTopics: map[string]string{}, Knx: map[string]knxaddr.Address{}}
			byIndex[idx] = z
		}
		field := m[3]
		switch {
		case field == "NAME":
			z.Name = val
		case field == "SINK":
			z.Sink = val
		case field == "MQTT_BASE_TOPIC":
			z.MqttBaseTopic = val
		case field == "KNX_ENABLED":
			z.KnxEnabled = parseBoolOrFalse(val)
		case strings.HasPrefix(field, "MQTT_"):
			z.MqttTopics[strings.ToLower(strings.TrimPrefix(field, "MQTT_"))] = val
		case strings.HasPrefix(field, "KNX_"):
			if addr, err := knxaddr.Parse(val); err == nil {
				z.Knx[strings.ToLower(strings.TrimPrefix(field, "KNX_"))] = addr
			}
		}
	}
	return sortedZones(byIndex)
}

func loadClients(env map[string]string) []ClientConfig {
	byIndex := map[uint32]*ClientConfig{}
	for key, val := range env {
		m := indexedBlockRE.FindStringSubmatch(key)
		if m == nil || m[1] != "CLIENT" {
			continue
		}
		idx := parseUintOrZero(m[2])
		c := byIndex[idx]
		if c == nil {
			c = &ClientConfig{Index: idx, MqttTopics: map[string]string{}, Knx: map[string]knxaddr.Address{}}
			byIndex[idx] = c
		}
		field := m[3]
		switch {
		case field == "NAME":
			c.Name = val
		case field == "MAC":
			c.Mac = val
		case field == "DEFAULT_ZONE":
			c.DefaultZone = parseUintOrZero(val)
		case strings.HasPrefix(field, "MQTT_"):
			c.MqttTopics[strings.ToLower(strings.TrimPrefix(field, "MQTT_"))] = val
		case strings.HasPrefix(field, "KNX_"):
			if addr, err := knxaddr.Parse(val); err == nil {
				c.Knx[strings.ToLower(strings.TrimPrefix(field, "KNX_"))] = addr
			}
		}
	}
	return sortedClients(byIndex)
}

func loadRadios(env map[string]string) []RadioConfig {
	byIndex := map[uint32]*RadioConfig{}
	for key, val := range env {
		m := indexedBlockRE.FindStringSubmatch(key)
		if m == nil || m[1] != "RADIO" {
			continue
		}
		idx := parseUintOrZero(m[2])
		r := byIndex[idx]
		if r == nil {
			r = &RadioConfig{Index: idx}
			byIndex[idx] = r
		}
		switch m[3] {
		case "NAME":
			r.Name = val
		case "URL":
			r.URL = val
		}
	}
	out := make([]RadioConfig, 0, len(byIndex))
	for _, r := range byIndex {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func sortedZones(m map[uint32]*ZoneConfig) []ZoneConfig {
	out := make([]ZoneConfig, 0, len(m))
	for _, z := range m {
		out = append(out, *z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func sortedClients(m map[uint32]*ClientConfig) []ClientConfig {
	out := make([]ClientConfig, 0, len(m))
	for _, c := range m {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func collectIndexedEnv(prefix string) []string {
	var out []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, prefix) {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) == 2 && parts[1] != "" {
				out = append(out, parts[1])
			}
		}
	}
	sort.Strings(out)
	return out
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseUintOrZero(s string) uint32 {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

func parseBoolOrFalse(s string) bool {
	v, err := strconv.ParseBool(s)
	return err == nil && v
}

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
func secDuration(s int) time.Duration { return time.Duration(s) * time.Second }

func errConfig(key, reason string) error {
	return apperr.New(apperr.KindConfig, "config.load", fmt.Errorf("%s: %s", key, reason))
}
