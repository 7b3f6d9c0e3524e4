package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/rtlink/component"
	"github.com/c360/rtlink/naming"
)

// Naming modes
const (
	NamingMemory = "memory"  // process-local directory
	NamingStatic = "static"  // fixed peer list from Naming.Records, memory overlay
	NamingKV     = "nats-kv" // NATS JetStream KV, shared between processes
)

var validInstance = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_\-]*$`)

// Config represents the complete daemon configuration
type Config struct {
	Version     string                     `json:"version"`
	Platform    PlatformConfig             `json:"platform"`
	NATS        NATSConfig                 `json:"nats"`
	Naming      NamingConfig               `json:"naming"`
	HTTP        HTTPConfig                 `json:"http"`
	Components  map[string]ComponentConfig `json:"components"`
	Connections []ConnectionConfig         `json:"connections"`
}

// PlatformConfig identifies this process
type PlatformConfig struct {
	ID        string `json:"id"`
	LogLevel  string `json:"log_level,omitempty"`
	LogFormat string `json:"log_format,omitempty"`
}

// NATSConfig defines NATS connection settings. An empty URL list disables NATS.
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`

	// Zero leaves the client default in place.
	Timeout      time.Duration `json:"timeout,omitempty"`
	PingInterval time.Duration `json:"ping_interval,omitempty"`
	DrainTimeout time.Duration `json:"drain_timeout,omitempty"`
	MaxBackoff   time.Duration `json:"max_backoff,omitempty"`
}

// Enabled reports whether a NATS connection is configured
func (n NATSConfig) Enabled() bool { return len(n.URLs) > 0 }

// NamingConfig selects the directory used to resolve endpoints
type NamingConfig struct {
	Mode    string          `json:"mode"`
	Bucket  string          `json:"bucket,omitempty"`
	TTL     time.Duration   `json:"ttl,omitempty"`
	Records []naming.Record `json:"records,omitempty"`
}

// HTTPConfig controls the metrics, health and monitor endpoints. An empty
// address disables the server.
type HTTPConfig struct {
	Addr    string `json:"addr,omitempty"`
	Monitor bool   `json:"monitor,omitempty"`
}

// ComponentConfig declares one component instance
type ComponentConfig struct {
	// Rate of the periodic execution context in Hz; 0 means no context
	Rate  float64      `json:"rate,omitempty"`
	Ports []PortConfig `json:"ports"`
}

// PortConfig declares one port
type PortConfig struct {
	Name      string `json:"name"`
	DataType  string `json:"data_type"`
	Direction string `json:"direction"`
}

// ConnectionConfig wires a source port to a sink port. Source and Sink use
// "component.port" notation.
type ConnectionConfig struct {
	Name       string            `json:"name"`
	Transport  string            `json:"transport"`
	Topic      string            `json:"topic,omitempty"`
	Source     string            `json:"source"`
	Sink       string            `json:"sink"`
	Properties map[string]string `json:"properties,omitempty"`
}

// SplitPortAddress splits "component.port"
func SplitPortAddress(addr string) (componentName, port string, err error) {
	i := strings.LastIndex(addr, ".")
	if i <= 0 || i == len(addr)-1 {
		return "", "", fmt.Errorf("port address %q must be component.port", addr)
	}
	return addr[:i], addr[i+1:], nil
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Validate checks the configuration and fills in derived defaults
func (c *Config) Validate() error {
	if c.Platform.ID == "" {
		return errors.New("platform.id is required")
	}

	c.Naming.Mode = strings.ToLower(c.Naming.Mode)
	switch c.Naming.Mode {
	case "", NamingMemory:
		c.Naming.Mode = NamingMemory
	case NamingStatic:
		for i, rec := range c.Naming.Records {
			if err := rec.Validate(); err != nil {
				return fmt.Errorf("naming.records[%d]: %w", i, err)
			}
		}
	case NamingKV, "kv":
		c.Naming.Mode = NamingKV
		if !c.NATS.Enabled() {
			return errors.New("naming.mode nats-kv requires nats.urls")
		}
	default:
		return fmt.Errorf("naming.mode %q must be memory, static or nats-kv", c.Naming.Mode)
	}

	ports := make(map[string]component.Direction)
	for name, comp := range c.Components {
		if !validInstance.MatchString(name) {
			return fmt.Errorf("component name %q is invalid", name)
		}
		if comp.Rate < 0 {
			return fmt.Errorf("component %s: rate must not be negative", name)
		}
		for i, p := range comp.Ports {
			dir, err := component.ParseDirection(p.Direction)
			if err != nil {
				return fmt.Errorf("component %s: ports[%d]: %w", name, i, err)
			}
			if p.Name == "" || p.DataType == "" {
				return fmt.Errorf("component %s: ports[%d]: name and data_type are required", name, i)
			}
			key := name + "." + p.Name
			if _, dup := ports[key]; dup {
				return fmt.Errorf("component %s: duplicate port %s", name, p.Name)
			}
			ports[key] = dir
		}
	}

	names := make(map[string]bool)
	for i := range c.Connections {
		conn := &c.Connections[i]
		if conn.Name == "" {
			return fmt.Errorf("connections[%d]: name is required", i)
		}
		if names[conn.Name] {
			return fmt.Errorf("connections[%d]: duplicate name %s", i, conn.Name)
		}
		names[conn.Name] = true
		if conn.Transport == "" {
			return fmt.Errorf("connection %s: transport is required", conn.Name)
		}
		if conn.Topic == "" {
			conn.Topic = conn.Name
		}
		if dir, ok := ports[conn.Source]; !ok || dir != component.DirectionSource {
			return fmt.Errorf("connection %s: source %q is not a declared source port", conn.Name, conn.Source)
		}
		if dir, ok := ports[conn.Sink]; !ok || dir != component.DirectionSink {
			return fmt.Errorf("connection %s: sink %q is not a declared sink port", conn.Name, conn.Sink)
		}
	}
	return nil
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// SaveToFile saves the configuration as JSON
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{envPrefix: "RTLINK"}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		merged, err := mergeFromMap(cfg, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", path, err)
		}
		cfg = merged
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Defaults returns the configuration every layer is merged onto
func Defaults() *Config {
	return &Config{
		Platform: PlatformConfig{ID: "rtlinkd", LogLevel: "info", LogFormat: "json"},
		NATS: NATSConfig{
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Naming: NamingConfig{Mode: NamingMemory, Bucket: naming.DefaultBucket},
		HTTP:   HTTPConfig{Addr: ":9090"},
	}
}

// loadRaw reads a JSON or YAML file into a generic map
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if isYAML, _ := formatForPath(path); isYAML {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	} else {
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// mergeFromMap merges a raw map over base, overriding only fields present in the map
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	if override == nil {
		return base, nil
	}
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) error {
	convert := func(section map[string]any, key string) error {
		s, ok := section[key].(string)
		if !ok {
			return nil
		}
		d, err := parseDurationWithDays(s)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		section[key] = d.Nanoseconds()
		return nil
	}
	if n, ok := data["nats"].(map[string]any); ok {
		for _, key := range []string{"reconnect_wait", "timeout", "ping_interval", "drain_timeout", "max_backoff"} {
			if err := convert(n, key); err != nil {
				return fmt.Errorf("nats.%w", err)
			}
		}
	}
	if n, ok := data["naming"].(map[string]any); ok {
		if err := convert(n, "ttl"); err != nil {
			return fmt.Errorf("naming.%w", err)
		}
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(suffix string) (string, error) {
		key := l.envPrefix + "_" + suffix
		val := os.Getenv(key)
		return val, validateEnvVar(key, val)
	}

	overrides := []struct {
		suffix string
		apply  func(string)
	}{
		{"PLATFORM_ID", func(v string) { cfg.Platform.ID = v }},
		{"LOG_LEVEL", func(v string) { cfg.Platform.LogLevel = v }},
		{"LOG_FORMAT", func(v string) { cfg.Platform.LogFormat = v }},
		{"NATS_URLS", func(v string) { cfg.NATS.URLs = strings.Split(v, ",") }},
		{"NATS_USERNAME", func(v string) { cfg.NATS.Username = v }},
		{"NATS_PASSWORD", func(v string) { cfg.NATS.Password = v }},
		{"NATS_TOKEN", func(v string) { cfg.NATS.Token = v }},
		{"NAMING_MODE", func(v string) { cfg.Naming.Mode = v }},
		{"HTTP_ADDR", func(v string) { cfg.HTTP.Addr = v }},
	}
	for _, o := range overrides {
		val, err := get(o.suffix)
		if err != nil {
			return err
		}
		if val != "" {
			o.apply(val)
		}
	}
	return nil
}
