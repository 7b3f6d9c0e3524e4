package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rtlink/naming"
)

const robotYAML = `
platform:
  id: robot-1
nats:
  urls: ["nats://localhost:4222"]
  reconnect_wait: 500ms
  ping_interval: 5s
  drain_timeout: 3s
  max_backoff: 2m
naming:
  mode: kv
  ttl: 1d
components:
  camera:
    rate: 30
    ports:
      - {name: image, data_type: sensor/Image, direction: out}
  detector:
    ports:
      - {name: image, data_type: sensor/Image, direction: in}
connections:
  - name: camera_image
    transport: tcp
    source: camera.image
    sink: detector.image
    properties:
      buffer.length: "4"
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func validConfig() *Config {
	cfg := Defaults()
	cfg.Components = map[string]ComponentConfig{
		"src": {Ports: []PortConfig{{Name: "out", DataType: "T", Direction: "source"}}},
		"dst": {Ports: []PortConfig{{Name: "in", DataType: "T", Direction: "sink"}}},
	}
	cfg.Connections = []ConnectionConfig{{Name: "link", Transport: "inproc", Source: "src.out", Sink: "dst.in"}}
	return cfg
}

func TestLoader_YAML(t *testing.T) {
	path := writeFile(t, "robot.yaml", robotYAML)

	loader := NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "robot-1", cfg.Platform.ID)
	assert.Equal(t, "info", cfg.Platform.LogLevel, "defaults survive the merge")
	assert.Equal(t, 500*time.Millisecond, cfg.NATS.ReconnectWait)
	assert.Equal(t, 5*time.Second, cfg.NATS.PingInterval)
	assert.Equal(t, 3*time.Second, cfg.NATS.DrainTimeout)
	assert.Equal(t, 2*time.Minute, cfg.NATS.MaxBackoff)
	assert.Zero(t, cfg.NATS.Timeout, "unset keeps the client default")
	assert.Equal(t, NamingKV, cfg.Naming.Mode)
	assert.Equal(t, 24*time.Hour, cfg.Naming.TTL)
	assert.Equal(t, 30.0, cfg.Components["camera"].Rate)

	require.Len(t, cfg.Connections, 1)
	conn := cfg.Connections[0]
	assert.Equal(t, "camera_image", conn.Topic)
	assert.Equal(t, "4", conn.Properties["buffer.length"])
}

func TestLoader_Layers(t *testing.T) {
	base := writeFile(t, "base.json", `{"platform": {"id": "base", "log_level": "debug"}, "http": {"addr": ":8080"}}`)
	override := writeFile(t, "override.json", `{"platform": {"id": "override"}}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "override", cfg.Platform.ID)
	assert.Equal(t, "debug", cfg.Platform.LogLevel)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoader_EnvOverrides(t *testing.T) {
	path := writeFile(t, "base.json", `{"platform": {"id": "base"}}`)
	t.Setenv("RTLINK_LOG_LEVEL", "warn")
	t.Setenv("RTLINK_NATS_URLS", "nats://a:4222,nats://b:4222")

	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Platform.LogLevel)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
}

func TestLoader_Errors(t *testing.T) {
	_, err := NewLoader().LoadFile(writeFile(t, "conf.txt", `{}`))
	assert.Error(t, err)

	_, err = NewLoader().LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	_, err = NewLoader().LoadFile(writeFile(t, "broken.json", `{"platform": {`))
	assert.Error(t, err)

	_, err = NewLoader().LoadFile(writeFile(t, "bad.yaml", "nats:\n  reconnect_wait: soon\n"))
	assert.Error(t, err)

	_, err = NewLoader().LoadFile(writeFile(t, "bad_ping.yaml", "nats:\n  ping_interval: often\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing platform id", func(c *Config) { c.Platform.ID = "" }},
		{"unknown naming mode", func(c *Config) { c.Naming.Mode = "mdns" }},
		{"kv without nats", func(c *Config) { c.Naming.Mode = NamingKV }},
		{"bad static record", func(c *Config) {
			c.Naming.Mode = NamingStatic
			c.Naming.Records = []naming.Record{{Name: "has space"}}
		}},
		{"bad component name", func(c *Config) { c.Components["9lives"] = ComponentConfig{} }},
		{"negative rate", func(c *Config) { c.Components["src"] = ComponentConfig{Rate: -1} }},
		{"bad direction", func(c *Config) {
			c.Components["dst"] = ComponentConfig{Ports: []PortConfig{{Name: "in", DataType: "T", Direction: "both"}}}
		}},
		{"duplicate port", func(c *Config) {
			p := PortConfig{Name: "out", DataType: "T", Direction: "source"}
			c.Components["src"] = ComponentConfig{Ports: []PortConfig{p, p}}
		}},
		{"reversed connection", func(c *Config) { c.Connections[0].Source, c.Connections[0].Sink = "dst.in", "src.out" }},
		{"unknown sink", func(c *Config) { c.Connections[0].Sink = "dst.nope" }},
		{"missing transport", func(c *Config) { c.Connections[0].Transport = "" }},
		{"duplicate connection", func(c *Config) { c.Connections = append(c.Connections, c.Connections[0]) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(validConfig())

	got := sc.Get()
	got.Components["src"] = ComponentConfig{}
	assert.Len(t, sc.Get().Components["src"].Ports, 1, "Get returns a copy")

	bad := validConfig()
	bad.Platform.ID = ""
	assert.Error(t, sc.Update(bad))
	assert.Error(t, sc.Update(nil))

	next := validConfig()
	next.Platform.ID = "next"
	require.NoError(t, sc.Update(next))
	assert.Equal(t, "next", sc.Get().Platform.ID)
}

func TestSplitPortAddress(t *testing.T) {
	comp, port, err := SplitPortAddress("arm.joint.state")
	require.NoError(t, err)
	assert.Equal(t, "arm.joint", comp)
	assert.Equal(t, "state", port)

	for _, bad := range []string{"", "noport", ".port", "comp."} {
		_, _, err := SplitPortAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestSaveToFile(t *testing.T) {
	cfg := validConfig()
	path := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, cfg.SaveToFile(path))

	loader := NewLoader()
	loader.EnableValidation(true)
	loaded, err := loader.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Connections[0].Source, loaded.Connections[0].Source)
	assert.Equal(t, "link", loaded.Connections[0].Topic)
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": [1, {"b": "}"}]}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": [}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": 1}}`)))
}
