package main

import (
	"context"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/rtlink/component"
	"github.com/c360/rtlink/config"
	"github.com/c360/rtlink/manager"
	"github.com/c360/rtlink/pkg/buffer"
	"github.com/c360/rtlink/transport"
)

const nodeConfig = `
platform:
  id: bench
http:
  addr: ""
components:
  camera:
    ports:
      - {name: image, data_type: sensor/Image, direction: out}
  relay:
    rate: 100
    ports:
      - {name: image_in, data_type: sensor/Image, direction: in}
      - {name: image_out, data_type: sensor/Image, direction: out}
  viewer:
    ports:
      - {name: image, data_type: sensor/Image, direction: in}
connections:
  - {name: raw, transport: inproc, source: camera.image, sink: relay.image_in}
  - {name: relayed, transport: tcp, source: relay.image_out, sink: viewer.image}
`

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(nodeConfig), 0o600))
	return path
}

func newFlagSet() *flag.FlagSet {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func TestParseFlags(t *testing.T) {
	t.Setenv("RTLINK_METRICS_PORT", "9191")
	cfg, err := parseFlags(newFlagSet(), []string{"-c", "node.yaml", "--log-level", "debug", "--validate"})
	require.NoError(t, err)

	assert.Equal(t, "node.yaml", cfg.ConfigPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9191, cfg.MetricsPort)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.Validate)
}

func TestValidateFlags(t *testing.T) {
	path := writeConfig(t)

	ok := &CLIConfig{ConfigPath: path, ShutdownTimeout: time.Second}
	assert.NoError(t, validateFlags(ok))

	tests := []struct {
		name   string
		mutate func(*CLIConfig)
	}{
		{"missing file", func(c *CLIConfig) { c.ConfigPath = filepath.Join(t.TempDir(), "nope.yaml") }},
		{"bad level", func(c *CLIConfig) { c.LogLevel = "loud" }},
		{"bad format", func(c *CLIConfig) { c.LogFormat = "xml" }},
		{"bad port", func(c *CLIConfig) { c.MetricsPort = 70000 }},
		{"bad timeout", func(c *CLIConfig) { c.ShutdownTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *ok
			tt.mutate(&c)
			assert.Error(t, validateFlags(&c))
		})
	}

	assert.NoError(t, validateFlags(&CLIConfig{ShowVersion: true}))
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	cfg, err := loadConfig(&CLIConfig{ConfigPath: writeConfig(t), LogFormat: "text", MetricsPort: 9300})
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Platform.LogFormat)
	assert.Equal(t, ":9300", cfg.HTTP.Addr)
	assert.Equal(t, "raw", cfg.Connections[0].Topic)
}

func TestRunValidate(t *testing.T) {
	assert.NoError(t, run([]string{"--validate", "-c", writeConfig(t)}))
	assert.Error(t, run([]string{"--log-level", "loud", "-c", writeConfig(t)}))
}

func TestRelayDeployment(t *testing.T) {
	path := writeConfig(t)
	loader := config.NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)

	m := manager.New(manager.OptionsFromConfig(cfg, nil, nil))
	require.NoError(t, m.Init(context.Background()))
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	require.NoError(t, m.Deploy(context.Background(), cfg, relayHooks))

	camera, _ := m.Component("camera")
	viewer, _ := m.Component("viewer")
	out, _ := camera.Port("image")
	in, _ := viewer.Port("image")

	require.Equal(t, buffer.OK, out.Push(transport.Payload("frame-1")))

	var got transport.Payload
	require.Eventually(t, func() bool {
		p, st := in.Pull()
		got = p
		return st == buffer.OK
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, transport.Payload("frame-1"), got)
}

func TestRelay_SkipsOtherTypes(t *testing.T) {
	arena := component.NewArena(component.Dependencies{})
	c, err := arena.Create("mixer", component.Hooks{})
	require.NoError(t, err)
	_, err = c.CreatePort("in", "A", component.DirectionSink)
	require.NoError(t, err)
	_, err = c.CreatePort("out", "B", component.DirectionSource)
	require.NoError(t, err)

	// no connectors: pulls report PRECONDITION_NOT_MET and nothing is pushed
	assert.NoError(t, relay(context.Background(), c))
}
