// Package manager is the process context of an rtlink node. It owns the
// transport registry, the in-process bus, the name directory, the NATS client
// and the component arena, and wires ports together through connectors.
//
// Nothing in the module is global: a test can run several managers side by
// side, each with its own registries.
package manager

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/rtlink/component"
	"github.com/c360/rtlink/config"
	"github.com/c360/rtlink/connector"
	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/health"
	"github.com/c360/rtlink/listener"
	"github.com/c360/rtlink/metric"
	"github.com/c360/rtlink/naming"
	"github.com/c360/rtlink/natsclient"
	"github.com/c360/rtlink/transport"
	"github.com/c360/rtlink/transport/inproc"
	"github.com/c360/rtlink/transportregistry"
)

// Options configures a Manager
type Options struct {
	PlatformID string
	NATS       config.NATSConfig
	Naming     config.NamingConfig
	Logger     *slog.Logger
	// Metrics defaults to a private registry
	Metrics *metric.MetricsRegistry
	// NATSClient is used instead of dialing NATS.URLs. Shutdown leaves it open.
	NATSClient *natsclient.Client
}

// OptionsFromConfig derives manager options from a deployment config
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger, metrics *metric.MetricsRegistry) Options {
	return Options{
		PlatformID: cfg.Platform.ID,
		NATS:       cfg.NATS,
		Naming:     cfg.Naming,
		Logger:     logger,
		Metrics:    metrics,
	}
}

// Tap is called for every connector the manager builds, after its listener
// registry is attached and before it is activated
type Tap func(c *connector.Connector, listeners *listener.Registry)

type lifecycle int

const (
	stateNew lifecycle = iota
	stateReady
	stateClosed
)

// Manager is one rtlink process context
type Manager struct {
	opts    Options
	logger  *slog.Logger
	metrics *metric.MetricsRegistry

	mu          sync.RWMutex
	state       lifecycle
	nats        *natsclient.Client
	ownsNATS    bool
	directory   naming.Directory
	bus         *inproc.Bus
	transports  *transport.Registry
	arena       *component.Arena
	connections map[string]*Connection
	taps        []Tap
	checks      *health.Monitor
}

// New creates a manager. Init must be called before components are created.
func New(opts Options) *Manager {
	if opts.PlatformID == "" {
		opts.PlatformID = "rtlink"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = metric.NewMetricsRegistry()
	}
	return &Manager{
		opts:        opts,
		logger:      logger.With("platform", opts.PlatformID),
		metrics:     metrics,
		connections: make(map[string]*Connection),
		checks:      health.NewMonitor(),
	}
}

// Init connects NATS when configured, opens the directory and registers the
// built-in transports
func (m *Manager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateNew {
		return errors.Precondition("Manager", "Init", "already initialized")
	}

	if err := m.connectNATS(ctx); err != nil {
		return err
	}

	dir, err := m.openDirectory(ctx)
	if err != nil {
		m.closeNATS(ctx)
		return err
	}

	bus := inproc.NewBus(dir)
	transports := transport.NewRegistry()
	if err := transportregistry.Register(transports, bus); err != nil {
		m.closeNATS(ctx)
		return err
	}

	m.directory = dir
	m.bus = bus
	m.transports = transports
	m.arena = component.NewArena(component.Dependencies{
		Logger:     m.logger,
		Metrics:    m.metrics.CoreMetrics(),
		Directory:  dir,
		Connectors: m.buildConnector,
	})
	m.state = stateReady
	m.checks.UpdateHealthy("naming", "directory mode "+namingMode(m.opts.Naming.Mode))

	m.logger.Info("Manager initialized",
		"naming", m.opts.Naming.Mode,
		"nats", m.nats != nil,
		"transports", transports.Names())
	return nil
}

func (m *Manager) connectNATS(ctx context.Context) error {
	if m.opts.NATSClient != nil {
		m.nats = m.opts.NATSClient
		return nil
	}
	if !m.opts.NATS.Enabled() {
		return nil
	}

	cfg := m.opts.NATS
	clientOpts := []natsclient.ClientOption{
		natsclient.WithName(m.opts.PlatformID),
		natsclient.WithLogger(natsclient.NewSlogLogger(m.logger)),
		natsclient.WithMetrics(m.metrics.CoreMetrics()),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithDisconnectCallback(func(err error) {
			m.logger.Warn("NATS disconnected", "error", err)
		}),
		natsclient.WithReconnectCallback(func() {
			m.logger.Info("NATS reconnected")
		}),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				m.checks.UpdateHealthy("nats", "connected")
				return
			}
			m.checks.UpdateUnhealthy("nats", "connection lost")
		}),
	}
	if cfg.ReconnectWait > 0 {
		clientOpts = append(clientOpts, natsclient.WithReconnectWait(cfg.ReconnectWait))
	}
	if cfg.Timeout > 0 {
		clientOpts = append(clientOpts, natsclient.WithTimeout(cfg.Timeout))
	}
	if cfg.PingInterval > 0 {
		clientOpts = append(clientOpts, natsclient.WithPingInterval(cfg.PingInterval))
	}
	if cfg.DrainTimeout > 0 {
		clientOpts = append(clientOpts, natsclient.WithDrainTimeout(cfg.DrainTimeout))
	}
	if cfg.MaxBackoff > 0 {
		clientOpts = append(clientOpts, natsclient.WithMaxBackoff(cfg.MaxBackoff))
	}
	if cfg.Username != "" {
		clientOpts = append(clientOpts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		clientOpts = append(clientOpts, natsclient.WithToken(cfg.Token))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.URLs, ","), clientOpts...)
	if err != nil {
		return errors.WrapInvalid(err, "Manager", "Init", "create nats client")
	}
	if err := client.Connect(ctx); err != nil {
		return errors.WrapTransient(err, "Manager", "Init", "connect nats")
	}
	m.checks.UpdateHealthy("nats", "connected")
	m.nats = client
	m.ownsNATS = true
	return nil
}

func namingMode(mode string) string {
	if mode == "" {
		return config.NamingMemory
	}
	return mode
}

func (m *Manager) closeNATS(ctx context.Context) {
	if m.nats != nil && m.ownsNATS {
		if err := m.nats.Close(ctx); err != nil {
			m.logger.Warn("NATS close failed", "error", err)
		}
	}
	m.nats, m.ownsNATS = nil, false
	m.checks.Remove("nats")
}

func (m *Manager) openDirectory(ctx context.Context) (naming.Directory, error) {
	switch m.opts.Naming.Mode {
	case "", config.NamingMemory:
		return naming.NewMemory(), nil
	case config.NamingStatic:
		dir, err := naming.NewStatic(m.opts.Naming.Records, naming.NewMemory())
		if err != nil {
			return nil, errors.WrapInvalid(err, "Manager", "Init", "load static directory")
		}
		return dir, nil
	case config.NamingKV, "kv":
		if m.nats == nil {
			return nil, errors.BadParam("Manager", "Init", "naming mode "+config.NamingKV+" requires NATS")
		}
		dir, err := naming.NewKVDirectory(ctx, m.nats, m.opts.Naming.Bucket, m.opts.Naming.TTL)
		if err != nil {
			return nil, errors.WrapTransient(err, "Manager", "Init", "open kv directory")
		}
		return dir, nil
	default:
		return nil, errors.BadParam("Manager", "Init", fmt.Sprintf("unknown naming mode %q", m.opts.Naming.Mode))
	}
}

// Shutdown exits every alive component and closes the NATS connection the
// manager opened. Errors are collected; every component is attempted.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.state != stateReady {
		m.mu.Unlock()
		return errors.Precondition("Manager", "Shutdown", "manager is not running")
	}
	m.state = stateClosed
	arena := m.arena
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	var errs []error
	comps := arena.List()
	// reverse creation order, so consumers of a component's output exit first
	for i := len(comps) - 1; i >= 0; i-- {
		c := comps[i]
		if c.State() != component.StateAlive {
			continue
		}
		if err := c.Exit(ctx); err != nil {
			m.logger.Warn("Component exit failed", "component", c.Name(), "error", err)
			errs = append(errs, err)
		}
	}

	m.mu.Lock()
	m.closeNATS(ctx)
	m.mu.Unlock()

	m.logger.Info("Manager shut down", "components", len(comps))
	return stderrors.Join(errs...)
}

func (m *Manager) ready(method string) error {
	if m.state != stateReady {
		return errors.Precondition("Manager", method, "manager is not running")
	}
	return nil
}

// AddTap registers fn for connectors built from now on
func (m *Manager) AddTap(fn Tap) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.taps = append(m.taps, fn)
	m.mu.Unlock()
}

// Directory returns the name directory; nil before Init
func (m *Manager) Directory() naming.Directory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.directory
}

// Transports returns the transport registry; nil before Init
func (m *Manager) Transports() *transport.Registry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transports
}

// NATS returns the NATS client, or nil when none is configured
func (m *Manager) NATS() *natsclient.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nats
}

// Metrics returns the metrics registry
func (m *Manager) Metrics() *metric.MetricsRegistry {
	return m.metrics
}

// Health reports an error when a configured NATS connection is unhealthy
func (m *Manager) Health() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != stateReady {
		return errors.ErrNotStarted
	}
	if m.nats != nil && !m.nats.IsHealthy() {
		return fmt.Errorf("nats: %w", errors.ErrConnectionLost)
	}
	return nil
}

// HealthReport aggregates the state of every component, every managed
// connection and the NATS link into one status tree
func (m *Manager) HealthReport() health.Status {
	m.mu.RLock()
	if m.state != stateReady {
		m.mu.RUnlock()
		return health.NewUnhealthy(m.opts.PlatformID, "manager is not running")
	}
	if m.nats != nil && !m.ownsNATS {
		if m.nats.IsHealthy() {
			m.checks.UpdateHealthy("nats", "connected")
		} else {
			m.checks.UpdateUnhealthy("nats", m.nats.Status().String())
		}
	}
	comps := m.arena.List()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].Spec.Name < conns[j].Spec.Name })

	var report health.Report
	for _, c := range comps {
		report.Components = append(report.Components, health.FromComponent(c))
	}
	for _, c := range conns {
		report.Connections = append(report.Connections, health.Aggregate(c.Spec.Name, []health.Status{
			health.FromConnector(c.Spec.Source, c.Source),
			health.FromConnector(c.Spec.Sink, c.Sink),
		}).WithDetail("transport", c.Spec.Transport))
	}
	report.Checks = m.checks.Statuses()
	return report.Build(m.opts.PlatformID)
}

// CreateComponent adds a component in the Created state
func (m *Manager) CreateComponent(name string, hooks component.Hooks) (*component.Component, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.ready("CreateComponent"); err != nil {
		return nil, err
	}
	return m.arena.Create(name, hooks)
}

// Component looks a component up by name
func (m *Manager) Component(name string) (*component.Component, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.arena == nil {
		return nil, false
	}
	return m.arena.Lookup(name)
}

// Components returns every component in creation order
func (m *Manager) Components() []*component.Component {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.arena == nil {
		return nil
	}
	return m.arena.List()
}

// buildConnector is the component.ConnectorFactory of every port
func (m *Manager) buildConnector(ctx context.Context, port *component.Port, profile component.ConnectorProfile) (*connector.Connector, error) {
	m.mu.RLock()
	deps := transport.Dependencies{
		Logger:    m.logger,
		Metrics:   m.metrics.CoreMetrics(),
		Directory: m.directory,
		NATS:      m.nats,
	}
	registry := m.transports
	taps := append([]Tap(nil), m.taps...)
	m.mu.RUnlock()

	id := uuid.NewString()
	c, err := connector.New(connector.Config{
		ID:       id,
		Port:     port.Ref(),
		DataType: port.DataType,
		Role:     port.Direction.Role(),
		Registry: registry,
		Deps:     deps,
		Gate:     port,
		CallerID: fmt.Sprintf("%s.%s.%s", m.opts.PlatformID, port.Name, id[:8]),
	})
	if err != nil {
		return nil, err
	}

	if err := m.wire(ctx, c, profile, taps); err != nil {
		_ = c.Teardown()
		return nil, err
	}
	return c, nil
}

func (m *Manager) wire(ctx context.Context, c *connector.Connector, profile component.ConnectorProfile, taps []Tap) error {
	if err := c.Configure(profile.Properties); err != nil {
		return err
	}
	buf, err := c.NewBuffer()
	if err != nil {
		return err
	}
	if err := c.AttachBuffer(buf); err != nil {
		return err
	}
	ls := listener.NewRegistry()
	ls.OnNotify(func(k listener.Kind) {
		m.metrics.CoreMetrics().RecordNotification(k.String())
	})
	if err := c.AttachListeners(ls); err != nil {
		return err
	}
	for _, tap := range taps {
		tap(c, ls)
	}
	return c.Activate(ctx)
}

// ConnectionSpec wires a source port to a sink port over a transport
type ConnectionSpec struct {
	Name      string
	Transport string
	// Topic defaults to Name
	Topic string
	// Source and Sink use "component.port" notation
	Source     string
	Sink       string
	Properties map[string]string
}

// SpecFromConfig converts a configured connection
func SpecFromConfig(cc config.ConnectionConfig) ConnectionSpec {
	return ConnectionSpec{
		Name:       cc.Name,
		Transport:  cc.Transport,
		Topic:      cc.Topic,
		Source:     cc.Source,
		Sink:       cc.Sink,
		Properties: maps.Clone(cc.Properties),
	}
}

// Connection is an established source-to-sink wiring
type Connection struct {
	Spec       ConnectionSpec
	SourcePort *component.Port
	SinkPort   *component.Port
	Source     *connector.Connector
	Sink       *connector.Connector
}

func (m *Manager) resolvePort(addr string, want component.Direction) (*component.Port, error) {
	compName, portName, err := config.SplitPortAddress(addr)
	if err != nil {
		return nil, errors.BadParam("Manager", "Connect", err.Error())
	}
	c, ok := m.Component(compName)
	if !ok {
		return nil, errors.BadParam("Manager", "Connect", "unknown component "+compName)
	}
	p, ok := c.Port(portName)
	if !ok {
		return nil, errors.BadParam("Manager", "Connect", "unknown port "+addr)
	}
	if p.Direction != want {
		return nil, errors.BadParam("Manager", "Connect", fmt.Sprintf("port %s is a %s port, want %s", addr, p.Direction, want))
	}
	return p, nil
}

// Connect builds a connector on each end of spec. The send side is connected
// first, since TCP and NATS publishers announce the endpoint the receiver
// resolves; when the send side finds no endpoint (inproc receivers announce)
// the receive side is connected first and the send side retried.
func (m *Manager) Connect(ctx context.Context, spec ConnectionSpec) (*Connection, error) {
	m.mu.RLock()
	err := m.ready("Connect")
	_, exists := m.connections[spec.Name]
	m.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	switch {
	case spec.Name == "":
		return nil, errors.BadParam("Manager", "Connect", "connection name is required")
	case spec.Transport == "":
		return nil, errors.BadParam("Manager", "Connect", "transport is required")
	case exists:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: connection %s", errors.ErrLinkExists, spec.Name), "Manager", "Connect", "register connection")
	}

	srcPort, err := m.resolvePort(spec.Source, component.DirectionSource)
	if err != nil {
		return nil, err
	}
	sinkPort, err := m.resolvePort(spec.Sink, component.DirectionSink)
	if err != nil {
		return nil, err
	}

	topic := spec.Topic
	if topic == "" {
		topic = spec.Name
	}
	props := maps.Clone(spec.Properties)
	if props == nil {
		props = make(map[string]string)
	}
	props[connector.KeyTransport] = spec.Transport
	props[connector.KeyTopic] = topic
	profile := component.ConnectorProfile{Name: spec.Name, Properties: props}

	src, sink, err := m.connectEnds(ctx, srcPort, sinkPort, profile)
	if err != nil {
		return nil, err
	}

	conn := &Connection{Spec: spec, SourcePort: srcPort, SinkPort: sinkPort, Source: src, Sink: sink}
	conn.Spec.Topic = topic

	m.mu.Lock()
	if _, dup := m.connections[spec.Name]; dup || m.state != stateReady {
		m.mu.Unlock()
		_ = srcPort.Disconnect(src.ID())
		_ = sinkPort.Disconnect(sink.ID())
		return nil, errors.Precondition("Manager", "Connect", "connection "+spec.Name+" raced with another connect or shutdown")
	}
	m.connections[spec.Name] = conn
	m.mu.Unlock()

	m.logger.Info("Connection established",
		"connection", spec.Name, "transport", spec.Transport, "topic", topic,
		"source", spec.Source, "sink", spec.Sink)
	return conn, nil
}

func (m *Manager) connectEnds(ctx context.Context, srcPort, sinkPort *component.Port, profile component.ConnectorProfile) (*connector.Connector, *connector.Connector, error) {
	src, err := srcPort.Connect(ctx, profile)
	if err == nil {
		sink, err := sinkPort.Connect(ctx, profile)
		if err != nil {
			_ = srcPort.Disconnect(src.ID())
			return nil, nil, err
		}
		return src, sink, nil
	}
	if !stderrors.Is(err, errors.ErrNoConnection) {
		return nil, nil, err
	}

	sink, err := sinkPort.Connect(ctx, profile)
	if err != nil {
		return nil, nil, err
	}
	src, err = srcPort.Connect(ctx, profile)
	if err != nil {
		_ = sinkPort.Disconnect(sink.ID())
		return nil, nil, err
	}
	return src, sink, nil
}

// Disconnect tears both ends of the named connection down
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	conn, ok := m.connections[name]
	delete(m.connections, name)
	m.mu.Unlock()
	if !ok {
		return errors.BadParam("Manager", "Disconnect", "unknown connection "+name)
	}

	// receiver first, so the sender sees an orderly unbind
	return stderrors.Join(
		conn.SinkPort.Disconnect(conn.Sink.ID()),
		conn.SourcePort.Disconnect(conn.Source.ID()),
	)
}

// Connection returns the named connection
func (m *Manager) Connection(name string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.connections[name]
	return c, ok
}

// Connections returns the established connections sorted by name
func (m *Manager) Connections() []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Spec.Name < out[j].Spec.Name })
	return out
}
