package component

import (
	"context"
	"log/slog"

	"github.com/c360/rtlink/connector"
	"github.com/c360/rtlink/metric"
	"github.com/c360/rtlink/naming"
)

// ConnectorProfile is the request to bind a port to a peer
type ConnectorProfile struct {
	Name       string            `json:"name"`
	Properties map[string]string `json:"properties"`
}

// ConnectorFactory builds, wires and activates a connector for port. It is
// supplied by the process context that owns the transport registry.
type ConnectorFactory func(ctx context.Context, port *Port, profile ConnectorProfile) (*connector.Connector, error)

// Dependencies provides the process-wide collaborators a component needs
type Dependencies struct {
	Logger     *slog.Logger     // Structured logger (can be nil, defaults to slog.Default())
	Metrics    *metric.Metrics  // Core metrics (can be nil)
	Directory  naming.Directory // Identity registration (can be nil)
	Connectors ConnectorFactory // Required for Port.Connect
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}
