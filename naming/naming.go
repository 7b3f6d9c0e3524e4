// Package naming resolves configured endpoint names to transport addresses.
//
// A send-side transport endpoint announces a Record under its topic when it
// connects and withdraws it on disconnect; a receive-side endpoint looks the topic
// up once, at connection time. Components also register an identity record while
// they are alive. This is a directory, not a discovery protocol: nothing watches
// for changes and nothing is federated.
package naming

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/c360/rtlink/errors"
)

// Record kinds
const (
	KindEndpoint  = "endpoint"
	KindComponent = "component"
)

// Record describes one named endpoint or component
type Record struct {
	Name       string            `json:"name" yaml:"name"`
	Kind       string            `json:"kind,omitempty" yaml:"kind,omitempty"`
	Transport  string            `json:"transport,omitempty" yaml:"transport,omitempty"`
	Address    string            `json:"address,omitempty" yaml:"address,omitempty"`
	DataType   string            `json:"data_type,omitempty" yaml:"data_type,omitempty"`
	Checksum   string            `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	Protocol   string            `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Owner      string            `json:"owner,omitempty" yaml:"owner,omitempty"`
	Meta       map[string]string `json:"meta,omitempty" yaml:"meta,omitempty"`
	Registered time.Time         `json:"registered" yaml:"-"`
}

// Key returns the directory key for the record
func (r Record) Key() string {
	return Key(r.Kind, r.Name)
}

// Validate checks the record can be stored
func (r Record) Validate() error {
	if r.Name == "" {
		return errors.BadParam("Record", "Validate", "name is required")
	}
	if strings.ContainsAny(r.Name, " \t\n*>") {
		return errors.BadParam("Record", "Validate", fmt.Sprintf("invalid name %q", r.Name))
	}
	return nil
}

// Key builds a directory key from kind and name. Records without a kind are endpoints.
func Key(kind, name string) string {
	if kind == "" {
		kind = KindEndpoint
	}
	return kind + "/" + name
}

// Directory stores and resolves records
type Directory interface {
	// Register stores rec, replacing any record with the same key
	Register(ctx context.Context, rec Record) error
	// Unregister removes the record; unknown keys are not an error
	Unregister(ctx context.Context, kind, name string) error
	// Lookup returns the record or an error matching errors.ErrKeyNotFound
	Lookup(ctx context.Context, kind, name string) (Record, error)
	// List returns records of kind whose names start with prefix, sorted by name
	List(ctx context.Context, kind, prefix string) ([]Record, error)
}

func notFound(component, kind, name string) error {
	return errors.WrapInvalid(errors.ErrKeyNotFound, component, "Lookup", Key(kind, name))
}
