package config

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/natsclient"
)

// DefaultStoreBucket holds shared deployment configs
const DefaultStoreBucket = "rtlink_config"

// Store keeps deployment configs in a NATS KV bucket keyed by platform id, so
// several processes can start from one published config.
type Store struct {
	kv *natsclient.KVStore
}

// NewStore opens (or creates) bucket on client
func NewStore(ctx context.Context, client *natsclient.Client, bucket string) (*Store, error) {
	if client == nil {
		return nil, errors.BadParam("Store", "NewStore", "nats client is required")
	}
	if bucket == "" {
		bucket = DefaultStoreBucket
	}
	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "rtlink deployment configs",
		History:     5,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Store", "NewStore", "open bucket")
	}
	return &Store{kv: client.NewKVStore(kv)}, nil
}

// Push validates cfg and stores it under its platform id
func (s *Store) Push(ctx context.Context, cfg *Config) (uint64, error) {
	if cfg == nil {
		return 0, errors.BadParam("Store", "Push", "config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return 0, errors.WrapInvalid(err, "Store", "Push", "validate")
	}
	rev, err := s.kv.PutJSON(ctx, cfg.Platform.ID, cfg)
	if err != nil {
		return 0, errors.Wrap(err, "Store", "Push", "put")
	}
	return rev, nil
}

// Load fetches the config stored for platformID
func (s *Store) Load(ctx context.Context, platformID string) (*Config, error) {
	var cfg Config
	if _, err := s.kv.GetJSON(ctx, platformID, &cfg); err != nil {
		if natsclient.IsKVNotFoundError(err) {
			return nil, fmt.Errorf("config %s: %w", platformID, errors.ErrKeyNotFound)
		}
		return nil, errors.Wrap(err, "Store", "Load", "get")
	}
	return &cfg, nil
}
