package naming

import (
	"context"
	stderrors "errors"
	"regexp"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/rtlink/errors"
	"github.com/c360/rtlink/natsclient"
)

// DefaultBucket is the KV bucket used when none is configured
const DefaultBucket = "rtlink_names"

var validKVKey = regexp.MustCompile(`^[-/_=.a-zA-Z0-9]+$`)

// KVDirectory stores records as JSON in a JetStream KV bucket, so processes
// sharing a NATS server resolve each other's endpoints.
type KVDirectory struct {
	store *natsclient.KVStore
}

// NewKVDirectory opens (or creates) bucket on client
func NewKVDirectory(ctx context.Context, client *natsclient.Client, bucket string, ttl time.Duration) (*KVDirectory, error) {
	if client == nil {
		return nil, errors.BadParam("KVDirectory", "NewKVDirectory", "nats client is required")
	}
	if bucket == "" {
		bucket = DefaultBucket
	}

	kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "rtlink name directory",
		TTL:         ttl,
		History:     1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "KVDirectory", "NewKVDirectory", "open bucket")
	}
	return &KVDirectory{store: client.NewKVStore(kv)}, nil
}

func kvKey(kind, name string) (string, error) {
	key := Key(kind, name)
	if !validKVKey.MatchString(key) {
		return "", errors.BadParam("KVDirectory", "key", "name not usable as a KV key: "+name)
	}
	return key, nil
}

// Register stores rec
func (d *KVDirectory) Register(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.Kind == "" {
		rec.Kind = KindEndpoint
	}
	if rec.Registered.IsZero() {
		rec.Registered = time.Now()
	}
	key, err := kvKey(rec.Kind, rec.Name)
	if err != nil {
		return err
	}
	_, err = d.store.PutJSON(ctx, key, rec)
	return err
}

// Unregister removes a record
func (d *KVDirectory) Unregister(ctx context.Context, kind, name string) error {
	key, err := kvKey(kind, name)
	if err != nil {
		return err
	}
	if err := d.store.Delete(ctx, key); err != nil && !natsclient.IsKVNotFoundError(err) {
		return err
	}
	return nil
}

// Lookup returns a record
func (d *KVDirectory) Lookup(ctx context.Context, kind, name string) (Record, error) {
	key, err := kvKey(kind, name)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if _, err := d.store.GetJSON(ctx, key, &rec); err != nil {
		if stderrors.Is(err, errors.ErrKeyNotFound) {
			return Record{}, notFound("KVDirectory", kind, name)
		}
		return Record{}, err
	}
	return rec, nil
}

// List scans the bucket's keys for kind and prefix
func (d *KVDirectory) List(ctx context.Context, kind, prefix string) ([]Record, error) {
	keys, err := d.store.Keys(ctx)
	if err != nil {
		return nil, err
	}

	want := Key(kind, prefix)
	found := make(map[string]Record)
	for _, key := range keys {
		if !strings.HasPrefix(key, want) {
			continue
		}
		var rec Record
		if _, err := d.store.GetJSON(ctx, key, &rec); err != nil {
			// deleted between Keys and Get
			if stderrors.Is(err, errors.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		found[key] = rec
	}
	return filter(found, kind, prefix), nil
}
