package naming

import (
	"context"

	"github.com/c360/rtlink/errors"
)

// Static is a Directory over a fixed peer list, typically from deployment config.
// Lookups of listed names succeed; Register and Unregister are accepted for names
// the list already carries and otherwise fall through to an optional overlay.
type Static struct {
	records map[string]Record
	overlay Directory
}

// NewStatic builds a static directory. overlay may be nil, in which case
// registrations of unlisted names fail with ErrPreconditionNotMet.
func NewStatic(records []Record, overlay Directory) (*Static, error) {
	s := &Static{records: make(map[string]Record, len(records)), overlay: overlay}
	for _, rec := range records {
		if err := rec.Validate(); err != nil {
			return nil, err
		}
		if rec.Kind == "" {
			rec.Kind = KindEndpoint
		}
		if _, dup := s.records[rec.Key()]; dup {
			return nil, errors.BadParam("Static", "NewStatic", "duplicate entry "+rec.Key())
		}
		s.records[rec.Key()] = rec
	}
	return s, nil
}

// Register is a no-op for listed names and delegates to the overlay otherwise
func (s *Static) Register(ctx context.Context, rec Record) error {
	if _, ok := s.records[rec.Key()]; ok {
		return nil
	}
	if s.overlay == nil {
		return errors.Precondition("Static", "Register", "name not in static directory: "+rec.Key())
	}
	return s.overlay.Register(ctx, rec)
}

// Unregister delegates unlisted names to the overlay
func (s *Static) Unregister(ctx context.Context, kind, name string) error {
	if _, ok := s.records[Key(kind, name)]; ok || s.overlay == nil {
		return nil
	}
	return s.overlay.Unregister(ctx, kind, name)
}

// Lookup prefers the static list, then the overlay
func (s *Static) Lookup(ctx context.Context, kind, name string) (Record, error) {
	if rec, ok := s.records[Key(kind, name)]; ok {
		return rec, nil
	}
	if s.overlay != nil {
		return s.overlay.Lookup(ctx, kind, name)
	}
	return Record{}, notFound("Static", kind, name)
}

// List merges the static list with the overlay, static entries winning
func (s *Static) List(ctx context.Context, kind, prefix string) ([]Record, error) {
	merged := make(map[string]Record, len(s.records))
	if s.overlay != nil {
		extra, err := s.overlay.List(ctx, kind, prefix)
		if err != nil {
			return nil, err
		}
		for _, rec := range extra {
			merged[rec.Key()] = rec
		}
	}
	for k, rec := range s.records {
		merged[k] = rec
	}
	return filter(merged, kind, prefix), nil
}
