package record

import (
	"context"
	"sort"
)

// Store persists records. Implementations are write-once: Put fails with
// ErrImmutabilityViolation for an id already stored, and Get verifies the
// content hash of what it reads.
type Store interface {
	Put(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id ID) (*Record, error)
	List(ctx context.Context, filter ListFilter) ([]Metadata, error)
}

// ListFilter narrows record listings
type ListFilter struct {
	AirportID string
	Limit     int
}

// TxRunner runs fn inside a single commit boundary. Nothing fn writes is
// visible unless fn returns nil.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// NoTx runs against a store without a transaction. Suitable for stores
// whose Put is itself atomic.
type NoTx struct {
	Store Store
}

// WithinTx implements TxRunner
func (n NoTx) WithinTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	return fn(ctx, n.Store)
}

// SortMetadata orders listings newest first, then by id
func SortMetadata(metas []Metadata) {
	sort.SliceStable(metas, func(i, j int) bool {
		if !metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].CreatedAt.After(metas[j].CreatedAt)
		}
		return metas[i].ID < metas[j].ID
	})
}

// ApplyFilter filters and truncates sorted metadata
func ApplyFilter(metas []Metadata, filter ListFilter) []Metadata {
	var out []Metadata
	for _, m := range metas {
		if filter.AirportID != "" && m.AirportID != filter.AirportID {
			continue
		}
		out = append(out, m)
	}
	SortMetadata(out)
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out
}
