package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/zfogg/sidechain/clientsync/pkg/cache"
)

// DataSource is the per-feature capability a Synchronizer drives: it names
// the cache key for a set of parameters and fetches the authoritative value.
type DataSource[P any, V any] interface {
	Key(params P) cache.Key
	Fetch(ctx context.Context, params P) (V, error)
}

// SourceFuncs adapts a pair of functions to DataSource
type SourceFuncs[P any, V any] struct {
	KeyFunc   func(params P) cache.Key
	FetchFunc func(ctx context.Context, params P) (V, error)
}

func (f SourceFuncs[P, V]) Key(params P) cache.Key { return f.KeyFunc(params) }

func (f SourceFuncs[P, V]) Fetch(ctx context.Context, params P) (V, error) {
	return f.FetchFunc(ctx, params)
}

// Result is the outcome of a load. Errors are carried here rather than
// returned so callers can keep rendering the best-known data.
type Result[V any] struct {
	Value V
	// Err is set when the remote fetch failed or the scope was closed.
	Err error
	// Found is false when there is no value at all.
	Found bool
	// FromCache is true when Value came from the cache store.
	FromCache bool
	// Stale is true when Value is past its TTL.
	Stale bool
}

// OK reports whether the load produced a value without error
func (r Result[V]) OK() bool {
	return r.Err == nil && r.Found
}

// EditStatus is the lifecycle state of an optimistic edit
type EditStatus string

const (
	EditPending    EditStatus = "pending"
	EditConfirmed  EditStatus = "confirmed"
	EditRolledBack EditStatus = "rolled_back"
)

// OptimisticEdit records a local change applied ahead of server confirmation
type OptimisticEdit[V any] struct {
	ID          string
	EntityID    string
	Key         cache.Key
	Previous    V
	HadPrevious bool
	Proposed    V
	Status      EditStatus
	CreatedAt   time.Time
}

// ErrNoProjection may be returned by Mutation.Apply when there is no cached
// value to project onto. The write still runs.
var ErrNoProjection = errors.New("no projection to apply")

// Mutation describes one optimistic write
type Mutation[P any, V any] struct {
	// EntityID serializes edits: a second edit on the same entity waits for
	// the first to resolve. Defaults to the cache key.
	EntityID string
	// Params locate the projection that Apply edits.
	Params P
	// Validate checks caller input before anything is queued or applied.
	Validate func() error
	// Apply computes the proposed projection from the current one. Any error
	// other than ErrNoProjection rejects the edit as a validation failure.
	Apply func(prev V, found bool) (V, error)
	// Write performs the remote write.
	Write func(ctx context.Context) error
	// Invalidate lists extra key prefixes dropped after a confirmed write.
	Invalidate []cache.Key
	// Refetch forces a reload of the projection after a confirmed write.
	Refetch bool
}

// MutationResult is the outcome of Mutate
type MutationResult[V any] struct {
	Edit *OptimisticEdit[V]
	// Value is the projection after the mutation resolved.
	Value V
	Err   error
	// Reloaded is set when a forced load ran after the write.
	Reloaded *Result[V]
}

// LoadOption customizes a single Load
type LoadOption func(*loadOptions)

type loadOptions struct {
	force      bool
	allowStale bool
}

// Force bypasses the freshness check
func Force() LoadOption {
	return func(o *loadOptions) { o.force = true }
}

// AllowStale serves a stale entry immediately and refreshes it in the background
func AllowStale() LoadOption {
	return func(o *loadOptions) { o.allowStale = true }
}
