// Package store defines the persistent keyed item store the marketplace runs
// against. Records are keyed by (category, id) and carry loosely-typed
// attributes; the category/price secondary index lists every record in a
// category that carries a price.
package store

import (
	"context"
	"errors"
	"fmt"
)

// CategoryPriceIndex is the only secondary index the backends maintain.
const CategoryPriceIndex = "cat_price_index"

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrUnknownIndex is returned when a query names an index the store does not maintain
	ErrUnknownIndex = errors.New("unknown index")

	// ErrInvalidKey is returned for records or updates with malformed key attributes
	ErrInvalidKey = errors.New("invalid key")

	// ErrCorruptRecord is returned when stored attributes cannot be decoded
	ErrCorruptRecord = errors.New("corrupt record")
)

// QueryInput selects every record of one category from a secondary index.
type QueryInput struct {
	Index    string
	Category string
}

// QueryOutput holds the raw records matched by a query. A nil Items slice means
// the store returned no item collection at all, which is distinct from zero
// matches.
type QueryOutput struct {
	Items []Record
}

// UpdateInput is a partial update of one record: Set attributes are written,
// Remove attributes are deleted, everything else is left untouched.
type UpdateInput struct {
	Key    Key
	Set    Record
	Remove []string
}

// Validate rejects updates that would rewrite the key attributes.
func (in UpdateInput) Validate() error {
	if in.Key.Category == "" || in.Key.ID == "" {
		return fmt.Errorf("%w: category and id are required", ErrInvalidKey)
	}
	for name := range in.Set {
		if name == CategoryAttr || name == IDAttr {
			return fmt.Errorf("%w: cannot set key attribute %q", ErrInvalidKey, name)
		}
	}
	for _, name := range in.Remove {
		if name == CategoryAttr || name == IDAttr {
			return fmt.Errorf("%w: cannot remove key attribute %q", ErrInvalidKey, name)
		}
	}
	return nil
}

// Querier runs secondary index queries.
type Querier interface {
	Query(ctx context.Context, in QueryInput) (*QueryOutput, error)
}

// Updater applies partial updates. Each update is atomic per key. An update
// that sets attributes on a missing record fails with ErrNotFound; an update
// that only removes attributes from a missing record is a no-op.
type Updater interface {
	Update(ctx context.Context, in UpdateInput) error
}

// Store is the full backend surface. The marketplace only needs Querier and
// Updater; the remaining methods serve the item domain, health checks and
// tests.
type Store interface {
	Querier
	Updater
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, key Key) (Record, error)
	Delete(ctx context.Context, key Key) error
	Ping(ctx context.Context) error
	Close() error
}

// CheckIndex returns ErrUnknownIndex for any index other than CategoryPriceIndex.
func CheckIndex(index string) error {
	if index != CategoryPriceIndex {
		return fmt.Errorf("%w: %q", ErrUnknownIndex, index)
	}
	return nil
}
