// Package badgerstore is an embedded item store on Badger. Items live under
// item/<cat>/<id>; the category/price index is a set of empty-valued keys
// idx/cat_price/<cat>/<price>/<id> with zero-padded prices so that key order
// is price order.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/rfblock/hackagotchi/internal/store"
)

const (
	itemPrefix  = "item/"
	indexPrefix = "idx/cat_price/"

	// maxConflictRetries bounds how often a write transaction is rerun after
	// losing a race with a concurrent commit on the same item.
	maxConflictRetries = 100
)

// Store is a Badger-backed store.Store.
type Store struct {
	db  *badger.DB
	log *zap.Logger
}

var _ store.Store = (*Store)(nil)

// OpenOptions configures Open.
type OpenOptions struct {
	Path     string
	InMemory bool
}

// Open opens (or creates) the Badger database.
func Open(opts OpenOptions, log *zap.Logger) (*Store, error) {
	var bopts badger.Options
	switch {
	case opts.InMemory:
		bopts = badger.DefaultOptions("").WithInMemory(true)
	case strings.TrimSpace(opts.Path) != "":
		bopts = badger.DefaultOptions(opts.Path)
	default:
		return nil, errors.New("badgerstore: path is required")
	}
	db, err := badger.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

func itemKey(k store.Key) []byte {
	return []byte(itemPrefix + k.Category + "/" + k.ID)
}

func categoryIndexPrefix(category string) []byte {
	return []byte(indexPrefix + category + "/")
}

func indexKey(k store.Key, price uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d/%s", indexPrefix, k.Category, price, k.ID))
}

func checkKey(k store.Key) error {
	if strings.Contains(k.Category, "/") || strings.Contains(k.ID, "/") {
		return fmt.Errorf("%w: %q contains '/'", store.ErrInvalidKey, k.String())
	}
	return nil
}

// Query returns every indexed record of a category in price order.
func (s *Store) Query(ctx context.Context, in store.QueryInput) (*store.QueryOutput, error) {
	if err := store.CheckIndex(in.Index); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items := make([]store.Record, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := categoryIndexPrefix(in.Category)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			id := key[strings.LastIndex(key, "/")+1:]

			k := store.Key{Category: in.Category, ID: id}
			rec, err := getRecord(txn, k)
			if errors.Is(err, store.ErrNotFound) {
				s.log.Warn("Dangling index entry", zap.String("key", key))
				continue
			}
			if errors.Is(err, store.ErrCorruptRecord) {
				s.log.Warn("Failed to decode item attributes", zap.Stringer("key", k), zap.Error(err))
				rec = k.Attributes()
				err = nil
			}
			if err != nil {
				return err
			}
			items = append(items, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	return &store.QueryOutput{Items: items}, nil
}

// Update applies a partial update in one read-write transaction. A commit
// that conflicts with a concurrent write to the same item is rerun against
// the newer record, so the last committed write wins.
func (s *Store) Update(ctx context.Context, in store.UpdateInput) error {
	if err := in.Validate(); err != nil {
		return err
	}
	if err := checkKey(in.Key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.update(ctx, in.Key, func(txn *badger.Txn) error {
		rec, err := getRecord(txn, in.Key)
		if errors.Is(err, store.ErrNotFound) {
			if len(in.Set) == 0 {
				return nil
			}
			return err
		}
		if err != nil {
			return err
		}

		oldIndexed, oldPrice := rec.IndexEntry()
		rec.Apply(in.Set, in.Remove)
		return putRecord(txn, in.Key, rec, oldIndexed, oldPrice)
	})
}

// Put creates or replaces a whole record.
func (s *Store) Put(ctx context.Context, rec store.Record) error {
	key, err := store.KeyOf(rec)
	if err != nil {
		return err
	}
	if err := checkKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.update(ctx, key, func(txn *badger.Txn) error {
		old, err := getRecord(txn, key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return putRecord(txn, key, rec, false, 0)
		case err != nil:
			return err
		}
		oldIndexed, oldPrice := old.IndexEntry()
		return putRecord(txn, key, rec, oldIndexed, oldPrice)
	})
}

// Get reads one record.
func (s *Store) Get(ctx context.Context, key store.Key) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec store.Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes a record and its index entry.
func (s *Store) Delete(ctx context.Context, key store.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.update(ctx, key, func(txn *badger.Txn) error {
		rec, err := getRecord(txn, key)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if indexed, price := rec.IndexEntry(); indexed {
			if err := txn.Delete(indexKey(key, price)); err != nil {
				return err
			}
		}
		return txn.Delete(itemKey(key))
	})
}

// update runs fn in a read-write transaction, rerunning it on
// badger.ErrConflict.
func (s *Store) update(ctx context.Context, key store.Key, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.log.Debug("Item changed during update, retrying", zap.Stringer("key", key), zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("failed to update %s after %d attempts: %w", key, maxConflictRetries, err)
}

// Ping reports whether the database is open.
func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badgerstore: database is closed")
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func getRecord(txn *badger.Txn, key store.Key) (store.Record, error) {
	item, err := txn.Get(itemKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}

	var rec store.Record
	err = item.Value(func(val []byte) error {
		var err error
		rec, err = store.UnmarshalRecord(val)
		return err
	})
	return rec, err
}

func putRecord(txn *badger.Txn, key store.Key, rec store.Record, oldIndexed bool, oldPrice uint64) error {
	data, err := store.MarshalRecord(rec)
	if err != nil {
		return err
	}
	if oldIndexed {
		if err := txn.Delete(indexKey(key, oldPrice)); err != nil {
			return err
		}
	}
	if indexed, price := rec.IndexEntry(); indexed {
		if err := txn.Set(indexKey(key, price), nil); err != nil {
			return err
		}
	}
	return txn.Set(itemKey(key), data)
}
