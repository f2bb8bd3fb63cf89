// Package redisstore keeps items in Redis: one hash per item (attribute name
// to JSON-encoded value) and one sorted set per category scored by price,
// which serves the category/price index.
//
// Sorted-set scores are float64, so prices above 2^53 may tie or misorder in
// the index. The hash keeps the exact price text, and index order is not
// part of the store contract.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rfblock/hackagotchi/internal/store"
)

// maxWatchRetries bounds optimistic-lock retries for a single update.
const maxWatchRetries = 100

// Options configures New.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Store is a Redis-backed store.Store.
type Store struct {
	rdb    *goredis.Client
	prefix string
	log    *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(opts Options, log *zap.Logger) (*Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	prefix := strings.TrimSpace(opts.KeyPrefix)
	if prefix == "" {
		prefix = "hackmarket"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Store{
		rdb:    rdb,
		prefix: prefix,
		log:    log.With(zap.String("store", "redis")),
	}, nil
}

func (s *Store) itemKey(k store.Key) string {
	return s.prefix + ":item:" + k.Category + ":" + k.ID
}

func (s *Store) indexKey(category string) string {
	return s.prefix + ":idx:cat_price:" + category
}

// Query returns every indexed record of a category in price order.
func (s *Store) Query(ctx context.Context, in store.QueryInput) (*store.QueryOutput, error) {
	if err := store.CheckIndex(in.Index); err != nil {
		return nil, err
	}

	ids, err := s.rdb.ZRange(ctx, s.indexKey(in.Category), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = s.rdb.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.itemKey(store.Key{Category: in.Category, ID: id}))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}

	items := make([]store.Record, 0, len(ids))
	for i, cmd := range cmds {
		key := store.Key{Category: in.Category, ID: ids[i]}
		fields := cmd.Val()
		if len(fields) == 0 {
			s.log.Warn("Dangling index entry", zap.Stringer("key", key))
			continue
		}
		rec, err := decode(fields)
		if err != nil {
			s.log.Warn("Failed to decode item attributes", zap.Stringer("key", key), zap.Error(err))
			rec = key.Attributes()
		}
		items = append(items, rec)
	}

	return &store.QueryOutput{Items: items}, nil
}

// Update applies a partial update under WATCH/MULTI, retrying when another
// client modifies the item between the read and the commit.
func (s *Store) Update(ctx context.Context, in store.UpdateInput) error {
	if err := in.Validate(); err != nil {
		return err
	}

	key := s.itemKey(in.Key)
	index := s.indexKey(in.Key.Category)

	txf := func(tx *goredis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			if len(in.Set) == 0 {
				return nil
			}
			return fmt.Errorf("%w: %s", store.ErrNotFound, in.Key)
		}
		rec, err := decode(fields)
		if err != nil {
			return err
		}
		rec.Apply(in.Set, in.Remove)
		indexed, price := rec.IndexEntry()

		set, err := encode(in.Set)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if len(set) > 0 {
				pipe.HSet(ctx, key, set)
			}
			if len(in.Remove) > 0 {
				pipe.HDel(ctx, key, in.Remove...)
			}
			if indexed {
				pipe.ZAdd(ctx, index, goredis.Z{Score: float64(price), Member: in.Key.ID})
			} else {
				pipe.ZRem(ctx, index, in.Key.ID)
			}
			return nil
		})
		return err
	}

	var err error
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err = s.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
		s.log.Debug("Item changed during update, retrying", zap.Stringer("key", in.Key), zap.Int("attempt", attempt+1))
	}
	return fmt.Errorf("failed to update %s after %d attempts: %w", in.Key, maxWatchRetries, err)
}

// Put creates or replaces a whole record.
func (s *Store) Put(ctx context.Context, rec store.Record) error {
	k, err := store.KeyOf(rec)
	if err != nil {
		return err
	}
	fields, err := encode(rec)
	if err != nil {
		return err
	}
	key := s.itemKey(k)
	index := s.indexKey(k.Category)
	indexed, price := rec.IndexEntry()

	_, err = s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		if indexed {
			pipe.ZAdd(ctx, index, goredis.Z{Score: float64(price), Member: k.ID})
		} else {
			pipe.ZRem(ctx, index, k.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

// Get reads one record.
func (s *Store) Get(ctx context.Context, key store.Key) (store.Record, error) {
	fields, err := s.rdb.HGetAll(ctx, s.itemKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, key)
	}
	return decode(fields)
}

// Delete removes a record and its index entry.
func (s *Store) Delete(ctx context.Context, key store.Key) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, s.itemKey(key))
		pipe.ZRem(ctx, s.indexKey(key.Category), key.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func encode(rec store.Record) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(rec))
	for name, v := range rec {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[name] = string(raw)
	}
	return out, nil
}

func decode(fields map[string]string) (store.Record, error) {
	rec := make(store.Record, len(fields))
	for name, raw := range fields {
		var v store.AttributeValue
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("%w: attribute %q: %v", store.ErrCorruptRecord, name, err)
		}
		rec[name] = v
	}
	return rec, nil
}
