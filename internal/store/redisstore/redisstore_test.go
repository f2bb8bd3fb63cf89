package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfblock/hackagotchi/internal/store"
	"github.com/rfblock/hackagotchi/internal/store/storetest"
	"github.com/rfblock/hackagotchi/pkg/logger"
)

// newTestStore connects to REDIS_ADDR under a fresh key prefix and removes
// the prefix's keys afterwards.
func newTestStore(t *testing.T) *Store {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	prefix := "hackmarket-test-" + uuid.NewString()
	s, err := New(Options{Addr: addr, KeyPrefix: prefix}, logger.NewLogger("test", "info"))
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		iter := s.rdb.Scan(ctx, 0, prefix+":*", 100).Iterator()
		for iter.Next(ctx) {
			s.rdb.Del(ctx, iter.Val())
		}
		s.Close()
	})
	return s
}

func TestRedisStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newTestStore(t)
	})
}

func TestNewRequiresAddress(t *testing.T) {
	_, err := New(Options{}, logger.NewLogger("test", "info"))
	assert.Error(t, err)

	_, err = New(Options{Addr: "localhost:6379"}, nil)
	assert.Error(t, err)
}

func TestEncodeDecode(t *testing.T) {
	rec := store.Record{
		"cat":   store.String("gotchi"),
		"price": store.Uint(12),
		"shiny": store.Bool(true),
	}

	fields, err := encode(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"N":"12"}`, fields["price"])

	strs := make(map[string]string, len(fields))
	for k, v := range fields {
		strs[k] = v.(string)
	}
	decoded, err := decode(strs)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)

	_, err = decode(map[string]string{"price": "12"})
	assert.ErrorIs(t, err, store.ErrCorruptRecord)
}
