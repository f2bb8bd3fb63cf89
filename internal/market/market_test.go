package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rfblock/hackagotchi/internal/db"
	"github.com/rfblock/hackagotchi/internal/notify"
	"github.com/rfblock/hackagotchi/internal/repo"
	"github.com/rfblock/hackagotchi/internal/store"
	"github.com/rfblock/hackagotchi/internal/store/badgerstore"
	"github.com/rfblock/hackagotchi/internal/store/storetest"
	"github.com/rfblock/hackagotchi/pkg/logger"
)

type fullStore interface {
	Store
	Put(ctx context.Context, rec store.Record) error
	Get(ctx context.Context, key store.Key) (store.Record, error)
}

// backends returns a fresh store per supported embedded backend.
func backends(t *testing.T) map[string]func(t *testing.T) fullStore {
	log := logger.NewLogger("test", "info")
	return map[string]func(t *testing.T) fullStore{
		"sqlite": func(t *testing.T) fullStore {
			database, err := db.Connect("sqlite", ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { database.Close() })
			require.NoError(t, db.RunMigrations(database))
			return repo.NewItemRepository(database, log)
		},
		"badger": func(t *testing.T) fullStore {
			s, err := badgerstore.Open(badgerstore.OpenOptions{InMemory: true}, log)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func seed(t *testing.T, s fullStore, cat Category, extra store.Record) uuid.UUID {
	id := uuid.New()
	rec := storetest.Item(string(cat), id.String(), store.Record{"steader": store.String("U1")})
	rec.Apply(extra, nil)
	require.NoError(t, s.Put(context.Background(), rec))
	return id
}

type recordingNotifier struct {
	mu      sync.Mutex
	entries []notify.Entry
}

func (n *recordingNotifier) Notify(e notify.Entry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.entries = append(n.entries, e)
}

func (n *recordingNotifier) received() []notify.Entry {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Entry(nil), n.entries...)
}

type stubStore struct {
	out       *store.QueryOutput
	queryErr  error
	updateErr error
	updates   []store.UpdateInput
}

func (s *stubStore) Query(ctx context.Context, in store.QueryInput) (*store.QueryOutput, error) {
	return s.out, s.queryErr
}

func (s *stubStore) Update(ctx context.Context, in store.UpdateInput) error {
	s.updates = append(s.updates, in)
	return s.updateErr
}

func TestPlaceThenSearch(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			id := seed(t, s, Gotchi, store.Record{"name": store.String("Gotch")})

			m := New(s, logger.NewLogger("test", "info"))
			require.NoError(t, m.Place(ctx, Gotchi, id, 500, "Golden Egg"))

			listings, err := m.Search(ctx, Gotchi)
			require.NoError(t, err)
			require.Len(t, listings, 1)
			assert.Equal(t, Sale{Price: 500, MarketName: "Golden Egg"}, listings[0].Sale)
			assert.Equal(t, id, listings[0].Possession.ID)
			assert.Equal(t, "Gotch", listings[0].Possession.Name)

			// Place leaves attributes it does not own alone
			rec, err := s.Get(ctx, itemKey(Gotchi, id))
			require.NoError(t, err)
			assert.Equal(t, "U1", *rec["steader"].S)
			assert.Equal(t, "Gotch", *rec["name"].S)
		})
	}
}

func TestPlaceOverwrites(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			id := seed(t, s, Misc, nil)
			m := New(s, logger.NewLogger("test", "info"))

			require.NoError(t, m.Place(ctx, Misc, id, 100, "A"))
			require.NoError(t, m.Place(ctx, Misc, id, 200, "B"))

			listings, err := m.Search(ctx, Misc)
			require.NoError(t, err)
			require.Len(t, listings, 1)
			assert.Equal(t, Sale{Price: 200, MarketName: "B"}, listings[0].Sale)
		})
	}
}

func TestConcurrentPlaceLastWriteWins(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			id := seed(t, s, Gotchi, nil)
			m := New(s, logger.NewLogger("test", "info"))

			const sellers = 50
			errs := make(chan error, sellers)
			var wg sync.WaitGroup
			for i := 0; i < sellers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs <- m.Place(ctx, Gotchi, id, uint64(i+1), fmt.Sprintf("n%d", i+1))
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				assert.NoError(t, err)
			}

			listings, err := m.Search(ctx, Gotchi)
			require.NoError(t, err)
			require.Len(t, listings, 1)
			sale := listings[0].Sale
			assert.True(t, sale.Price >= 1 && sale.Price <= sellers)
			assert.Equal(t, fmt.Sprintf("n%d", sale.Price), sale.MarketName)
		})
	}
}

func TestTakeOff(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			id := seed(t, s, Land, nil)
			m := New(s, logger.NewLogger("test", "info"))

			require.NoError(t, m.Place(ctx, Land, id, 42, "Plot"))
			require.NoError(t, m.TakeOff(ctx, Land, id))

			listings, err := m.Search(ctx, Land)
			require.NoError(t, err)
			assert.Empty(t, listings)

			rec, err := s.Get(ctx, itemKey(Land, id))
			require.NoError(t, err)
			assert.NotContains(t, rec, PriceField)
			assert.NotContains(t, rec, MarketNameField)
			assert.Contains(t, rec, "steader")

			// Idempotent, including on items that were never stored
			require.NoError(t, m.TakeOff(ctx, Land, id))
			require.NoError(t, m.TakeOff(ctx, Land, uuid.New()))
		})
	}
}

func TestPlaceMissingItem(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			m := New(s, logger.NewLogger("test", "info"))

			err := m.Place(context.Background(), Gotchi, uuid.New(), 5, "Ghost")
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrItemNotFound)
			assert.ErrorIs(t, err, store.ErrNotFound)
			assert.NotErrorIs(t, err, ErrStoreUnavailable)

			listings, err := m.Search(context.Background(), Gotchi)
			require.NoError(t, err)
			assert.Empty(t, listings)
		})
	}
}

func TestSearchEmptyCategory(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			seed(t, s, Gotchi, Sale{Price: 1, MarketName: "Other"}.Attributes())
			m := New(s, logger.NewLogger("test", "info"))

			listings, err := m.Search(context.Background(), Profile)
			require.NoError(t, err)
			assert.NotNil(t, listings)
			assert.Empty(t, listings)
		})
	}
}

func TestSearchOnlyReturnsRequestedCategory(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()
			m := New(s, logger.NewLogger("test", "info"))

			want := []uuid.UUID{
				seed(t, s, Gotchi, Sale{Price: 30, MarketName: "c"}.Attributes()),
				seed(t, s, Gotchi, Sale{Price: 10, MarketName: "a"}.Attributes()),
			}
			seed(t, s, Gotchi, nil)
			seed(t, s, Misc, Sale{Price: 20, MarketName: "b"}.Attributes())

			listings, err := m.Search(ctx, Gotchi)
			require.NoError(t, err)

			var got []string
			for _, l := range listings {
				assert.Equal(t, Gotchi, l.Possession.Category)
				got = append(got, l.Possession.ID.String())
			}
			sort.Strings(got)
			wantIDs := []string{want[0].String(), want[1].String()}
			sort.Strings(wantIDs)
			assert.Equal(t, wantIDs, got)
		})
	}
}

func TestSearchSkipsMalformedRecords(t *testing.T) {
	for name, newStore := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := newStore(t)
			core, logs := observer.New(zap.WarnLevel)
			m := New(s, zap.New(core))

			good := seed(t, s, Gotchi, Sale{Price: 9, MarketName: "Fine"}.Attributes())
			seed(t, s, Gotchi, store.Record{"price": store.String("cheap"), "market_name": store.String("Bad")})
			seed(t, s, Gotchi, store.Record{"price": store.Number("3")})

			listings, err := m.Search(context.Background(), Gotchi)
			require.NoError(t, err)
			require.Len(t, listings, 1)
			assert.Equal(t, good, listings[0].Possession.ID)

			warned := logs.FilterMessage("Error parsing possession").All()
			require.Len(t, warned, 2)
			reasons := []string{
				warned[0].ContextMap()["reason"].(string),
				warned[1].ContextMap()["reason"].(string),
			}
			assert.ElementsMatch(t, []string{"wrongly_typed_field", "missing_field"}, reasons)
		})
	}
}

func TestSearchToleratesMalformedPrice(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	id := uuid.New()
	st := &stubStore{out: &store.QueryOutput{Items: []store.Record{
		storetest.Item("gotchi", id.String(), store.Record{
			"steader":     store.String("U1"),
			"price":       store.Number("lots"),
			"market_name": store.String("Egg"),
		}),
		storetest.Item("gotchi", "not-a-uuid", store.Record{"steader": store.String("U1")}),
	}}}
	m := New(st, zap.New(core))

	var listings []Listing
	var err error
	require.NotPanics(t, func() {
		listings, err = m.Search(context.Background(), Gotchi)
	})
	require.NoError(t, err)
	assert.Empty(t, listings)

	warned := logs.FilterMessage("Error parsing possession").All()
	require.Len(t, warned, 2)
	assert.Equal(t, "malformed_value", warned[0].ContextMap()["reason"])
	assert.Equal(t, "price", warned[0].ContextMap()["field"])
	assert.Equal(t, id.String(), warned[0].ContextMap()["item_id"])
}

func TestSearchStoreUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	m := New(&stubStore{queryErr: cause}, logger.NewLogger("test", "info"))

	listings, err := m.Search(context.Background(), Misc)
	assert.Nil(t, listings)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "couldn't search misc market")

	var merr *Error
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, Misc, merr.Category)
}

func TestSearchEmptyResponse(t *testing.T) {
	for name, out := range map[string]*store.QueryOutput{
		"nil output": nil,
		"nil items":  {},
	} {
		t.Run(name, func(t *testing.T) {
			m := New(&stubStore{out: out}, logger.NewLogger("test", "info"))

			_, err := m.Search(context.Background(), Land)
			assert.ErrorIs(t, err, ErrEmptyResponse)
			assert.NotErrorIs(t, err, ErrStoreUnavailable)
		})
	}
}

func TestMutationStoreUnavailable(t *testing.T) {
	cause := errors.New("timeout")
	st := &stubStore{updateErr: cause}
	m := New(st, logger.NewLogger("test", "info"))
	id := uuid.New()

	err := m.Place(context.Background(), Profile, id, 5, "Me")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "couldn't place "+id.String()+" on market")

	err = m.TakeOff(context.Background(), Profile, id)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "couldn't remove "+id.String()+" from market")
}

func TestMutationRequests(t *testing.T) {
	st := &stubStore{}
	m := New(st, logger.NewLogger("test", "info"))
	id := uuid.New()

	require.NoError(t, m.Place(context.Background(), Gotchi, id, 12, "Egg"))
	require.NoError(t, m.TakeOff(context.Background(), Gotchi, id))

	require.Len(t, st.updates, 2)
	key := store.Key{Category: "gotchi", ID: id.String()}

	assert.Equal(t, key, st.updates[0].Key)
	assert.Equal(t, store.Record{
		"price":       store.Number("12"),
		"market_name": store.String("Egg"),
	}, st.updates[0].Set)
	assert.Empty(t, st.updates[0].Remove)

	assert.Equal(t, key, st.updates[1].Key)
	assert.Empty(t, st.updates[1].Set)
	assert.ElementsMatch(t, []string{"price", "market_name"}, st.updates[1].Remove)
}

func TestMutationsNotify(t *testing.T) {
	n := &recordingNotifier{}
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := New(&stubStore{}, logger.NewLogger("test", "info"), WithNotifier(n))
	m.now = func() time.Time { return at }
	id := uuid.New()

	require.NoError(t, m.Place(context.Background(), Gotchi, id, 500, "Golden Egg"))
	require.NoError(t, m.TakeOff(context.Background(), Gotchi, id))

	assert.Equal(t, []notify.Entry{
		{Kind: notify.Listed, Category: "gotchi", ItemID: id.String(), Price: 500, MarketName: "Golden Egg", At: at},
		{Kind: notify.Delisted, Category: "gotchi", ItemID: id.String(), At: at},
	}, n.received())
}

func TestFailedMutationDoesNotNotify(t *testing.T) {
	n := &recordingNotifier{}
	m := New(&stubStore{updateErr: store.ErrNotFound}, logger.NewLogger("test", "info"), WithNotifier(n))

	err := m.Place(context.Background(), Gotchi, uuid.New(), 1, "x")
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.Empty(t, n.received())
}
