// Package market lists owned items for sale, searches listings by category
// and delists them.
//
// Concurrent Place calls on the same item race in the store and the last
// write wins; there is no version check. Searches may observe a concurrent
// mutation either before or after it lands.
package market

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rfblock/hackagotchi/internal/metrics"
	"github.com/rfblock/hackagotchi/internal/notify"
	"github.com/rfblock/hackagotchi/internal/store"
)

const (
	opSearch  = "search"
	opPlace   = "place"
	opTakeOff = "take_off"
)

// Store is the part of the item store the marketplace uses.
type Store interface {
	store.Querier
	store.Updater
}

// Notifier accepts log entries for asynchronous delivery. Notify must not
// block.
type Notifier interface {
	Notify(e notify.Entry)
}

// Listing pairs a parsed sale with the item it is attached to.
type Listing struct {
	Sale       Sale
	Possession Possession
}

// Market runs marketplace queries and mutations against a store.
type Market struct {
	store    Store
	notifier Notifier
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// Option configures a Market.
type Option func(*Market)

// WithNotifier sends an entry for every successful place and take-off.
func WithNotifier(n Notifier) Option {
	return func(m *Market) { m.notifier = n }
}

// WithMetrics records operation outcomes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Market) { m.metrics = mt }
}

// New creates a Market.
func New(st Store, log *zap.Logger, opts ...Option) *Market {
	m := &Market{
		store: st,
		log:   log,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func itemKey(cat Category, id uuid.UUID) store.Key {
	return store.Key{Category: string(cat), ID: id.String()}
}

// Search returns every well-formed listing in a category. Records that fail
// to parse are logged and skipped; records without a sale are skipped.
// Listings come back in store order, which callers must not rely on.
func (m *Market) Search(ctx context.Context, cat Category) ([]Listing, error) {
	out, err := m.store.Query(ctx, store.QueryInput{
		Index:    store.CategoryPriceIndex,
		Category: string(cat),
	})
	if err != nil {
		m.metrics.SearchFailed()
		m.log.Error("Couldn't search market", zap.Stringer("category", cat), zap.Error(err))
		return nil, &Error{Op: opSearch, Category: cat, Kind: ErrStoreUnavailable, Err: err}
	}
	if out == nil || out.Items == nil {
		m.metrics.SearchFailed()
		m.log.Error("Market search query returned no items", zap.Stringer("category", cat))
		return nil, &Error{Op: opSearch, Category: cat, Kind: ErrEmptyResponse}
	}

	listings := make([]Listing, 0, len(out.Items))
	for _, rec := range out.Items {
		pos, err := ParsePossession(rec)
		if err != nil {
			m.dropped(cat, rec, err)
			continue
		}
		if pos.Sale == nil {
			continue
		}
		listings = append(listings, Listing{Sale: *pos.Sale, Possession: pos})
	}

	m.metrics.SearchSucceeded(len(listings))
	return listings, nil
}

func (m *Market) dropped(cat Category, rec store.Record, err error) {
	fields := []zap.Field{zap.Stringer("category", cat), zap.Error(err)}
	if id, ok := rec[store.IDAttr]; ok && id.S != nil {
		fields = append(fields, zap.String("item_id", *id.S))
	}

	reason := "unknown"
	var fe *FieldError
	if errors.As(err, &fe) {
		reason = fe.Kind.String()
		fields = append(fields, zap.String("field", fe.Field), zap.String("reason", reason))
	}

	m.metrics.RecordDropped(reason)
	m.log.Warn("Error parsing possession", fields...)
}

// Place lists an item, or relists it with a new price and name. Only the
// sale attributes are written.
func (m *Market) Place(ctx context.Context, cat Category, id uuid.UUID, price uint64, marketName string) error {
	m.log.Info("Putting item on the market",
		zap.Stringer("category", cat),
		zap.Stringer("item_id", id),
		zap.Uint64("price", price),
	)

	sale := Sale{Price: price, MarketName: marketName}
	err := m.store.Update(ctx, store.UpdateInput{
		Key: itemKey(cat, id),
		Set: sale.Attributes(),
	})
	m.metrics.Mutation(opPlace, err)
	if err != nil {
		return m.mutationError(opPlace, cat, id, err)
	}

	m.notify(notify.Entry{
		Kind:       notify.Listed,
		Category:   string(cat),
		ItemID:     id.String(),
		Price:      price,
		MarketName: marketName,
	})
	return nil
}

// TakeOff delists an item. Delisting an unlisted or unknown item succeeds.
func (m *Market) TakeOff(ctx context.Context, cat Category, id uuid.UUID) error {
	m.log.Info("Taking item off the market",
		zap.Stringer("category", cat),
		zap.Stringer("item_id", id),
	)

	err := m.store.Update(ctx, store.UpdateInput{
		Key:    itemKey(cat, id),
		Remove: []string{PriceField, MarketNameField},
	})
	m.metrics.Mutation(opTakeOff, err)
	if err != nil {
		return m.mutationError(opTakeOff, cat, id, err)
	}

	m.notify(notify.Entry{
		Kind:     notify.Delisted,
		Category: string(cat),
		ItemID:   id.String(),
	})
	return nil
}

func (m *Market) mutationError(op string, cat Category, id uuid.UUID, err error) error {
	kind := ErrStoreUnavailable
	if errors.Is(err, store.ErrNotFound) {
		kind = ErrItemNotFound
	}
	merr := &Error{Op: op, Category: cat, ItemID: id, Kind: kind, Err: err}
	m.log.Error("Market mutation failed", zap.String("op", op), zap.Error(merr))
	return merr
}

func (m *Market) notify(e notify.Entry) {
	if m.notifier == nil {
		return
	}
	e.At = m.now()
	m.notifier.Notify(e)
}
