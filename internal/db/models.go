package db

import (
	"math"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/rfblock/hackagotchi/internal/store"
)

// Item is one stored item record. Attributes holds the full attribute map;
// Listed and Price mirror the price attribute so the (category, price) index
// can be served by the database.
type Item struct {
	Category   string         `gorm:"primaryKey;type:varchar(64)"`
	ID         string         `gorm:"primaryKey;type:varchar(64)"`
	Listed     bool           `gorm:"not null"`
	Price      *int64         `gorm:"column:price"`
	Attributes datatypes.JSON `gorm:"not null"`
	CreatedAt  time.Time      `gorm:"not null"`
	UpdatedAt  time.Time      `gorm:"not null"`
}

// TableName specifies the table name for Item model
func (Item) TableName() string {
	return "items"
}

// BeforeCreate hook to set timestamps
func (i *Item) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	if i.UpdatedAt.IsZero() {
		i.UpdatedAt = now
	}
	return nil
}

// NewItem builds a row from a record.
func NewItem(rec store.Record) (*Item, error) {
	key, err := store.KeyOf(rec)
	if err != nil {
		return nil, err
	}
	item := &Item{Category: key.Category, ID: key.ID}
	if err := item.SetRecord(rec); err != nil {
		return nil, err
	}
	return item, nil
}

// Record decodes the stored attributes.
func (i *Item) Record() (store.Record, error) {
	return store.UnmarshalRecord(i.Attributes)
}

// SetRecord replaces the stored attributes and refreshes the index columns.
func (i *Item) SetRecord(rec store.Record) error {
	data, err := store.MarshalRecord(rec)
	if err != nil {
		return err
	}
	i.Attributes = datatypes.JSON(data)
	listed, price := rec.IndexEntry()
	i.Listed = listed
	i.Price = nil
	if listed {
		p := int64(math.MaxInt64)
		if price < math.MaxInt64 {
			p = int64(price)
		}
		i.Price = &p
	}
	return nil
}
