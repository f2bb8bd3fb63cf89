package market

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rfblock/hackagotchi/internal/store"
)

// Attribute names of the sale sub-record.
const (
	PriceField      = store.PriceAttr
	MarketNameField = "market_name"
)

// ErrInvalidSale is returned by Sale.Validate.
var ErrInvalidSale = errors.New("invalid sale")

// Sale is an active listing attached to an owned item.
type Sale struct {
	Price      uint64 `json:"price"`
	MarketName string `json:"market_name"`
}

// Validate reports whether the sale has a positive price and a display name.
// Stored sales are not validated; callers taking listings from users should.
func (s Sale) Validate() error {
	if s.Price == 0 {
		return fmt.Errorf("%w: price must be positive", ErrInvalidSale)
	}
	if strings.TrimSpace(s.MarketName) == "" {
		return fmt.Errorf("%w: market name is required", ErrInvalidSale)
	}
	return nil
}

// Attributes encodes the sale as the attributes written by Place.
func (s Sale) Attributes() store.Record {
	return store.Record{
		PriceField:      store.Uint(s.Price),
		MarketNameField: store.String(s.MarketName),
	}
}
