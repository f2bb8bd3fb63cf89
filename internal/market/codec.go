package market

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/rfblock/hackagotchi/internal/store"
)

// FieldErrorKind classifies why a stored attribute could not be parsed.
type FieldErrorKind int

const (
	// MissingField: a required attribute is absent.
	MissingField FieldErrorKind = iota + 1
	// WronglyTypedField: the attribute holds the wrong variant.
	WronglyTypedField
	// MalformedValue: the variant is right but its content does not parse.
	MalformedValue
)

var (
	ErrMissingField      = errors.New("missing field")
	ErrWronglyTypedField = errors.New("wrongly typed field")
	ErrMalformedValue    = errors.New("malformed value")
)

func (k FieldErrorKind) sentinel() error {
	switch k {
	case MissingField:
		return ErrMissingField
	case WronglyTypedField:
		return ErrWronglyTypedField
	case MalformedValue:
		return ErrMalformedValue
	default:
		return nil
	}
}

func (k FieldErrorKind) String() string {
	switch k {
	case MissingField:
		return "missing_field"
	case WronglyTypedField:
		return "wrongly_typed_field"
	case MalformedValue:
		return "malformed_value"
	default:
		return "unknown"
	}
}

// FieldError reports an attribute that failed to parse. errors.Is matches it
// against the sentinel of its kind.
type FieldError struct {
	Kind  FieldErrorKind
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	msg := fmt.Sprintf("%v: %s", e.Kind.sentinel(), e.Field)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FieldError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func fieldErr(kind FieldErrorKind, field string, err error) *FieldError {
	return &FieldError{Kind: kind, Field: field, Err: err}
}

func stringField(rec store.Record, name string) (string, error) {
	v, ok := rec[name]
	if !ok {
		return "", fieldErr(MissingField, name, nil)
	}
	if v.S == nil {
		return "", fieldErr(WronglyTypedField, name, fmt.Errorf("want S, got %s", kindName(v)))
	}
	return *v.S, nil
}

func kindName(v store.AttributeValue) string {
	if k := v.Kind(); k != store.KindInvalid {
		return string(k)
	}
	return "nothing"
}

// ParseSale reads the sale sub-record of a stored item.
func ParseSale(rec store.Record) (Sale, error) {
	name, err := stringField(rec, MarketNameField)
	if err != nil {
		return Sale{}, err
	}

	v, ok := rec[PriceField]
	if !ok {
		return Sale{}, fieldErr(MissingField, PriceField, nil)
	}
	if v.N == nil {
		return Sale{}, fieldErr(WronglyTypedField, PriceField, fmt.Errorf("want N, got %s", kindName(v)))
	}
	price, err := strconv.ParseUint(*v.N, 10, 64)
	if err != nil {
		return Sale{}, fieldErr(MalformedValue, PriceField, err)
	}

	return Sale{Price: price, MarketName: name}, nil
}

// HasSale reports whether any sale attribute is present on the record.
func HasSale(rec store.Record) bool {
	_, price := rec[PriceField]
	_, name := rec[MarketNameField]
	return price || name
}

// Possession is the marketplace's view of an owned item.
type Possession struct {
	Category Category
	ID       uuid.UUID
	// Steader is the owner's user id.
	Steader string
	Name    string
	// Sale is non-nil iff the item is listed.
	Sale *Sale
	// Record is the raw stored record, including attributes owned by the
	// item domain.
	Record store.Record
}

// Key returns the store key of the possession.
func (p Possession) Key() store.Key {
	return itemKey(p.Category, p.ID)
}

// ParsePossession reads a stored item. The sale is parsed when any sale
// attribute is present, and its error returned.
func ParsePossession(rec store.Record) (Possession, error) {
	cat, err := stringField(rec, store.CategoryAttr)
	if err != nil {
		return Possession{}, err
	}
	category, err := ParseCategory(cat)
	if err != nil {
		return Possession{}, fieldErr(MalformedValue, store.CategoryAttr, err)
	}

	rawID, err := stringField(rec, store.IDAttr)
	if err != nil {
		return Possession{}, err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return Possession{}, fieldErr(MalformedValue, store.IDAttr, err)
	}

	steader, err := stringField(rec, "steader")
	if err != nil {
		return Possession{}, err
	}

	var name string
	if _, ok := rec["name"]; ok {
		if name, err = stringField(rec, "name"); err != nil {
			return Possession{}, err
		}
	}

	p := Possession{
		Category: category,
		ID:       id,
		Steader:  steader,
		Name:     name,
		Record:   rec,
	}
	if HasSale(rec) {
		sale, err := ParseSale(rec)
		if err != nil {
			return Possession{}, err
		}
		p.Sale = &sale
	}
	return p, nil
}
