package store

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Attribute names shared by every backend.
const (
	CategoryAttr = "cat"
	IDAttr       = "id"
	PriceAttr    = "price"
)

// Kind names the populated member of an AttributeValue.
type Kind string

const (
	KindInvalid Kind = ""
	KindString  Kind = "S"
	KindNumber  Kind = "N"
	KindBool    Kind = "BOOL"
	KindNull    Kind = "NULL"
	KindList    Kind = "L"
	KindMap     Kind = "M"
)

// AttributeValue is a loosely-typed stored value. Exactly one member is expected
// to be populated; numbers are carried as decimal text.
type AttributeValue struct {
	S    *string                   `json:"S,omitempty"`
	N    *string                   `json:"N,omitempty"`
	BOOL *bool                     `json:"BOOL,omitempty"`
	NULL bool                      `json:"NULL,omitempty"`
	L    []AttributeValue          `json:"L,omitempty"`
	M    map[string]AttributeValue `json:"M,omitempty"`
}

// String returns a string attribute.
func String(s string) AttributeValue {
	return AttributeValue{S: &s}
}

// Number returns a numeric attribute holding the given decimal text.
func Number(n string) AttributeValue {
	return AttributeValue{N: &n}
}

// Uint returns a numeric attribute.
func Uint(n uint64) AttributeValue {
	return Number(strconv.FormatUint(n, 10))
}

// Bool returns a boolean attribute.
func Bool(b bool) AttributeValue {
	return AttributeValue{BOOL: &b}
}

// Kind reports which member is populated.
func (v AttributeValue) Kind() Kind {
	switch {
	case v.S != nil:
		return KindString
	case v.N != nil:
		return KindNumber
	case v.BOOL != nil:
		return KindBool
	case v.NULL:
		return KindNull
	case v.L != nil:
		return KindList
	case v.M != nil:
		return KindMap
	default:
		return KindInvalid
	}
}

// Record is one stored item: attribute name to value.
type Record map[string]AttributeValue

// Key identifies a record.
type Key struct {
	Category string
	ID       string
}

func (k Key) String() string {
	return k.Category + "/" + k.ID
}

// Attributes returns the key as record attributes.
func (k Key) Attributes() Record {
	return Record{
		CategoryAttr: String(k.Category),
		IDAttr:       String(k.ID),
	}
}

// KeyOf extracts the key attributes of a record.
func KeyOf(rec Record) (Key, error) {
	cat, ok := rec[CategoryAttr]
	if !ok || cat.S == nil || *cat.S == "" {
		return Key{}, fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidKey, CategoryAttr)
	}
	id, ok := rec[IDAttr]
	if !ok || id.S == nil || *id.S == "" {
		return Key{}, fmt.Errorf("%w: %q must be a non-empty string", ErrInvalidKey, IDAttr)
	}
	return Key{Category: *cat.S, ID: *id.S}, nil
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Apply sets and removes the named attributes in place. Removing an absent
// attribute is a no-op.
func (r Record) Apply(set Record, remove []string) {
	for name, v := range set {
		r[name] = v
	}
	for _, name := range remove {
		delete(r, name)
	}
}

// IndexEntry reports whether the record belongs to the category/price index and
// its numeric sort price. A record carrying a price attribute of any kind is
// indexed; prices that are not unsigned integers sort as zero.
func (r Record) IndexEntry() (indexed bool, price uint64) {
	v, ok := r[PriceAttr]
	if !ok {
		return false, 0
	}
	if v.N != nil {
		if n, err := strconv.ParseUint(*v.N, 10, 64); err == nil {
			return true, n
		}
	}
	return true, 0
}

// MarshalRecord encodes a record as JSON.
func MarshalRecord(r Record) ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRecord decodes a record encoded by MarshalRecord.
func UnmarshalRecord(data []byte) (Record, error) {
	rec := Record{}
	if len(data) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return rec, nil
}
