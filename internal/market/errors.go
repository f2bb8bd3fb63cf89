package market

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrStoreUnavailable is returned when the store read or write fails
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrEmptyResponse is returned when a search response carries no item collection
	ErrEmptyResponse = errors.New("store returned no item collection")

	// ErrItemNotFound is returned when placing an item that does not exist.
	// It is a kind of its own: the store answered, so it does not match
	// ErrStoreUnavailable.
	ErrItemNotFound = errors.New("item not found")
)

// Error is returned by Market operations. Kind is exactly one of
// ErrStoreUnavailable, ErrEmptyResponse or ErrItemNotFound, and errors.Is
// matches only that kind. Err is the underlying cause, if any.
type Error struct {
	Op       string
	Category Category
	ItemID   uuid.UUID
	Kind     error
	Err      error
}

func (e *Error) Error() string {
	var msg string
	switch e.Op {
	case opPlace:
		msg = fmt.Sprintf("couldn't place %s on market", e.ItemID)
	case opTakeOff:
		msg = fmt.Sprintf("couldn't remove %s from market", e.ItemID)
	default:
		msg = fmt.Sprintf("couldn't search %s market", e.Category)
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
