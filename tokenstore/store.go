package tokenstore

import (
	"context"
	"errors"
)

var (
	// ErrBackend wraps any failure of the underlying storage.
	ErrBackend = errors.New("token store backend unavailable")
	// ErrConflict is returned when an Update could not commit after retries.
	ErrConflict = errors.New("token store update conflict")
	// ErrInvalidKey is returned when a key has an empty component.
	ErrInvalidKey = errors.New("token store key incomplete")
)

// Key addresses one token record. At most one live record exists per key.
type Key struct {
	UserID   string
	Provider string
	Purpose  string
}

// Valid reports whether every component of the key is set.
func (k Key) Valid() bool {
	return k.UserID != "" && k.Provider != "" && k.Purpose != ""
}

// Op tells Update what to do with the record after the callback returns.
type Op uint8

const (
	// OpKeep leaves the record untouched.
	OpKeep Op = iota
	// OpPut writes the returned value.
	OpPut
	// OpDelete removes the record.
	OpDelete
)

// UpdateFunc receives the current value of a record and decides the next
// state. It may be called more than once when the backend retries after a
// concurrent write, so it must not have side effects.
type UpdateFunc func(current string, exists bool) (next string, op Op, err error)

// Store persists opaque, purpose-scoped token records per user.
//
// Update is the only read-modify-write primitive: implementations run it as
// one atomic unit (compare-and-swap or transaction) so concurrent consumers
// of the same record never lose writes. A cancelled context never leaves a
// partial write behind.
type Store interface {
	Get(ctx context.Context, key Key) (value string, ok bool, err error)
	Set(ctx context.Context, key Key, value string) error
	Remove(ctx context.Context, key Key) error
	Update(ctx context.Context, key Key, fn UpdateFunc) error
}
