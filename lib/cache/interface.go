package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// CreateFunc computes a missing value. Returning ok=false means there is no
// value (the callback's "null"): it is handed to the caller but not cached.
type CreateFunc[T any] func(ctx context.Context) (value T, ok bool, err error)

// ICache is the get-or-create cache for values of type T keyed by (group, key).
//
// The boolean return values distinguish a value from a miss, a non nil error is
// always a failure of the operation (e.g. a lock timeout), never a miss.
type ICache[T any] interface {
	// GetOrCreate returns the live value of (group, key). If there is none, create
	// is called exactly once among all concurrent callers of this identity and its
	// result is cached. A value is absent once its creation time plus ttl lies
	// in the past, so a ttl of 0 only serves values created in the same instant.
	GetOrCreate(ctx context.Context, group, key string, ttl time.Duration, create CreateFunc[T]) (value T, ok bool, err error)
	// Get returns the live value of (group, key) without creating it.
	Get(ctx context.Context, group, key string, ttl time.Duration) (value T, ok bool, err error)
	// Set stores value for (group, key), replacing any existing entry. The ttl is
	// not stored, expiry is always decided by the reader.
	Set(ctx context.Context, group, key string, value T, ttl time.Duration) (err error)
	// Destroy removes the entry of (group, key). Removing a missing entry is not an error.
	Destroy(ctx context.Context, group, key string) (err error)
}

// --------------------------------------------------------------------------
// Data Model
// --------------------------------------------------------------------------

// Entry is the unit that is persisted for an identity.
type Entry[T any] struct {
	Value     T         `json:"value" cbor:"value"`
	CreatedAt time.Time `json:"created_at" cbor:"created_at"`
}

// NewEntry creates an entry with the creation time now. The time is stored in
// UTC without monotonic clock reading so it survives serialization unchanged.
func NewEntry[T any](value T, now time.Time) Entry[T] {
	return Entry[T]{
		Value:     value,
		CreatedAt: now.UTC().Round(0),
	}
}

// Expired reports whether the creation time plus ttl lies before now.
func (e Entry[T]) Expired(ttl time.Duration, now time.Time) bool {
	return e.CreatedAt.Add(ttl).Before(now)
}

// Identity is the (group, key) pair addressing an entry.
type Identity struct {
	Group string
	Key   string
}

// LockName returns the name of the lock guarding the identity. The group
// length prefix makes the name unambiguous, ("ab", "c") and ("a", "bc") get
// different names.
func (id Identity) LockName() string {
	return fmt.Sprintf("%d:%s/%s", len(id.Group), id.Group, id.Key)
}

func (id Identity) String() string {
	return fmt.Sprintf("%q/%q", id.Group, id.Key)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// an error message and optionally the underlying cause.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
	Err  error   // The cause, may be nil.
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("CacheError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("CacheError (code %s): %s", e.Code, e.Msg)
}

// Unwrap returns the cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors with the same return code, so errors.Is(err, ErrLockTimeout)
// holds for every lock timeout no matter the message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new CacheError with the given code, message and cause.
func NewError(code RetCode, msg string, err error) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  err,
	}
}

var (
	// ErrLockTimeout is returned when a lock could not be acquired in time.
	// The state of the entry is unknown in that case.
	ErrLockTimeout = NewError(RetCLockTimeout, "lock timeout", nil)
	// ErrNestedLock is returned when an execution context requests a lock it already holds.
	ErrNestedLock = NewError(RetCNestedLock, "nested lock", nil)
	// ErrInvalidArgument is returned on caller contract violations.
	ErrInvalidArgument = NewError(RetCInvalidArgument, "invalid argument", nil)
	// ErrIOFailure is returned when an entry could not be written or removed.
	ErrIOFailure = NewError(RetCIOFailure, "io failure", nil)
	// ErrDecodeFailure is returned by back-ends when a stored entry is unreadable.
	ErrDecodeFailure = NewError(RetCDecodeFailure, "decode failure", nil)
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess         RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                  // 1: Operation failed due to an internal error.
	RetCLockTimeout                    // 2: Lock not acquired within the timeout.
	RetCNestedLock                     // 3: Lock already held by the execution context.
	RetCIOFailure                      // 4: Entry could not be written or removed.
	RetCInvalidArgument                // 5: Caller contract violation.
	RetCDecodeFailure                  // 6: Stored entry is unreadable.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCLockTimeout:
		return "LockTimeout"
	case RetCNestedLock:
		return "NestedLock"
	case RetCIOFailure:
		return "IOFailure"
	case RetCInvalidArgument:
		return "InvalidArgument"
	case RetCDecodeFailure:
		return "DecodeFailure"
	default:
		return "Unknown"
	}
}
