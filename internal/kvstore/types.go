package kvstore

import "errors"

var (
	// ErrQuotaExceeded is returned by Set when the value does not fit the store's quota
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// ErrClosed is returned by operations on a closed store
	ErrClosed = errors.New("store closed")
)

// Store is a synchronous string key/value store.
// Get reports a missing key as ok=false with a nil error.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
	Close() error
}
