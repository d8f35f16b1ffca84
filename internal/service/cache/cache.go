package cache

import "time"

// BytesCache is the response cache used by the HTTP layer.
type BytesCache interface {
	GetBytes(key string) (b []byte, ok bool, err error)
	SetBytes(key string, value []byte, ttl time.Duration) error
}
