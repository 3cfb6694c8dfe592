// Package storage is the durable key-value substrate behind the cart store.
package storage

import (
	"context"

	commonErrors "github.com/Alturino/storefront/internal/common/errors"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = commonErrors.ErrNotFound

type Storage interface {
	Get(c context.Context, key string) ([]byte, error)
	Set(c context.Context, key string, value []byte) error
	Delete(c context.Context, key string) error
}
