package redisorm

import (
	"github.com/redis/rueidis"

	"github.com/ramses-tech/nefertari/internal/model"
)

// NewStoreForTest creates a Store with the provided rueidis client (test-only).
func NewStoreForTest(c rueidis.Client, registry *model.Registry) *Store {
	return &Store{client: c, prefix: "nefertari:", registry: registry}
}
