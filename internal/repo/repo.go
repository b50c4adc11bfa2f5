// Package repo persists runtime state in Redis.
package repo

import "go.uber.org/zap"

// Repository groups the Redis-backed repositories over one client.
type Repository struct {
	log    *zap.Logger
	client *RedisClient

	Streams *StreamRepository
}

// NewRepository connects to Redis at addr. A failed first probe is logged,
// not returned; the client keeps retrying on use.
func NewRepository(log *zap.Logger, addr, password string, db int) *Repository {
	log = log.Named("repo")
	client := NewRedisClient(log, addr, password, db)

	return &Repository{
		log:     log,
		client:  client,
		Streams: newStreamRepository(log, client),
	}
}

// Close releases the underlying client.
func (r *Repository) Close() error {
	return r.client.Close()
}
