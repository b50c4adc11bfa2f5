package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/edirooss/groundstation/internal/domain/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Finder answers event queries.
type Finder interface {
	Find(ctx context.Context, q Query) ([]domain.Event, error)
}

type QueryOptions struct {
	// TTL controls how long a result is served from memory. Default 250ms.
	TTL time.Duration
	// QueryTimeout bounds one store round trip. Default 2s.
	QueryTimeout time.Duration
}

func (o *QueryOptions) setDefaults() {
	if o.TTL <= 0 {
		o.TTL = 250 * time.Millisecond
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 2 * time.Second
	}
}

// QueryResult lets the handler set cache headers.
type QueryResult struct {
	Events      []domain.Event
	CacheHit    bool
	GeneratedAt time.Time
}

type cached struct {
	events  []domain.Event
	expires time.Time
	genAt   time.Time
}

// QueryService caches Find results briefly and coalesces concurrent identical
// queries into one store round trip.
type QueryService struct {
	log   *zap.Logger
	store Finder // nil when no store is configured
	opts  QueryOptions
	now   func() time.Time

	mu    sync.RWMutex
	cache map[string]cached

	sg singleflight.Group
}

func NewQueryService(log *zap.Logger, store Finder, opts QueryOptions) *QueryService {
	opts.setDefaults()
	return &QueryService{
		log:   log.Named("telemetry_query"),
		store: store,
		opts:  opts,
		now:   time.Now,
		cache: make(map[string]cached),
	}
}

func cacheKey(q Query) string {
	return fmt.Sprintf("%s|%d|%d|%d", q.Category, q.From.UnixNano(), q.To.UnixNano(), q.limit())
}

// Find returns the cached result for q or queries the store.
func (s *QueryService) Find(ctx context.Context, q Query) (QueryResult, error) {
	if s.store == nil {
		return QueryResult{}, ErrStoreNotConfigured
	}
	key := cacheKey(q)

	if res, ok := s.fresh(key); ok {
		return res, nil
	}

	v, err, _ := s.sg.Do(key, func() (any, error) {
		// another flight may have filled the cache meanwhile
		if res, ok := s.fresh(key); ok {
			return res, nil
		}

		ctx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
		defer cancel()

		start := s.now()
		events, err := s.store.Find(ctx, q)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.evictLocked(start)
		s.cache[key] = cached{events: events, expires: start.Add(s.opts.TTL), genAt: start}
		s.mu.Unlock()

		return QueryResult{Events: cloneEvents(events), GeneratedAt: start}, nil
	})
	if err != nil {
		return QueryResult{}, err
	}
	return v.(QueryResult), nil
}

func (s *QueryService) fresh(key string) (QueryResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cache[key]
	if !ok || !s.now().Before(c.expires) {
		return QueryResult{}, false
	}
	return QueryResult{Events: cloneEvents(c.events), CacheHit: true, GeneratedAt: c.genAt}, true
}

// evictLocked drops expired entries.
func (s *QueryService) evictLocked(now time.Time) {
	for k, c := range s.cache {
		if !now.Before(c.expires) {
			delete(s.cache, k)
		}
	}
}

// Invalidate empties the cache.
func (s *QueryService) Invalidate() {
	s.mu.Lock()
	s.cache = make(map[string]cached)
	s.mu.Unlock()
}

func cloneEvents(in []domain.Event) []domain.Event {
	out := make([]domain.Event, len(in))
	copy(out, in)
	return out
}
