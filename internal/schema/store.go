package schema

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Cache is an optional external backing for resolved schemas (e.g. a shared
// cache in a multi-instance deployment). The in-process map in front of it is
// always present.
type Cache interface {
	Get(ctx context.Context, key string) (*Schema, bool)
	Set(ctx context.Context, key string, s *Schema)
	Delete(ctx context.Context, key string)
}

// Store resolves, normalizes, and caches schemas. Caching is keyed by
// (entity, sorted context set). Population on miss is single-flight per exact
// key: concurrent requests for the same uncached tuple share one upstream
// load.
//
// Policy for overlapping context sets: each exact key flights independently.
// A request for {detail} while {detail,form} is mid-flight for the same
// entity proceeds on its own and may duplicate the upstream fetch once; it
// never blocks on, or partially reuses, the broader computation. Exact-key
// isolation keeps behavior deterministic.
type Store struct {
	source   Source
	external Cache // optional
	log      zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*Schema

	flight singleflight.Group
}

type StoreOption func(*Store)

// WithCache attaches an external cache behind the in-process one.
func WithCache(c Cache) StoreOption {
	return func(s *Store) { s.external = c }
}

func NewStore(source Source, log zerolog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		source: source,
		log:    log,
		cache:  make(map[string]*Schema),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Resolve returns the schema for the entity, filtered to the requested
// contexts (empty means all). Unknown entity yields ErrNotFound; a malformed
// document yields ErrInvalid.
func (s *Store) Resolve(ctx context.Context, entity string, contexts []string) (*Schema, error) {
	key := cacheKey(entity, contexts)

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if s.external != nil {
		if cached, ok := s.external.Get(ctx, key); ok {
			s.mu.Lock()
			s.cache[key] = cached
			s.mu.Unlock()
			return cached, nil
		}
	}

	v, err, _ := s.flight.Do(key, func() (any, error) {
		raw, err := s.source.LoadRaw(ctx, entity)
		if err != nil {
			return nil, err
		}
		full, err := Normalize(raw, s.log)
		if err != nil {
			s.log.Error().Err(err).Str("entity", entity).Msg("schema rejected")
			return nil, err
		}
		resolved := FilterContexts(raw, full, contexts)

		s.mu.Lock()
		s.cache[key] = resolved
		s.mu.Unlock()
		if s.external != nil {
			s.external.Set(ctx, key, resolved)
		}
		return resolved, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Schema), nil
}

// Invalidate drops all cached context variants of the entity. Schemas are
// otherwise static at runtime; this is the only way an edited document takes
// effect.
func (s *Store) Invalidate(ctx context.Context, entity string) {
	prefix := entity + "|"
	s.mu.Lock()
	var dropped []string
	for key := range s.cache {
		if strings.HasPrefix(key, prefix) {
			delete(s.cache, key)
			dropped = append(dropped, key)
		}
	}
	s.mu.Unlock()

	if s.external != nil {
		for _, key := range dropped {
			s.external.Delete(ctx, key)
		}
	}
}

// InvalidateAll empties the in-process cache.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string]*Schema)
	s.mu.Unlock()
}

func cacheKey(entity string, contexts []string) string {
	return entity + "|" + strings.Join(SortContexts(contexts), ",")
}
