package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Alturino/storefront/cart/internal/common/otel"
	commonErrors "github.com/Alturino/storefront/internal/common/errors"
	"github.com/Alturino/storefront/internal/log"
	"github.com/Alturino/storefront/internal/storage"
)

const (
	DefaultKey = "cart_store"
	DefaultTTL = 2 * time.Hour
)

// Store holds the buyer's cart in memory and mirrors it to storage after every
// mutation. Storage failures are logged and never reach the caller; the
// persisted copy is a convenience, not the source of truth for the order.
type Store struct {
	mu      sync.Mutex
	storage storage.Storage
	key     string
	ttl     time.Duration
	now     func() time.Time
	lines   []Line
}

type Option func(*Store)

func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates the store and restores a persisted cart younger than the TTL.
func New(c context.Context, st storage.Storage, opts ...Option) *Store {
	s := &Store{storage: st, key: DefaultKey, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.load(c)
	return s
}

func (s *Store) load(c context.Context) {
	c, span := otel.Tracer.Start(c, "Store load")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Store load").
		Str(log.KeyCartKey, s.key).
		Logger()

	logger = logger.With().Str(log.KeyProcess, "reading persisted cart").Logger()
	logger.Debug().Msg("reading persisted cart")
	data, err := s.storage.Get(c, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		logger.Debug().Msg("no persisted cart")
		return
	}
	if err != nil {
		err = fmt.Errorf("failed reading persisted cart with error=%w", err)
		commonErrors.HandleError(err, span)
		logger.Warn().Err(err).Msg(err.Error())
		return
	}

	lines, savedAt, err := decodeRecord(data)
	if err != nil {
		logger.Info().Err(err).Msg("discarding unreadable cart record")
		s.deleteRecord(c)
		return
	}
	if s.now().Sub(savedAt) >= s.ttl {
		logger.Info().Time("savedAt", savedAt).Msg("discarding expired cart record")
		s.deleteRecord(c)
		return
	}

	s.lines = lines
	logger.Info().Int(log.KeyCartLines, len(lines)).Msg("restored persisted cart")
}

// AddLine appends a new line. Quantities below one are raised to one.
func (s *Store) AddLine(c context.Context, item Item, quantity int) {
	c, span := otel.Tracer.Start(c, "Store AddLine")
	defer span.End()

	if quantity < 1 {
		quantity = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, newLine(item.ID, item.Price, quantity, item.Attributes))
	s.persist(c)
}

func (s *Store) RemoveLine(c context.Context, id string) {
	c, span := otel.Tracer.Start(c, "Store RemoveLine")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return
	}
	s.lines = append(s.lines[:i], s.lines[i+1:]...)
	s.persist(c)
}

func (s *Store) Increment(c context.Context, id string) {
	c, span := otel.Tracer.Start(c, "Store Increment")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return
	}
	s.lines[i].Quantity++
	s.lines[i].recompute()
	s.persist(c)
}

// Decrement lowers the quantity by one but never below one; use RemoveLine to
// drop a line.
func (s *Store) Decrement(c context.Context, id string) {
	c, span := otel.Tracer.Start(c, "Store Decrement")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 || s.lines[i].Quantity <= 1 {
		return
	}
	s.lines[i].Quantity--
	s.lines[i].recompute()
	s.persist(c)
}

func (s *Store) Clear(c context.Context) {
	c, span := otel.Tracer.Start(c, "Store Clear")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = nil
	s.persist(c)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Lines:    make([]Line, len(s.lines)),
		Subtotal: decimal.Zero,
	}
	for i, l := range s.lines {
		l.Attributes = cloneAttributes(l.Attributes)
		snap.Lines[i] = l
		snap.ItemCount += l.Quantity
		snap.Subtotal = snap.Subtotal.Add(l.LineTotal)
	}
	snap.Total = snap.Subtotal
	return snap
}

func (s *Store) indexOf(id string) int {
	for i, l := range s.lines {
		if l.ID == id {
			return i
		}
	}
	return -1
}

// persist must be called with s.mu held.
func (s *Store) persist(c context.Context) {
	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Store persist").
		Str(log.KeyCartKey, s.key).
		Int(log.KeyCartLines, len(s.lines)).
		Logger()

	if len(s.lines) == 0 {
		s.deleteRecord(c)
		return
	}

	data, err := encodeRecord(s.lines, s.now())
	if err != nil {
		err = fmt.Errorf("failed encoding cart record with error=%w", err)
		logger.Error().Err(err).Msg(err.Error())
		return
	}
	if err := s.storage.Set(c, s.key, data); err != nil {
		err = fmt.Errorf("failed writing cart record with error=%w", err)
		logger.Warn().Err(err).Msg(err.Error())
		return
	}
	logger.Trace().Msg("persisted cart")
}

func (s *Store) deleteRecord(c context.Context) {
	if err := s.storage.Delete(c, s.key); err != nil {
		err = fmt.Errorf("failed deleting cart record with error=%w", err)
		zerolog.Ctx(c).Warn().Str(log.KeyCartKey, s.key).Err(err).Msg(err.Error())
	}
}

func cloneAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
