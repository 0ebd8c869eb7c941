package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	lru "github.com/hashicorp/golang-lru"

	"github.com/kittyscape/clogpoints/internal/store"
	"github.com/kittyscape/clogpoints/pkg/metrics"
	"github.com/kittyscape/clogpoints/pkg/points"
)

const defaultDetailCacheSize = 512

// Award is the result of scoring a new completion.
type Award struct {
	Entry       *store.LedgerEntry `json:"entry"`
	DisplayName string             `json:"display_name"`
}

// Service answers scoring, suggestion and flag requests from command handlers.
type Service struct {
	store   store.Store
	rates   RateIndex
	details *lru.Cache
	// gen counts purges so a lookup that raced one is not cached.
	mu      sync.Mutex
	gen     uint64
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewService creates a catalog service. cacheSize bounds the scoring detail cache.
func NewService(s store.Store, rates RateIndex, cacheSize int, m *metrics.Metrics, log *slog.Logger) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = defaultDetailCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create detail cache: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   s,
		rates:   rates,
		details: cache,
		metrics: m,
		log:     log,
	}, nil
}

// ScoreForItem returns the points an item is worth right now. ok is false
// when the item is unknown or has no usable rate.
func (s *Service) ScoreForItem(ctx context.Context, name string) (pts int64, ok bool, err error) {
	rate, found := s.rates.Rate(name)
	if !found || !points.ValidRate(rate) {
		s.metrics.ObserveScoreLookup(false)
		return 0, false, nil
	}

	detail, err := s.scoringDetail(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		s.metrics.ObserveScoreLookup(false)
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	s.metrics.ObserveScoreLookup(true)
	return points.Score(rate, detail.ClampEligible()), true, nil
}

func (s *Service) scoringDetail(ctx context.Context, name string) (*store.ItemDetail, error) {
	if v, ok := s.details.Get(name); ok {
		return v.(*store.ItemDetail), nil
	}
	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()

	d, err := s.store.GetItemDetail(ctx, name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.gen == gen {
		s.details.Add(name, d)
	}
	s.mu.Unlock()
	return d, nil
}

// ItemDetail returns the stored record, clamp state and ledger statistics for an item.
func (s *Service) ItemDetail(ctx context.Context, name string) (*store.ItemDetail, error) {
	return s.store.GetItemDetail(ctx, name)
}

// SuggestItemNames returns known item names containing partial.
func (s *Service) SuggestItemNames(partial string, limit int) []string {
	return suggest(partial, s.rates.Names(), limit)
}

// SuggestCategoryNames returns category labels containing partial.
func (s *Service) SuggestCategoryNames(ctx context.Context, partial string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultSuggestLimit
	}
	return s.store.SuggestCategories(ctx, partial, limit)
}

// SetCategoryClamp caps (or uncaps) every non-whitelisted item in a category.
func (s *Service) SetCategoryClamp(ctx context.Context, category string, clamp bool) error {
	if err := s.store.SetCategoryClamp(ctx, category, clamp); err != nil {
		return err
	}
	s.InvalidateDetails()
	s.log.Info("category clamp changed", slog.String("category", category), slog.Bool("clamp", clamp))
	return nil
}

// SetItemWhitelist exempts (or stops exempting) an item from its category clamp.
func (s *Service) SetItemWhitelist(ctx context.Context, item string, whitelist bool) error {
	if err := s.store.SetItemWhitelist(ctx, item, whitelist); err != nil {
		return err
	}
	s.InvalidateDetails()
	s.log.Info("item whitelist changed", slog.String("item", item), slog.Bool("whitelist", whitelist))
	return nil
}

// AwardCompletion scores a new completion, records it in the ledger and
// credits the player's ranking total.
func (s *Service) AwardCompletion(ctx context.Context, playerID, displayName, item string) (*Award, error) {
	if _, err := snowflake.Parse(playerID); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidPlayer, playerID, err)
	}

	pts, ok, err := s.ScoreForItem(ctx, item)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItem, item)
	}

	entry, err := s.store.AddLedgerEntry(ctx, playerID, item, pts)
	if err != nil {
		return nil, err
	}
	if err := s.store.ApplyPointDelta(ctx, playerID, displayName, pts); err != nil {
		return nil, err
	}

	name, err := s.store.DisplayName(ctx, playerID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.gen++
	s.details.Remove(item)
	s.mu.Unlock()
	s.log.Info("completion awarded",
		slog.String("player_id", playerID),
		slog.String("item", item),
		slog.Int64("points", pts))
	return &Award{Entry: entry, DisplayName: name}, nil
}

// InvalidateDetails drops cached clamp/whitelist state.
func (s *Service) InvalidateDetails() {
	s.mu.Lock()
	s.gen++
	s.details.Purge()
	s.mu.Unlock()
}
