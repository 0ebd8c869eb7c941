// Package recalc corrects previously awarded points for items whose rarity,
// clamp or whitelist state may have changed since the award.
package recalc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kittyscape/clogpoints/internal/store"
	"github.com/kittyscape/clogpoints/pkg/metrics"
	"github.com/kittyscape/clogpoints/pkg/points"
)

// DefaultPacing is the delay between successive ranking ledger calls.
const DefaultPacing = time.Second

// Ledger is the slice of the store the engine reads and corrects.
type Ledger interface {
	ListRecalcCandidates(ctx context.Context, highestAbove int64, rateBelow float64) ([]store.ItemDetail, error)
	ListLedgerEntries(ctx context.Context, itemNames []string) ([]store.LedgerEntry, error)
	ApplyCorrections(ctx context.Context, corrections []store.Correction) error
}

// Ranking receives the aggregate point change of each affected player.
type Ranking interface {
	ApplyPointDelta(ctx context.Context, playerID, displayName string, delta int64) error
}

// Roster resolves player ids to display names.
type Roster interface {
	DisplayName(ctx context.Context, playerID string) (string, error)
}

// ShouldApply reports whether a correction of delta may be written. Clamped
// items may only move down and unclamped items may only move up.
func ShouldApply(delta int64, clampEligible bool) bool {
	return (delta < 0 && clampEligible) || (delta > 0 && !clampEligible)
}

// Engine runs recalculations.
type Engine struct {
	ledger  Ledger
	ranking Ranking
	roster  Roster
	pacing  time.Duration
	metrics *metrics.Metrics
	log     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPacing sets the delay between ranking ledger calls. Zero disables it.
func WithPacing(d time.Duration) Option {
	return func(e *Engine) { e.pacing = d }
}

// WithMetrics records run results on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an engine.
func New(ledger Ledger, ranking Ranking, roster Roster, opts ...Option) *Engine {
	e := &Engine{
		ledger:  ledger,
		ranking: ranking,
		roster:  roster,
		pacing:  DefaultPacing,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type candidate struct {
	change        *ItemChange
	clampEligible bool
}

// Run recomputes candidate items, persists the allowed corrections in one
// batch and then pushes per-player deltas to the ranking ledger. Ranking
// failures do not stop the remaining players; they are returned joined
// together with the full report. Once corrections are committed every
// ranking delta is pushed, even if ctx is cancelled.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.New()}
	err := e.run(ctx, report)
	e.metrics.ObserveRecalc(report.Corrected, err)
	if err != nil {
		e.log.Error("recalculation failed", slog.String("run_id", report.RunID.String()), slog.Any("error", err))
	} else {
		e.log.Info("recalculation complete",
			slog.String("run_id", report.RunID.String()),
			slog.Int("candidates", report.Candidates),
			slog.Int("corrected", report.Corrected),
			slog.Int("players", len(report.Players)))
	}
	return report, err
}

func (e *Engine) run(ctx context.Context, report *Report) error {
	items, err := e.ledger.ListRecalcCandidates(ctx, points.MaxClampedPoints, points.RecalcRateThreshold)
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}
	report.Candidates = len(items)
	if len(items) == 0 {
		return nil
	}

	byName := make(map[string]*candidate, len(items))
	names := make([]string, 0, len(items))
	for _, it := range items {
		if !points.ValidRate(it.CompletionRate) {
			e.log.Warn("skipping candidate with unusable rate",
				slog.String("item", it.ItemName),
				slog.Float64("rate", it.CompletionRate))
			continue
		}
		if _, dup := byName[it.ItemName]; dup {
			continue
		}
		eligible := it.ClampEligible()
		byName[it.ItemName] = &candidate{
			clampEligible: eligible,
			change: &ItemChange{
				ItemID:    it.ItemID,
				ItemName:  it.ItemName,
				OldPoints: it.HighestPoints,
				NewPoints: points.Score(it.CompletionRate, eligible),
			},
		}
		names = append(names, it.ItemName)
	}

	entries, err := e.ledger.ListLedgerEntries(ctx, names)
	if err != nil {
		return fmt.Errorf("list ledger entries: %w", err)
	}

	var corrections []store.Correction
	deltas := make(map[string]int64)
	for _, entry := range entries {
		c, ok := byName[entry.ItemName]
		if !ok {
			continue
		}
		delta := c.change.NewPoints - entry.Points
		if !ShouldApply(delta, c.clampEligible) {
			continue
		}
		e.log.Debug("correcting ledger entry",
			slog.Int64("entry_id", entry.ID),
			slog.String("player_id", entry.PlayerID),
			slog.String("item", entry.ItemName),
			slog.Int64("delta", delta))
		corrections = append(corrections, store.Correction{EntryID: entry.ID, Points: c.change.NewPoints})
		deltas[entry.PlayerID] += delta
		c.change.Affected++
	}

	if len(corrections) == 0 {
		return nil
	}
	if err := e.ledger.ApplyCorrections(ctx, corrections); err != nil {
		return fmt.Errorf("apply corrections: %w", err)
	}
	report.Corrected = len(corrections)

	for _, name := range names {
		if c := byName[name]; c.change.Affected > 0 {
			report.Items = append(report.Items, *c.change)
		}
	}

	// The ledger already reflects the corrections, so the ranking phase must
	// finish even if the caller goes away. A skipped delta is never recomputed.
	return e.updateRanking(context.WithoutCancel(ctx), report, deltas)
}

func (e *Engine) updateRanking(ctx context.Context, report *Report, deltas map[string]int64) error {
	players := make([]string, 0, len(deltas))
	for id, delta := range deltas {
		if delta != 0 {
			players = append(players, id)
		}
	}
	sort.Strings(players)

	var errs []error
	for i, id := range players {
		if i > 0 {
			if err := e.wait(ctx); err != nil {
				return errors.Join(append(errs, err)...)
			}
		}

		name, err := e.roster.DisplayName(ctx, id)
		if err != nil {
			e.log.Warn("display name lookup failed", slog.String("player_id", id), slog.Any("error", err))
			name = id
		}

		change := PlayerChange{PlayerID: id, DisplayName: name, Delta: deltas[id]}
		err = e.ranking.ApplyPointDelta(ctx, id, name, change.Delta)
		e.metrics.ObserveRankingUpdate(err)
		if err != nil {
			change.Failed = true
			errs = append(errs, fmt.Errorf("update ranking %s: %w", id, err))
		}
		report.Players = append(report.Players, change)
	}
	return errors.Join(errs...)
}

func (e *Engine) wait(ctx context.Context) error {
	if e.pacing <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(e.pacing)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
