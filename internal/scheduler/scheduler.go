package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kittyscape/clogpoints/internal/catalog"
	"github.com/kittyscape/clogpoints/pkg/alert"
	"github.com/kittyscape/clogpoints/pkg/wiki"
)

// RevisionSource reports the newest revision of the table page.
type RevisionSource interface {
	LatestRevision(ctx context.Context) (wiki.Revision, error)
}

// Ingester refreshes the catalog.
type Ingester interface {
	Run(ctx context.Context) (*catalog.IngestResult, error)
}

// Scheduler re-ingests the table whenever the wiki page gets a new revision.
type Scheduler struct {
	revisions RevisionSource
	ingester  Ingester
	alertMgr  *alert.Manager
	interval  time.Duration
	log       *slog.Logger

	last wiki.Revision
}

// New creates a new scheduler.
func New(revisions RevisionSource, ingester Ingester, alertMgr *alert.Manager, interval time.Duration, log *slog.Logger) *Scheduler {
	if interval == 0 {
		interval = time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		revisions: revisions,
		ingester:  ingester,
		alertMgr:  alertMgr,
		interval:  interval,
		log:       log,
	}
}

// Run starts the polling loop. Blocks until ctx is cancelled. The first
// poll only records the current revision; the catalog is assumed fresh.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Check(ctx)
	s.log.Info("revision watcher running", slog.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("revision watcher stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Check polls once and re-ingests when the revision changed. It reports
// whether an ingestion ran.
func (s *Scheduler) Check(ctx context.Context) bool {
	rev, err := s.revisions.LatestRevision(ctx)
	if err != nil {
		s.log.Warn("revision check failed", slog.Any("error", err))
		return false
	}
	if rev.IsZero() || rev.ID == s.last.ID {
		return false
	}

	first := s.last.IsZero()
	s.log.Debug("table revision", slog.String("revision", rev.ID), slog.Time("updated", rev.Updated))
	if first {
		s.last = rev
		return false
	}

	s.log.Info("table changed, re-ingesting", slog.String("revision", rev.ID))
	res, err := s.ingester.Run(ctx)
	if err != nil {
		// Keep the old revision so the next tick retries.
		s.log.Error("scheduled ingestion failed", slog.Any("error", err))
		return true
	}
	s.last = rev
	s.notify(ctx, rev, res)
	return true
}

func (s *Scheduler) notify(ctx context.Context, rev wiki.Revision, res *catalog.IngestResult) {
	if !s.alertMgr.HasNotifiers() {
		return
	}
	body := fmt.Sprintf("Collection log table revision %s ingested: %d items, %d skipped rows, %d new categories.",
		rev.ID, res.Items, res.Skipped, res.NewCategories)
	n := alert.NewNotification("ingest", "scheduler", "Catalog Refreshed", body)
	if err := s.alertMgr.Broadcast(ctx, n); err != nil {
		s.log.Warn("action log delivery failed", slog.Any("error", err))
	}
}
