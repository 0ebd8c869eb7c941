package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kittyscape/clogpoints/internal/store"
	"github.com/kittyscape/clogpoints/pkg/metrics"
	"github.com/kittyscape/clogpoints/pkg/wiki"
)

// TableSource returns the rendered HTML of the collection log table.
type TableSource interface {
	FetchTable(ctx context.Context) (string, error)
}

// IngestResult summarises one ingestion run.
type IngestResult struct {
	Items         int           `json:"items"`
	Skipped       int           `json:"skipped"`
	NewCategories int           `json:"new_categories"`
	Duration      time.Duration `json:"duration"`
}

// Pipeline fetches the table, persists it and refreshes the rate index.
type Pipeline struct {
	source  TableSource
	parser  *wiki.TableParser
	store   store.Store
	rates   RateIndex
	metrics *metrics.Metrics
	log     *slog.Logger

	group     singleflight.Group
	onRefresh []func()
}

// NewPipeline wires an ingestion pipeline. A nil parser uses the default tag rules.
func NewPipeline(src TableSource, parser *wiki.TableParser, s store.Store, rates RateIndex, m *metrics.Metrics, log *slog.Logger) *Pipeline {
	if parser == nil {
		parser = wiki.NewTableParser(wiki.DefaultTagRules...)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		source:  src,
		parser:  parser,
		store:   s,
		rates:   rates,
		metrics: m,
		log:     log,
	}
}

// OnRefresh registers fn to run after every successful ingestion.
func (p *Pipeline) OnRefresh(fn func()) {
	p.onRefresh = append(p.onRefresh, fn)
}

// Run performs one ingestion. Concurrent callers share a single run.
func (p *Pipeline) Run(ctx context.Context) (*IngestResult, error) {
	v, err, _ := p.group.Do("ingest", func() (interface{}, error) {
		return p.run(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*IngestResult), nil
}

func (p *Pipeline) run(ctx context.Context) (*IngestResult, error) {
	start := time.Now()
	res, err := p.ingest(ctx)
	skipped := 0
	if res != nil {
		skipped = res.Skipped
	}
	p.metrics.ObserveIngest(time.Since(start), skipped, err)
	if err != nil {
		p.log.Error("ingestion failed", slog.Any("error", err))
		return nil, err
	}

	res.Duration = time.Since(start)
	for _, fn := range p.onRefresh {
		fn()
	}
	p.log.Info("ingestion complete",
		slog.Int("items", res.Items),
		slog.Int("skipped", res.Skipped),
		slog.Int("new_categories", res.NewCategories),
		slog.Duration("duration", res.Duration))
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context) (*IngestResult, error) {
	doc, err := p.source.FetchTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch table: %w", err)
	}

	parsed, err := p.parser.ParseString(doc)
	if err != nil {
		return nil, fmt.Errorf("parse table: %w", err)
	}
	for _, skip := range parsed.Skipped {
		p.log.Warn("skipping table row",
			slog.Int("row", skip.Row),
			slog.String("item_id", skip.ItemID),
			slog.String("reason", skip.Reason))
	}

	records := dedupeByName(parsed.Records)
	added, err := p.store.IngestRecords(ctx, records)
	if err != nil {
		return &IngestResult{Skipped: len(parsed.Skipped)}, fmt.Errorf("store records: %w", err)
	}

	rates, err := p.store.ListRates(ctx)
	if err != nil {
		return &IngestResult{Skipped: len(parsed.Skipped)}, fmt.Errorf("load rates: %w", err)
	}
	p.rates.Replace(rates)
	p.metrics.SetCatalogItems(len(rates))

	return &IngestResult{
		Items:         len(records),
		Skipped:       len(parsed.Skipped),
		NewCategories: added,
	}, nil
}

// dedupeByName keeps one record per item name: the most completed one, then
// the lowest id. Output is ordered by item id.
func dedupeByName(records []wiki.Record) []wiki.Record {
	best := make(map[string]wiki.Record, len(records))
	for _, rec := range records {
		cur, ok := best[rec.ItemName]
		if !ok || rec.CompletionRate > cur.CompletionRate ||
			(rec.CompletionRate == cur.CompletionRate && rec.ItemID < cur.ItemID) {
			best[rec.ItemName] = rec
		}
	}

	out := make([]wiki.Record, 0, len(best))
	for _, rec := range best {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out
}
