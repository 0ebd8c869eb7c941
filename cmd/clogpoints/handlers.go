package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kittyscape/clogpoints/internal/catalog"
	"github.com/kittyscape/clogpoints/internal/config"
	"github.com/kittyscape/clogpoints/internal/recalc"
	"github.com/kittyscape/clogpoints/internal/scheduler"
	"github.com/kittyscape/clogpoints/internal/store"
	"github.com/kittyscape/clogpoints/pkg/alert"
	"github.com/kittyscape/clogpoints/pkg/metrics"
	"github.com/kittyscape/clogpoints/pkg/server"
	"github.com/kittyscape/clogpoints/pkg/wiki"
)

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	db       *store.SQLiteStore
	metrics  *metrics.Metrics
	rates    *catalog.MemoryRates
	client   *wiki.Client
	service  *catalog.Service
	pipeline *catalog.Pipeline
	alerts   *alert.Manager
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := newLogger(cfg.LogLevel)

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	m := metrics.New()
	rates := catalog.NewMemoryRates()
	svc, err := catalog.NewService(db, rates, cfg.Catalog.DetailCacheSize, m, log.With(slog.String("component", "catalog")))
	if err != nil {
		db.Close()
		return nil, err
	}

	client := wiki.NewClient(cfg.Wiki.APIURL, cfg.Wiki.Page, cfg.Wiki.UserAgent, cfg.Wiki.ParseTimeout())
	pipeline := catalog.NewPipeline(client, wiki.NewTableParser(cfg.Wiki.TagRules()...), db, rates, m,
		log.With(slog.String("component", "ingest")))
	pipeline.OnRefresh(svc.InvalidateDetails)

	return &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		metrics:  m,
		rates:    rates,
		client:   client,
		service:  svc,
		pipeline: pipeline,
		alerts:   buildAlertManager(cfg),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// loadRates fills the rate index from the store without touching the wiki.
func (a *app) loadRates(ctx context.Context) error {
	rates, err := a.db.ListRates(ctx)
	if err != nil {
		return err
	}
	a.rates.Replace(rates)
	a.metrics.SetCatalogItems(len(rates))
	if len(rates) == 0 {
		a.log.Warn("catalog is empty, run `clogpoints ingest` first")
	}
	return nil
}

func (a *app) recalcEngine() *recalc.Engine {
	return recalc.New(a.db, a.db, a.db,
		recalc.WithPacing(a.cfg.Recalc.ParsePacing()),
		recalc.WithMetrics(a.metrics),
		recalc.WithLogger(a.log.With(slog.String("component", "recalc"))))
}

func (a *app) broadcast(ctx context.Context, n *alert.Notification) {
	if !a.alerts.HasNotifiers() {
		return
	}
	if err := a.alerts.Broadcast(ctx, n); err != nil {
		a.log.Warn("action log delivery failed", slog.String("action", n.Action), slog.Any("error", err))
	}
}

func buildAlertManager(cfg *config.Config) *alert.Manager {
	var notifiers []alert.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(cfg.Alerts.Slack.WebhookURL))
	}
	if cfg.Alerts.Discord.Enabled && cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(cfg.Alerts.Discord.WebhookURL))
	}
	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(cfg.Alerts.Webhook.URL, cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func runIngest(ctx context.Context, jsonOutput bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	if jsonOutput {
		return printJSON(res)
	}
	fmt.Printf("ingested %d items (%d rows skipped, %d new categories) in %s\n",
		res.Items, res.Skipped, res.NewCategories, res.Duration.Round(time.Millisecond))
	return nil
}

func runScore(ctx context.Context, item string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.loadRates(ctx); err != nil {
		return err
	}
	pts, ok, err := a.service.ScoreForItem(ctx, item)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Printf("%s: no rarity data\n", item)
		return nil
	}
	fmt.Printf("%s: %d points\n", item, pts)
	return nil
}

func runSuggest(ctx context.Context, kind, partial string, limit int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if limit <= 0 {
		limit = a.cfg.Catalog.SuggestLimit
	}

	var names []string
	switch kind {
	case "items", "item":
		if err := a.loadRates(ctx); err != nil {
			return err
		}
		names = a.service.SuggestItemNames(partial, limit)
	case "categories", "category":
		names, err = a.service.SuggestCategoryNames(ctx, partial, limit)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown suggestion kind %q (want items or categories)", kind)
	}

	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func runDetail(ctx context.Context, item string, jsonOutput bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := a.service.ItemDetail(ctx, item)
	if err != nil {
		return fmt.Errorf("item %q: %w", item, err)
	}
	if jsonOutput {
		return printJSON(d)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\t%d\n", d.ItemID)
	fmt.Fprintf(w, "NAME\t%s\n", d.ItemName)
	fmt.Fprintf(w, "DISPLAY\t%s\n", d.PreferredName)
	fmt.Fprintf(w, "RATE\t%.2f%%\n", d.CompletionRate)
	fmt.Fprintf(w, "CATEGORIES\t%s\n", strings.Join(d.CategoryList(), ", "))
	fmt.Fprintf(w, "CLAMPED\t%t (whitelisted: %t)\n", d.Clamp, d.Whitelist)
	fmt.Fprintf(w, "COMPLETIONS\t%d (highest award: %d)\n", d.LedgerCount, d.HighestPoints)
	return w.Flush()
}

func runRecalc(ctx context.Context, actor string, jsonOutput bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.recalcEngine().Run(ctx)
	if report != nil && !report.Empty() {
		a.broadcast(ctx, alert.NewNotification("recalculate", actor, "Recalculation Complete!", report.String()))
	}
	if err != nil {
		if report != nil {
			fmt.Println(report.String())
		}
		return fmt.Errorf("recalculate: %w", err)
	}

	if jsonOutput {
		return printJSON(report)
	}
	fmt.Println(strings.TrimSpace(report.String()))
	return nil
}

func runClamp(ctx context.Context, category string, clamp bool, actor string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.service.SetCategoryClamp(ctx, category, clamp); err != nil {
		return fmt.Errorf("category %q: %w", category, err)
	}
	a.broadcast(ctx, alert.NewNotification("clamp", actor, "Category Clamp Changed",
		fmt.Sprintf("**%s** clamp set to **%t**", category, clamp)))
	fmt.Printf("%s: clamp=%t\n", category, clamp)
	return nil
}

func runWhitelist(ctx context.Context, item string, whitelist bool, actor string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.service.SetItemWhitelist(ctx, item, whitelist); err != nil {
		return fmt.Errorf("item %q: %w", item, err)
	}
	a.broadcast(ctx, alert.NewNotification("whitelist", actor, "Item Whitelist Changed",
		fmt.Sprintf("**%s** whitelist set to **%t**", item, whitelist)))
	fmt.Printf("%s: whitelist=%t\n", item, whitelist)
	return nil
}

func runAward(ctx context.Context, playerID, item, name string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.loadRates(ctx); err != nil {
		return err
	}
	award, err := a.service.AwardCompletion(ctx, playerID, name, item)
	if err != nil {
		return err
	}
	fmt.Printf("%s earned %d points for %s\n", award.DisplayName, award.Entry.Points, award.Entry.ItemName)
	return nil
}

func (a *app) server(port int) *server.Server {
	if port == 0 {
		port = a.cfg.Server.Port
	}
	return server.New(server.Options{
		Catalog:  a.service,
		Ingester: a.pipeline,
		Recalc:   a.recalcEngine(),
		Alerts:   a.alerts,
		Metrics:  a.metrics,
		Port:     port,
		Logger:   a.log.With(slog.String("component", "http")),
	})
}

func runServe(port int, skipIngest bool) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if skipIngest {
		if err := a.loadRates(ctx); err != nil {
			return err
		}
	} else if _, err := a.pipeline.Run(ctx); err != nil {
		return fmt.Errorf("startup ingest: %w", err)
	}

	return a.server(port).ListenAndServe(ctx)
}

func runDaemon(port int) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The catalog must be populated before anything is served.
	if _, err := a.pipeline.Run(ctx); err != nil {
		return fmt.Errorf("startup ingest: %w", err)
	}

	sched := scheduler.New(a.client, a.pipeline, a.alerts, a.cfg.Schedule.ParseRevisionInterval(),
		a.log.With(slog.String("component", "scheduler")))
	srv := a.server(port)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	err = g.Wait()
	a.log.Info("shutting down")
	return err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
