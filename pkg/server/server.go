package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kittyscape/clogpoints/internal/catalog"
	"github.com/kittyscape/clogpoints/internal/recalc"
	"github.com/kittyscape/clogpoints/internal/store"
	"github.com/kittyscape/clogpoints/pkg/alert"
	"github.com/kittyscape/clogpoints/pkg/metrics"
)

// Catalog is the scoring surface the API exposes.
type Catalog interface {
	ScoreForItem(ctx context.Context, name string) (int64, bool, error)
	SuggestItemNames(partial string, limit int) []string
	SuggestCategoryNames(ctx context.Context, partial string, limit int) ([]string, error)
	ItemDetail(ctx context.Context, name string) (*store.ItemDetail, error)
	SetCategoryClamp(ctx context.Context, category string, clamp bool) error
	SetItemWhitelist(ctx context.Context, item string, whitelist bool) error
	AwardCompletion(ctx context.Context, playerID, displayName, item string) (*catalog.Award, error)
}

// Ingester refreshes the catalog from the wiki.
type Ingester interface {
	Run(ctx context.Context) (*catalog.IngestResult, error)
}

// Recalculator corrects stale ledger entries.
type Recalculator interface {
	Run(ctx context.Context) (*recalc.Report, error)
}

// Server provides the HTTP API.
type Server struct {
	catalog  Catalog
	ingester Ingester
	recalc   Recalculator
	alertMgr *alert.Manager
	metrics  *metrics.Metrics
	port     int
	log      *slog.Logger
}

// Options carries the server's collaborators.
type Options struct {
	Catalog  Catalog
	Ingester Ingester
	Recalc   Recalculator
	Alerts   *alert.Manager
	Metrics  *metrics.Metrics
	Port     int
	Logger   *slog.Logger
}

// New creates a new HTTP server.
func New(opts Options) *Server {
	if opts.Port == 0 {
		opts.Port = 8080
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		catalog:  opts.Catalog,
		ingester: opts.Ingester,
		recalc:   opts.Recalc,
		alertMgr: opts.Alerts,
		metrics:  opts.Metrics,
		port:     opts.Port,
		log:      opts.Logger,
	}
}

// Handler builds the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/items/score", s.handleScore)
	mux.HandleFunc("/api/v1/items/suggest", s.handleSuggestItems)
	mux.HandleFunc("/api/v1/items/detail", s.handleDetail)
	mux.HandleFunc("/api/v1/items/whitelist", s.handleWhitelist)
	mux.HandleFunc("/api/v1/categories/suggest", s.handleSuggestCategories)
	mux.HandleFunc("/api/v1/categories/clamp", s.handleClamp)
	mux.HandleFunc("/api/v1/ingest", s.handleIngest)
	mux.HandleFunc("/api/v1/recalculate", s.handleRecalculate)
	mux.HandleFunc("/api/v1/completions", s.handleCompletions)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	item := r.URL.Query().Get("item")
	if item == "" {
		writeError(w, http.StatusBadRequest, "item is required")
		return
	}

	pts, ok, err := s.catalog.ScoreForItem(r.Context(), item)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"item": item, "found": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item, "found": true, "points": pts})
}

func (s *Server) handleSuggestItems(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	names := s.catalog.SuggestItemNames(r.URL.Query().Get("q"), queryLimit(r))
	writeJSON(w, http.StatusOK, map[string]any{"data": names, "count": len(names)})
}

func (s *Server) handleSuggestCategories(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	names, err := s.catalog.SuggestCategoryNames(r.Context(), r.URL.Query().Get("q"), queryLimit(r))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": names, "count": len(names)})
}

func (s *Server) handleDetail(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	item := r.URL.Query().Get("item")
	if item == "" {
		writeError(w, http.StatusBadRequest, "item is required")
		return
	}

	d, err := s.catalog.ItemDetail(r.Context(), item)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":           d,
		"category_list":  d.CategoryList(),
		"clamp_eligible": d.ClampEligible(),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	res, err := s.ingester.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	actor := actorOf(r, "")

	report, err := s.recalc.Run(r.Context())
	if report != nil && !report.Empty() {
		s.broadcast(r.Context(), alert.NewNotification("recalculate", actor, "Recalculation Complete!", report.String()))
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "report": report})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"report": report, "readout": report.String()})
}

type clampRequest struct {
	Category string `json:"category"`
	Clamp    bool   `json:"clamp"`
	Actor    string `json:"actor"`
}

func (s *Server) handleClamp(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPut) {
		return
	}
	var req clampRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Category == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}

	if err := s.catalog.SetCategoryClamp(r.Context(), req.Category, req.Clamp); err != nil {
		s.fail(w, err)
		return
	}
	s.broadcast(r.Context(), alert.NewNotification("clamp", actorOf(r, req.Actor), "Category Clamp Changed",
		fmt.Sprintf("**%s** clamp set to **%t**", req.Category, req.Clamp)))
	writeJSON(w, http.StatusOK, req)
}

type whitelistRequest struct {
	Item      string `json:"item"`
	Whitelist bool   `json:"whitelist"`
	Actor     string `json:"actor"`
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPut) {
		return
	}
	var req whitelistRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Item == "" {
		writeError(w, http.StatusBadRequest, "item is required")
		return
	}

	if err := s.catalog.SetItemWhitelist(r.Context(), req.Item, req.Whitelist); err != nil {
		s.fail(w, err)
		return
	}
	s.broadcast(r.Context(), alert.NewNotification("whitelist", actorOf(r, req.Actor), "Item Whitelist Changed",
		fmt.Sprintf("**%s** whitelist set to **%t**", req.Item, req.Whitelist)))
	writeJSON(w, http.StatusOK, req)
}

type completionRequest struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Item        string `json:"item"`
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req completionRequest
	if !decode(w, r, &req) {
		return
	}

	award, err := s.catalog.AwardCompletion(r.Context(), req.PlayerID, req.DisplayName, req.Item)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, award)
}

func (s *Server) broadcast(ctx context.Context, n *alert.Notification) {
	if !s.alertMgr.HasNotifiers() {
		return
	}
	if err := s.alertMgr.Broadcast(ctx, n); err != nil {
		s.log.Warn("action log delivery failed", slog.String("action", n.Action), slog.Any("error", err))
	}
}

// fail maps domain errors to status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, catalog.ErrUnknownItem):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrInvalidPlayer):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("request failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func queryLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}

func actorOf(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if v := r.Header.Get("X-Actor"); v != "" {
		return v
	}
	return "api"
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
