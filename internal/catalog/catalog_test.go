package catalog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittyscape/clogpoints/internal/store"
	"github.com/kittyscape/clogpoints/pkg/metrics"
	"github.com/kittyscape/clogpoints/pkg/wiki"
)

func row(id int64, name, categories, rate string) string {
	return fmt.Sprintf(`<tr data-item-id="%d">
  <td><span><a class="mw-file-description"><img/></a></span><a href="/w/x" title="%s">%s</a></td>
  <td>%s</td>
  <td>%s</td>
</tr>`, id, name, name, categories, rate)
}

func table(rows ...string) string {
	return "<table>" + strings.Join(rows, "\n") + "</table>"
}

var defaultTable = table(
	row(6571, "Uncut onyx", "Fortis Colosseum, Zulrah", "17.9%"),
	row(12922, "Tanzanite fang", "Zulrah", "4.2%"),
	row(10350, "3rd age full helmet", "Elite Treasure Trails", "&lt;0.1%"),
	row(11111, "Broken", "Zulrah", "n/a"),
)

type fakeSource struct {
	mu    sync.Mutex
	doc   string
	err   error
	calls atomic.Int32
	delay time.Duration
}

func (f *fakeSource) FetchTable(ctx context.Context) (string, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc, f.err
}

func (f *fakeSource) set(doc string) {
	f.mu.Lock()
	f.doc = doc
	f.mu.Unlock()
}

type fixture struct {
	store    *store.SQLiteStore
	rates    *MemoryRates
	source   *fakeSource
	pipeline *Pipeline
	service  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	m := metrics.New()
	rates := NewMemoryRates()
	src := &fakeSource{doc: defaultTable}
	svc, err := NewService(s, rates, 16, m, nil)
	require.NoError(t, err)
	p := NewPipeline(src, nil, s, rates, m, nil)
	p.OnRefresh(svc.InvalidateDetails)

	return &fixture{store: s, rates: rates, source: src, pipeline: p, service: svc}
}

func (f *fixture) ingest(t *testing.T) *IngestResult {
	t.Helper()
	res, err := f.pipeline.Run(context.Background())
	require.NoError(t, err)
	return res
}

func TestPipeline_Run(t *testing.T) {
	f := newFixture(t)

	res := f.ingest(t)
	assert.Equal(t, 3, res.Items)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 4, res.NewCategories)

	assert.Equal(t, 3, f.rates.Len())
	rate, ok := f.rates.Rate("3rd age full helmet")
	require.True(t, ok)
	assert.Equal(t, 0.1, rate)

	d, err := f.store.GetItemDetail(context.Background(), "3rd age full helmet")
	require.NoError(t, err)
	assert.Equal(t, "Elite Treasure Trails, Third Age", d.Categories)
}

func TestPipeline_FetchErrorLeavesStoreUntouched(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)

	fetchErr := &wiki.FetchError{URL: "http://wiki", StatusCode: 503}
	f.source.err = fetchErr
	f.source.set(table(row(6571, "Uncut onyx", "Zulrah", "99%")))

	_, err := f.pipeline.Run(context.Background())
	var fe *wiki.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 503, fe.StatusCode)

	rate, _ := f.rates.Rate("Uncut onyx")
	assert.Equal(t, 17.9, rate)
}

func TestPipeline_NoRows(t *testing.T) {
	f := newFixture(t)
	f.source.set("<p>nothing here</p>")

	_, err := f.pipeline.Run(context.Background())
	assert.ErrorIs(t, err, wiki.ErrNoRows)
	assert.Zero(t, f.rates.Len())
}

func TestPipeline_Rerun(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)

	f.source.set(table(
		row(6571, "Uncut onyx", "Fortis Colosseum, Zulrah", "20%"),
		row(12922, "Tanzanite fang", "Zulrah", "4.2%"),
		row(10350, "3rd age full helmet", "Elite Treasure Trails", "&lt;0.1%"),
		row(4151, "Abyssal whip", "Abyssal Sire", "62.5%"),
	))
	res := f.ingest(t)
	assert.Equal(t, 4, res.Items)
	assert.Zero(t, res.Skipped)
	assert.Equal(t, 1, res.NewCategories)

	rate, ok := f.rates.Rate("Uncut onyx")
	require.True(t, ok)
	assert.Equal(t, 20.0, rate)
	assert.Equal(t, 4, f.rates.Len())
}

func TestPipeline_ConcurrentRunsShareOneFetch(t *testing.T) {
	f := newFixture(t)
	f.source.delay = 100 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.pipeline.Run(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, f.source.calls.Load(), int32(4))
}

func TestDedupeByName(t *testing.T) {
	got := dedupeByName([]wiki.Record{
		{ItemID: 3, ItemName: "Pet", CompletionRate: 1},
		{ItemID: 2, ItemName: "Pet", CompletionRate: 5},
		{ItemID: 1, ItemName: "Pet", CompletionRate: 5},
		{ItemID: 9, ItemName: "Other", CompletionRate: 50},
	})
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ItemID)
	assert.Equal(t, int64(9), got[1].ItemID)
}

func TestService_ScoreForItem(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ingest(t)

	pts, ok, err := f.service.ScoreForItem(ctx, "Tanzanite fang")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(349), pts)

	pts, ok, err = f.service.ScoreForItem(ctx, "Twisted bow")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, pts)
}

func TestService_ClampInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ingest(t)

	before, ok, err := f.service.ScoreForItem(ctx, "3rd age full helmet")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(94868), before)

	require.NoError(t, f.service.SetCategoryClamp(ctx, "Third Age", true))
	clamped, _, err := f.service.ScoreForItem(ctx, "3rd age full helmet")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), clamped)

	require.NoError(t, f.service.SetItemWhitelist(ctx, "3rd age full helmet", true))
	whitelisted, _, err := f.service.ScoreForItem(ctx, "3rd age full helmet")
	require.NoError(t, err)
	assert.Equal(t, before, whitelisted)
}

// racingStore runs hook between reading an item detail and returning it.
type racingStore struct {
	*store.SQLiteStore
	hook func()
}

func (r *racingStore) GetItemDetail(ctx context.Context, name string) (*store.ItemDetail, error) {
	d, err := r.SQLiteStore.GetItemDetail(ctx, name)
	if r.hook != nil {
		hook := r.hook
		r.hook = nil
		hook()
	}
	return d, err
}

func TestService_InvalidateDuringLookupIsNotCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ingest(t)

	rs := &racingStore{SQLiteStore: f.store}
	svc, err := NewService(rs, f.rates, 16, nil, nil)
	require.NoError(t, err)

	rs.hook = func() {
		require.NoError(t, f.store.SetCategoryClamp(ctx, "Third Age", true))
		svc.InvalidateDetails()
	}
	stale, _, err := svc.ScoreForItem(ctx, "3rd age full helmet")
	require.NoError(t, err)
	assert.Equal(t, int64(94868), stale)

	fresh, _, err := svc.ScoreForItem(ctx, "3rd age full helmet")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), fresh)
}

func TestService_SetFlagsUnknown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ingest(t)

	assert.ErrorIs(t, f.service.SetCategoryClamp(ctx, "Nope", true), store.ErrNotFound)
	assert.ErrorIs(t, f.service.SetItemWhitelist(ctx, "Nope", true), store.ErrNotFound)
}

func TestService_Suggest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ingest(t)

	assert.Equal(t, []string{"Uncut onyx"}, f.service.SuggestItemNames("ONYX", 0))
	assert.Len(t, f.service.SuggestItemNames("", 2), 2)
	assert.Empty(t, f.service.SuggestItemNames("zzz", 0))

	cats, err := f.service.SuggestCategoryNames(ctx, "zul", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Zulrah"}, cats)
}

func TestService_ItemDetail(t *testing.T) {
	f := newFixture(t)
	f.ingest(t)

	d, err := f.service.ItemDetail(context.Background(), "fang")
	require.NoError(t, err)
	assert.Equal(t, "Tanzanite fang", d.ItemName)
	assert.Equal(t, []string{"Zulrah"}, d.CategoryList())
}

func TestService_AwardCompletion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ingest(t)

	award, err := f.service.AwardCompletion(ctx, "175928847299117063", "Zezima", "Tanzanite fang")
	require.NoError(t, err)
	assert.Equal(t, int64(349), award.Entry.Points)
	assert.Equal(t, "Zezima", award.DisplayName)

	p, err := f.store.GetPlayer(ctx, "175928847299117063")
	require.NoError(t, err)
	assert.Equal(t, int64(349), p.Points)

	d, err := f.service.ItemDetail(ctx, "Tanzanite fang")
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.LedgerCount)
	assert.Equal(t, int64(349), d.HighestPoints)
}

func TestService_AwardCompletionRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ingest(t)

	_, err := f.service.AwardCompletion(ctx, "not-a-snowflake", "", "Tanzanite fang")
	assert.ErrorIs(t, err, ErrInvalidPlayer)

	_, err = f.service.AwardCompletion(ctx, "175928847299117063", "", "Twisted bow")
	assert.ErrorIs(t, err, ErrUnknownItem)
	assert.False(t, errors.Is(err, ErrInvalidPlayer))
}

func TestMemoryRates_Replace(t *testing.T) {
	r := NewMemoryRates()
	src := map[string]float64{"b": 2, "a": 1}
	r.Replace(src)
	src["c"] = 3

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"a", "b"}, r.Names())
}

func TestSuggest(t *testing.T) {
	names := []string{"Dragon pickaxe", "Dragon axe", "Pet snakeling", "Dragon warhammer"}

	got := suggest("axe", names, 25)
	assert.ElementsMatch(t, []string{"Dragon pickaxe", "Dragon axe"}, got)

	assert.Len(t, suggest("dragon", names, 2), 2)
	assert.Equal(t, []string{"Pet snakeling"}, suggest("SNAKE", names, 0))
}
