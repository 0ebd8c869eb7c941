package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kittyscape/clogpoints/internal/catalog"
	"github.com/kittyscape/clogpoints/pkg/alert"
	"github.com/kittyscape/clogpoints/pkg/wiki"
)

type fakeRevisions struct {
	mu  sync.Mutex
	rev wiki.Revision
	err error
}

func (f *fakeRevisions) LatestRevision(context.Context) (wiki.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rev, f.err
}

func (f *fakeRevisions) set(id string) {
	f.mu.Lock()
	f.rev = wiki.Revision{ID: id, Updated: time.Now()}
	f.mu.Unlock()
}

type fakeIngester struct {
	mu   sync.Mutex
	runs int
	err  error
}

func (f *fakeIngester) Run(context.Context) (*catalog.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	if f.err != nil {
		return nil, f.err
	}
	return &catalog.IngestResult{Items: 10}, nil
}

type recorder struct {
	mu   sync.Mutex
	sent []*alert.Notification
}

func (r *recorder) Name() string { return "recorder" }
func (r *recorder) Send(_ context.Context, n *alert.Notification) error {
	r.mu.Lock()
	r.sent = append(r.sent, n)
	r.mu.Unlock()
	return nil
}

func TestScheduler_Check(t *testing.T) {
	ctx := context.Background()
	revs := &fakeRevisions{}
	ing := &fakeIngester{}
	rec := &recorder{}
	s := New(revs, ing, alert.NewManager([]alert.Notifier{rec}), time.Minute, nil)

	// Nothing published yet.
	assert.False(t, s.Check(ctx))

	revs.set("100")
	assert.False(t, s.Check(ctx), "first revision is only recorded")
	assert.False(t, s.Check(ctx))
	assert.Zero(t, ing.runs)

	revs.set("101")
	assert.True(t, s.Check(ctx))
	assert.Equal(t, 1, ing.runs)
	assert.False(t, s.Check(ctx))
	assert.Equal(t, 1, ing.runs)

	if assert.Len(t, rec.sent, 1) {
		assert.Equal(t, "ingest", rec.sent[0].Action)
		assert.Contains(t, rec.sent[0].Body, "revision 101")
	}
}

func TestScheduler_RetriesFailedIngestion(t *testing.T) {
	ctx := context.Background()
	revs := &fakeRevisions{}
	ing := &fakeIngester{err: errors.New("wiki down")}
	s := New(revs, ing, nil, time.Minute, nil)

	revs.set("1")
	s.Check(ctx)
	revs.set("2")
	assert.True(t, s.Check(ctx))
	assert.True(t, s.Check(ctx))
	assert.Equal(t, 2, ing.runs)

	ing.err = nil
	assert.True(t, s.Check(ctx))
	assert.False(t, s.Check(ctx))
	assert.Equal(t, 3, ing.runs)
}

func TestScheduler_RevisionError(t *testing.T) {
	revs := &fakeRevisions{err: errors.New("feed unavailable")}
	ing := &fakeIngester{}
	s := New(revs, ing, nil, time.Minute, nil)

	assert.False(t, s.Check(context.Background()))
	assert.Zero(t, ing.runs)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(&fakeRevisions{}, &fakeIngester{}, nil, time.Millisecond, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
