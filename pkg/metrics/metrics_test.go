package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Recording(t *testing.T) {
	m := New()

	m.SetCatalogItems(1500)
	m.ObserveIngest(2*time.Second, 3, nil)
	m.ObserveIngest(time.Second, 0, errors.New("boom"))
	m.ObserveScoreLookup(true)
	m.ObserveScoreLookup(false)
	m.ObserveRecalc(0, nil)
	m.ObserveRecalc(4, nil)
	m.ObserveRankingUpdate(nil)

	assert.Equal(t, 1500.0, testutil.ToFloat64(m.catalogItems))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.rowsSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestRuns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestRuns.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scoreLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recalcRuns.WithLabelValues("noop")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.recalcCorrections))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetCatalogItems(1)
		m.ObserveIngest(time.Second, 1, nil)
		m.ObserveScoreLookup(true)
		m.ObserveRecalc(1, nil)
		m.ObserveRankingUpdate(nil)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetCatalogItems(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "clogpoints_catalog_items 7")
}
