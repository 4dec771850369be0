package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/mentionscan/internal/domain"
	"github.com/sawpanic/mentionscan/internal/persistence"
)

func TestRegistry_Counters(t *testing.T) {
	m := NewRegistry()

	m.RecordRowsScanned(domain.UnitComment, 100)
	m.RecordRowsScanned(domain.UnitComment, 40)
	m.RecordRowsScanned(domain.UnitPost, 3)
	m.RecordMatch(domain.KindDollar)
	m.RecordMatch(domain.KindPropagatedPost)
	m.RecordMatch(domain.KindPropagatedPost)
	m.RecordScoringFailure(domain.UnitComment)
	m.SetReferenceSymbols(11000)

	assert.Equal(t, 140.0, testutil.ToFloat64(m.RowsScanned.WithLabelValues("comment")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsScanned.WithLabelValues("post")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Matches.WithLabelValues("propagated_post")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScoringFailures.WithLabelValues("comment")))
	assert.Equal(t, 11000.0, testutil.ToFloat64(m.ReferenceSymbols))
}

func TestRegistry_CacheHitRatio(t *testing.T) {
	m := NewRegistry()

	m.RecordCacheMiss("reference")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.CacheHitRatio))

	m.RecordCacheHit("reference")
	m.RecordCacheHit("reference")
	m.RecordCacheHit("other")
	assert.InDelta(t, 0.75, testutil.ToFloat64(m.CacheHitRatio), 1e-9)
}

func TestRegistry_Isolated(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.RecordMatch(domain.KindDollar)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Matches.WithLabelValues("dollar")))
}

func TestStepTimer(t *testing.T) {
	m := NewRegistry()

	d := m.StartStepTimer("posts").Stop(ResultSuccess)
	assert.GreaterOrEqual(t, d, time.Duration(0))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StepDuration))
}

type mockHealth struct {
	mock.Mock
}

func (m *mockHealth) Health(ctx context.Context) persistence.HealthCheck {
	args := m.Called(ctx)
	return args.Get(0).(persistence.HealthCheck)
}

func (m *mockHealth) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockHealth) Stats(ctx context.Context) map[string]interface{} {
	return m.Called(ctx).Get(0).(map[string]interface{})
}

func TestServer_Metrics(t *testing.T) {
	m := NewRegistry()
	m.RecordMatch(domain.KindAllCaps)
	srv := NewServer(":0", m, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `mentionscan_matches_total{kind="allcaps"} 1`), body)
}

func TestServer_Healthz(t *testing.T) {
	t.Run("no_database", func(t *testing.T) {
		srv := NewServer(":0", NewRegistry(), nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unhealthy_database", func(t *testing.T) {
		health := &mockHealth{}
		health.On("Health", mock.Anything).Return(persistence.HealthCheck{
			Healthy: false,
			Errors:  []string{"ping failed: connection refused"},
		})

		srv := NewServer(":0", NewRegistry(), health)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var check persistence.HealthCheck
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &check))
		assert.False(t, check.Healthy)
		assert.Contains(t, check.Errors[0], "connection refused")
		health.AssertExpectations(t)
	})

	t.Run("method_not_allowed", func(t *testing.T) {
		srv := NewServer(":0", NewRegistry(), nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))

		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestServer_StartShutdown(t *testing.T) {
	srv := NewServer("127.0.0.1:0", NewRegistry(), nil)

	errCh, err := srv.Start()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_, open := <-errCh
	assert.False(t, open)
}
