package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_ServesCounters(t *testing.T) {
	p, err := NewPrometheus("profile-queue-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	counter, err := p.Meter("test").Int64Counter("profile_queue_test_events")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	w := httptest.NewRecorder()
	p.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Regexp(t, `(?m)^profile_queue_test_events_total(\{[^}]*\})? 3$`, w.Body.String())
}

func TestProvider_SeparateRegistries(t *testing.T) {
	first, err := NewPrometheus("first")
	require.NoError(t, err)
	second, err := NewPrometheus("second")
	require.NoError(t, err)

	counter, err := first.Meter("test").Int64Counter("profile_queue_only_first")
	require.NoError(t, err)
	counter.Add(context.Background(), 1)

	w := httptest.NewRecorder()
	second.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.NotContains(t, w.Body.String(), "profile_queue_only_first")
}
