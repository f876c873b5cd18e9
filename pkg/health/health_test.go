package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func static(h ComponentHealth) Check {
	return func(context.Context) ComponentHealth { return h }
}

func TestRunTakesWorstStatus(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("index", static(Up()))
	report := c.Run(context.Background())
	assert.Equal(t, StatusUp, report.Status)

	c.Register("embedder", static(Degraded("breaker open")))
	report = c.Run(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.True(t, report.Ready())
	assert.Equal(t, "breaker open", report.Components["embedder"].Message)

	c.Register("catalog", static(FromError(errors.New("connection refused"))))
	report = c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.False(t, report.Ready())
	assert.Len(t, report.Components, 3)
}

func TestSlowCheckTimesOut(t *testing.T) {
	c := NewChecker(10 * time.Millisecond)
	c.Register("redis", func(ctx context.Context) ComponentHealth {
		<-ctx.Done()
		return Up()
	})
	report := c.Run(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, "check timed out", report.Components["redis"].Message)
}

func TestReadyHandler(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("embedder", static(Degraded("breaker open")))

	rec := httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var report Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
	assert.Equal(t, StatusDegraded, report.Status)

	c.Register("store", static(Down("closed")))
	rec = httptest.NewRecorder()
	c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	c.LiveHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
