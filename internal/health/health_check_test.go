package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type readiness bool

func (r readiness) Initialised() bool { return bool(r) }

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var status HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	return status
}

func TestLivenessHandler(t *testing.T) {
	h := NewHealthChecker(readiness(false), zap.NewNop())
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "alive", decodeStatus(t, rec).Status)
}

func TestReadinessHandler(t *testing.T) {
	ok := pingFunc(func(ctx context.Context) error { return nil })
	failing := pingFunc(func(ctx context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name       string
		database   readiness
		checks     map[string]Pinger
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "ready",
			database:   true,
			checks:     map[string]Pinger{"backend": ok, "redis": ok},
			wantCode:   http.StatusOK,
			wantStatus: "ready",
			wantChecks: map[string]string{"database": "healthy", "backend": "healthy", "redis": "healthy"},
		},
		{
			name:       "database initialising",
			database:   false,
			checks:     map[string]Pinger{"backend": ok},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			wantChecks: map[string]string{"database": "initialising", "backend": "healthy"},
		},
		{
			name:       "dependency down",
			database:   true,
			checks:     map[string]Pinger{"backend": ok, "redis": failing},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "not_ready",
			wantChecks: map[string]string{"database": "healthy", "backend": "healthy", "redis": "unhealthy: connection refused"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker(tt.database, zap.NewNop())
			for name, p := range tt.checks {
				h.AddCheck(name, p)
			}
			rec := httptest.NewRecorder()
			h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			status := decodeStatus(t, rec)
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.wantChecks, status.Checks)
		})
	}
}
