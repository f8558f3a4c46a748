package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmehra2102/prod-golang-projects/clinicflow/internal/domain"
	"github.com/dmehra2102/prod-golang-projects/clinicflow/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubValidator struct {
	claims *domain.Claims
	err    error
}

func (s stubValidator) ValidateAccessToken(string) (*domain.Claims, error) {
	return s.claims, s.err
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	userID := uuid.New()
	valid := stubValidator{claims: &domain.Claims{UserID: userID, Role: domain.RolePatient}}

	newRouter := func(v TokenValidator) *gin.Engine {
		r := gin.New()
		r.GET("/me", Auth(v), func(c *gin.Context) {
			actor, ok := ActorFrom(c)
			require.True(t, ok)
			c.String(http.StatusOK, actor.UserID.String()+" "+string(actor.Role))
		})
		return r
	}

	tests := []struct {
		name      string
		header    string
		validator TokenValidator
		status    int
	}{
		{"missing header", "", valid, http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", valid, http.StatusUnauthorized},
		{"empty token", "Bearer ", valid, http.StatusUnauthorized},
		{"rejected token", "Bearer abc", stubValidator{err: errors.New("token is invalid")}, http.StatusUnauthorized},
		{"valid", "Bearer abc", valid, http.StatusOK},
		{"scheme is case insensitive", "bearer abc", valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(newRouter(tt.validator), req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, userID.String()+" patient", w.Body.String())
			}
		})
	}
}

func TestRequireRoles(t *testing.T) {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(actorKey, domain.NewActor(uuid.New(), domain.Role(c.GetHeader("X-Role"))))
	})
	r.GET("/admin", RequireRoles(domain.RoleAdmin, domain.RoleStaff), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	for role, want := range map[string]int{"admin": 204, "staff": 204, "patient": 403} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("X-Role", role)
		assert.Equal(t, want, serve(r, req).Code, role)
	}
}

func TestCronSecret(t *testing.T) {
	hits := 0
	newRouter := func(secret string) *gin.Engine {
		r := gin.New()
		r.GET("/cron", CronSecret(secret), func(c *gin.Context) {
			hits++
			c.Status(http.StatusOK)
		})
		return r
	}

	r := newRouter("s3cret")
	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodGet, "/cron", nil)).Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, httptest.NewRequest(http.MethodGet, "/cron?secret=s3cre", nil)).Code)
	assert.Equal(t, 0, hits)
	assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/cron?secret=s3cret", nil)).Code)
	assert.Equal(t, 1, hits)

	unset := newRouter("")
	assert.Equal(t, http.StatusUnauthorized, serve(unset, httptest.NewRequest(http.MethodGet, "/cron?secret=", nil)).Code)
	assert.Equal(t, 1, hits)
}

func TestRateLimit(t *testing.T) {
	limited := 0
	r := gin.New()
	r.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 2}, func() { limited++ }))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	fromIP := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		return serve(r, req).Code
	}

	assert.Equal(t, http.StatusOK, fromIP("10.0.0.1"))
	assert.Equal(t, http.StatusOK, fromIP("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, fromIP("10.0.0.1"))
	assert.Equal(t, http.StatusOK, fromIP("10.0.0.2"))
	assert.Equal(t, 1, limited)
}

func TestLimiterStore_EvictsIdleVisitors(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	s.now = func() time.Time { return now }

	s.get("a")
	now = now.Add(2 * time.Minute)
	s.get("b")

	assert.NotContains(t, s.visitors, "a")
	assert.Contains(t, s.visitors, "b")
}

func TestRequestIDAndLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := gin.New()
	r.Use(RequestID(), Logger(zap.New(core)))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := serve(r, req)

	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-123", fields["request_id"])
	assert.Equal(t, "/ping", fields["path"])

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ping", nil))
	_, err := uuid.Parse(w.Header().Get(RequestIDHeader))
	assert.NoError(t, err)
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMetrics(t *testing.T) {
	m := metrics.NewCollectorWith(prometheus.NewRegistry(), "clinicflow_test")
	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/ok", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlightGauge))
}

func TestMetrics_InFlightSurvivesPanics(t *testing.T) {
	m := metrics.NewCollectorWith(prometheus.NewRegistry(), "clinicflow_test")
	r := gin.New()
	r.Use(Recovery(zap.NewNop()), Metrics(m))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	for i := 0; i < 3; i++ {
		w := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
		require.Equal(t, http.StatusInternalServerError, w.Code)
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlightGauge))
}
