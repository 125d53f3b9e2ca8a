package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bussulac/access-gateway/internal/cache"
	"github.com/bussulac/access-gateway/internal/config"
	"github.com/bussulac/access-gateway/internal/http/handlers/health"
	"github.com/bussulac/access-gateway/internal/metrics"
	"github.com/bussulac/access-gateway/internal/models"
	"github.com/bussulac/access-gateway/internal/services/audit"
	"github.com/bussulac/access-gateway/internal/storage/memory"
)

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func testConfig() *config.Config {
	return &config.Config{
		JWTToken: config.JWTToken{JWTSecretKey: "test-secret", TokenTTL: time.Hour},
		Access: config.Access{
			FreeSessionsLimit: 3,
			DefaultTokenCost:  1,
			CheckTimeout:      time.Second,
			CacheTTL:          time.Minute,
			LedgerMode:        "sessions",
		},
		RateLimit: config.RateLimit{
			SubmissionMax:    2,
			SubmissionWindow: time.Minute,
			EventMax:         5,
			EventWindow:      time.Minute,
			GlobalRPS:        1000,
			GlobalBurst:      1000,
		},
	}
}

type testServer struct {
	*httptest.Server
	store *memory.Storage
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	redisCache := &cache.Cache{Db: client}

	store := memory.New()
	logger := newNoopLogger()
	svc := buildServices(logger, testConfig(), store, redisCache, audit.NewStorageSink(store), clockwork.NewRealClock(), metrics.Noop())
	svc.Checks = map[string]health.Check{"storage": store.CheckDatabaseReady, "cache": redisCache.Ping}

	router := chi.NewRouter()
	RegisterRoutes(router, logger, testConfig(), svc)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: store}
}

func (s *testServer) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var got map[string]any
	if len(bytes.TrimSpace(raw)) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &got))
	}
	return resp.StatusCode, got
}

func (s *testServer) login(t *testing.T, username string) string {
	t.Helper()
	code, _ := s.do(t, http.MethodPost, "/api/v1/register", "",
		`{"email":"`+username+`@example.com","username":"`+username+`","password":"password123"}`)
	require.Equal(t, http.StatusCreated, code)

	code, got := s.do(t, http.MethodPost, "/api/v1/login", "", `{"username":"`+username+`","password":"password123"}`)
	require.Equal(t, http.StatusOK, code)
	return got["data"].(map[string]any)["token"].(string)
}

func TestRoutes_FreeUserJourney(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "alice")

	code, got := srv.do(t, http.MethodGet, "/api/v1/access", token, "")
	require.Equal(t, http.StatusOK, code)
	data := got["data"].(map[string]any)
	assert.Equal(t, "free", data["status"])
	assert.Equal(t, float64(3), data["free_sessions_remaining"])

	code, got = srv.do(t, http.MethodGet, "/api/v1/modules", token, "")
	require.Equal(t, http.StatusOK, code)
	mods := got["data"].(map[string]any)["modules"].([]any)
	assert.Len(t, mods, 5)

	body := `{"resume_text":"Go developer","target_role":"Backend"}`
	code, got = srv.do(t, http.MethodPost, "/api/v1/modules/resume_analysis/submissions", token, body)
	require.Equal(t, http.StatusOK, code)
	verdict := got["data"].(map[string]any)["verdict"].(map[string]any)
	assert.Equal(t, "granted", verdict["reason"])
	assert.Equal(t, float64(2), verdict["remaining"])

	code, got = srv.do(t, http.MethodGet, "/api/v1/access", token, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), got["data"].(map[string]any)["free_sessions_remaining"])

	code, _ = srv.do(t, http.MethodPost, "/api/v1/events", token, `{"event_type":"tab_hidden"}`)
	assert.Equal(t, http.StatusAccepted, code)

	var types []string
	for _, ev := range srv.store.Events() {
		types = append(types, ev.EventType)
	}
	assert.Contains(t, types, models.EventFreeSessionUsed)
	assert.Contains(t, types, models.EventClientReported)
}

func TestRoutes_SubmissionRateLimit(t *testing.T) {
	srv := newTestServer(t)
	token := srv.login(t, "bob")
	body := `{"role":"Analyst","question":"Why?","answer":"Because"}`

	for range 2 {
		code, _ := srv.do(t, http.MethodPost, "/api/v1/modules/interview_simulation/submissions", token, body)
		require.Equal(t, http.StatusOK, code)
	}
	code, _ := srv.do(t, http.MethodPost, "/api/v1/modules/interview_simulation/submissions", token, body)
	assert.Equal(t, http.StatusTooManyRequests, code)
}

func TestRoutes_RequiresToken(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/api/v1/access", "/api/v1/modules"} {
		code, _ := srv.do(t, http.MethodGet, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, code, path)
	}
	code, _ := srv.do(t, http.MethodGet, "/api/v1/access", "not-a-jwt", "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestRoutes_HealthAndMetrics(t *testing.T) {
	srv := newTestServer(t)

	code, got := srv.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", got["data"].(map[string]any)["status"])

	code, _ = srv.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, code)
}
