package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacobjmc/lightpad/internal/auth"
	"github.com/jacobjmc/lightpad/internal/config"
)

const testJWTSecret = "cmd-server-test-secret"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("DATABASE_DRIVER", config.DriverSQLite)
	t.Setenv("DATABASE_PATH", filepath.Join(t.TempDir(), "lightpad.db"))
	t.Setenv("DATABASE_KEY", strings.Repeat("ab", 32))
	t.Setenv("AUTH_JWT_SECRET", testJWTSecret)
	t.Setenv("VECTOR_DIMENSIONS", "64")
	t.Setenv("RATELIMIT_REDIS_ADDR", "")
	t.Setenv("RATELIMIT_REDIS_PASSWORD", "")
	t.Setenv("AUTH_OIDC_ISSUER", "")

	cfg, err := config.Load(config.Flags{Test: true})
	require.NoError(t, err)
	return cfg
}

func TestBuild_TestModeServesRequests(t *testing.T) {
	cfg := testConfig(t)
	app, err := build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })

	srv := httptest.NewServer(app.Handler)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	tok, err := auth.NewHMACVerifier(testJWTSecret, "", "").Sign(auth.User{ID: "user_1", Email: "a@lightpad.test"}, time.Hour)
	require.NoError(t, err)

	req, err := http.NewRequest("POST", srv.URL+"/api/chat", strings.NewReader(`{"messages":[{"role":"user","content":"hello"}]}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/notes", "application/json", strings.NewReader(`{"title":"x"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBuild_StoreErrorFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabaseKey = "short"
	_, err := build(context.Background(), cfg)
	require.Error(t, err)
}
