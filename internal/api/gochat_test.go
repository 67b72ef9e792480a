package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-campuschat/internal/config"
	"github.com/npezzotti/go-campuschat/internal/database"
	"github.com/npezzotti/go-campuschat/internal/server"
	"github.com/npezzotti/go-campuschat/internal/stats"
	"github.com/npezzotti/go-campuschat/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"status_code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
}

func testConfig() *config.Config {
	return &config.Config{
		ServerAddr:       "localhost:8080",
		DatabaseDSN:      "dsn",
		SigningKey:       testutil.TestSigningKey,
		AllowedOrigins:   []string{"http://localhost:3000"},
		HandshakeTimeout: time.Second,
		MessageRate:      10,
		MessageBurst:     10,
	}
}

func newTestApp(t *testing.T) (*GoChatApp, *database.MockGoChatRepository) {
	logger := testutil.TestLogger(t)
	db := &database.MockGoChatRepository{}
	cfg := testConfig()

	cs, err := server.NewChatServer(logger, db, stats.NewAnyMockStatsUpdater(), cfg)
	require.NoError(t, err)

	return NewGoChatApp(http.NewServeMux(), logger, cs, db, cfg), db
}

// doRequest sends a request through the full handler chain, authenticated
// as userId when it is not empty.
func doRequest(t *testing.T, app *GoChatApp, method, path string, body any, userId string) *httptest.ResponseRecorder {
	t.Helper()

	buf := &bytes.Buffer{}
	if body != nil {
		require.NoError(t, json.NewEncoder(buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, buf)
	if userId != "" {
		req.Header.Set("Authorization", "Bearer "+testutil.TestToken(t, userId))
	}

	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder, data any) envelope {
	t.Helper()

	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), "expected a json body, got %q", rr.Body.String())
	if data != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func TestNewGoChatApp(t *testing.T) {
	mux := http.NewServeMux()
	logger := testutil.TestLogger(t)
	cs := &server.ChatServer{}
	db := &database.MockGoChatRepository{}
	cfg := testConfig()

	app := NewGoChatApp(mux, logger, cs, db, cfg)

	assert.NotNil(t, app, "expected app to be initialized")
	assert.NotNil(t, app.mux, "expected mux to be initialized")
	assert.NotNil(t, app.tokens, "expected token manager to be initialized")
	assert.Equal(t, app.log, logger, "expected logger to be set")
	assert.Equal(t, app.db, db, "expected db to be set")
	assert.Equal(t, app.cs, cs, "expected chat server to be set")
	assert.Equal(t, app.allowedOrigins, cfg.AllowedOrigins, "expected allowed origins to be set")
	assert.Equal(t, app.mux.Addr, cfg.ServerAddr, "expected server address to match config")
}
