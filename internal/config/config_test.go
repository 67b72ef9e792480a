package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAddr = "localhost:8000"
	testDSN  = "host=localhost user=postgres dbname=campuschat sslmode=disable"
	testKey  = "c29tZV9zZWNyZXQ=" // "some_secret"
)

func TestNewConfig(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		dsn     string
		key     string
		wantErr string
	}{
		{name: "valid", addr: testAddr, dsn: testDSN, key: testKey},
		{name: "missing address", dsn: testDSN, key: testKey, wantErr: "server address"},
		{name: "missing dsn", addr: testAddr, key: testKey, wantErr: "database DSN"},
		{name: "missing signing key", addr: testAddr, dsn: testDSN, wantErr: "signing secret"},
		{name: "signing key not base64", addr: testAddr, dsn: testDSN, key: "not*base64", wantErr: "decode signing secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origins := []string{"http://localhost:3000"}
			cfg, err := NewConfig(tt.addr, tt.dsn, tt.key, origins)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.addr, cfg.ServerAddr)
			assert.Equal(t, tt.dsn, cfg.DatabaseDSN)
			assert.Equal(t, origins, cfg.AllowedOrigins)
			assert.Equal(t, []byte("some_secret"), cfg.SigningKey)
			assert.Equal(t, DefaultHandshakeTimeout, cfg.HandshakeTimeout)
			assert.Equal(t, DefaultMessageRate, cfg.MessageRate)
			assert.Equal(t, DefaultMessageBurst, cfg.MessageBurst)
		})
	}
}

func TestWithHandshakeTimeout(t *testing.T) {
	cfg, err := NewConfig(testAddr, testDSN, testKey, nil)
	require.NoError(t, err)

	assert.Error(t, cfg.WithHandshakeTimeout(0))
	assert.Error(t, cfg.WithHandshakeTimeout(-time.Second))
	assert.Equal(t, DefaultHandshakeTimeout, cfg.HandshakeTimeout, "rejected values must not be applied")

	require.NoError(t, cfg.WithHandshakeTimeout(3*time.Second))
	assert.Equal(t, 3*time.Second, cfg.HandshakeTimeout)
}

func TestWithMessageLimit(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		burst   int
		wantErr bool
	}{
		{"valid", 2.5, 7, false},
		{"zero rate", 0, 10, true},
		{"negative rate", -1, 10, true},
		{"zero burst", 1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewConfig(testAddr, testDSN, testKey, nil)
			require.NoError(t, err)

			err = cfg.WithMessageLimit(tt.rate, tt.burst)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, DefaultMessageRate, cfg.MessageRate)
				assert.Equal(t, DefaultMessageBurst, cfg.MessageBurst)
				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tt.rate, cfg.MessageRate)
			assert.Equal(t, tt.burst, cfg.MessageBurst)
		})
	}
}
