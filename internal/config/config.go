package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultMessageRate      = 5.0
	DefaultMessageBurst     = 20
)

type Config struct {
	DatabaseDSN      string
	ServerAddr       string
	SigningKey       []byte
	AllowedOrigins   []string
	HandshakeTimeout time.Duration
	// MessageRate is the sustained number of chat frames per second a
	// single socket may send; MessageBurst is the bucket size.
	MessageRate  float64
	MessageBurst int
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:      databaseDSN,
		ServerAddr:       serverAddr,
		SigningKey:       signingKey,
		AllowedOrigins:   allowedOrigins,
		HandshakeTimeout: DefaultHandshakeTimeout,
		MessageRate:      DefaultMessageRate,
		MessageBurst:     DefaultMessageBurst,
	}, nil
}

// WithHandshakeTimeout overrides the time a new socket has to authenticate.
// Non-positive values are rejected.
func (c *Config) WithHandshakeTimeout(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("handshake timeout must be positive, got %s", d)
	}
	c.HandshakeTimeout = d
	return nil
}

// WithMessageLimit overrides the per-socket inbound rate limit.
func (c *Config) WithMessageLimit(perSecond float64, burst int) error {
	if perSecond <= 0 || burst <= 0 {
		return fmt.Errorf("message rate and burst must be positive")
	}
	c.MessageRate = perSecond
	c.MessageBurst = burst
	return nil
}
