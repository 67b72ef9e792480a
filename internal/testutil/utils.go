package testutil

import (
	"bytes"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-campuschat/internal/auth"
)

var TestSigningKey = []byte("test-signing-key")

func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}

// SyncBuffer is a bytes.Buffer safe for use as a logger output written
// from several goroutines.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// TestToken signs a short lived session credential for userId with
// TestSigningKey.
func TestToken(t *testing.T, userId string) string {
	t.Helper()
	token, err := auth.NewTokenManager(TestSigningKey).Issue(userId, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}
