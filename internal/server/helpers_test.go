package server

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type fakeSocket struct {
	id     string
	closed atomic.Bool
	mu     sync.Mutex
	frames []any
}

var fakeSocketSeq atomic.Int64

func newFakeSocket() *fakeSocket {
	return &fakeSocket{id: fmt.Sprintf("fake-%d", fakeSocketSeq.Add(1))}
}

func (s *fakeSocket) Id() string { return s.id }

func (s *fakeSocket) Closed() bool { return s.closed.Load() }

func (s *fakeSocket) Queue(v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, v)
	return true
}

func (s *fakeSocket) Frames() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]any(nil), s.frames...)
}

func strPtr(s string) *string { return &s }
