package testutil

import (
	"context"
	"sync"
)

// StubShortener returns a fixed short URL, or an error when scripted.
type StubShortener struct {
	mu    sync.Mutex
	calls []string

	ShortURL string
	Err      error
}

func NewStubShortener(shortURL string) *StubShortener {
	return &StubShortener{ShortURL: shortURL}
}

func (s *StubShortener) Shorten(_ context.Context, longURL string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	s.calls = append(s.calls, longURL)
	return s.ShortURL, nil
}

// Calls returns the long URLs passed to Shorten.
func (s *StubShortener) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]string, len(s.calls))
	copy(cp, s.calls)
	return cp
}
