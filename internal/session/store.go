package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go2tv.app/tvlink/internal/domain"
)

var (
	ErrMissingToken = errors.New("session token is empty")
	ErrMissingUser  = errors.New("session user is missing")
)

type SignInParams struct {
	Token           string
	User            *domain.User
	TokenExpiration *time.Time
}

// MemoryStore holds the process-wide authentication state. Persisting the
// token across restarts is the embedding application's concern.
type MemoryStore struct {
	mu    sync.RWMutex
	state domain.AuthState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SignIn replaces the current session. Invalid input leaves the state untouched.
func (s *MemoryStore) SignIn(ctx context.Context, p SignInParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	token := strings.TrimSpace(p.Token)
	if token == "" {
		return ErrMissingToken
	}
	if p.User == nil || strings.TrimSpace(p.User.ID) == "" {
		return ErrMissingUser
	}

	user := *p.User
	var expiration *time.Time
	if p.TokenExpiration != nil {
		exp := *p.TokenExpiration
		expiration = &exp
	}

	s.mu.Lock()
	s.state = domain.AuthState{
		Token:           token,
		User:            &user,
		TokenExpiration: expiration,
		IsLoggedIn:      true,
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = domain.AuthState{}
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current state.
func (s *MemoryStore) Snapshot() domain.AuthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.state
	if out.User != nil {
		user := *out.User
		out.User = &user
	}
	return out
}
