package cache

import (
	"context"

	"github.com/lborres/gatehouse/core"
)

// SessionStorage serves GetSessionAndUser from a cache and keeps the cache
// in step with writes. Cache failures never fail the call.
type SessionStorage struct {
	next  core.SessionStorage
	cache core.Cache
}

func WrapSessions(next core.SessionStorage, c core.Cache) *SessionStorage {
	return &SessionStorage{next: next, cache: c}
}

func (s *SessionStorage) CreateSession(ctx context.Context, sess *core.Session) (*core.Session, error) {
	return s.next.CreateSession(ctx, sess)
}

func (s *SessionStorage) GetSessionAndUser(ctx context.Context, sessionToken string) (*core.SessionAndUser, error) {
	if v, err := s.cache.Get(sessionToken); err == nil && v != nil {
		return v, nil
	}

	v, err := s.next.GetSessionAndUser(ctx, sessionToken)
	if err != nil || v == nil {
		return v, err
	}
	_ = s.cache.Set(sessionToken, v)
	return v, nil
}

func (s *SessionStorage) UpdateSession(ctx context.Context, sess *core.Session) (*core.Session, error) {
	_ = s.cache.Delete(sess.SessionToken)
	return s.next.UpdateSession(ctx, sess)
}

func (s *SessionStorage) DeleteSession(ctx context.Context, sessionToken string) error {
	_ = s.cache.Delete(sessionToken)
	return s.next.DeleteSession(ctx, sessionToken)
}

type userDeleter interface {
	DeleteUser(userID string) error
}

// InvalidateUser drops cached lookups for a user whose row changed. Caches
// that cannot delete by user are cleared.
func (s *SessionStorage) InvalidateUser(userID string) {
	if d, ok := s.cache.(userDeleter); ok {
		_ = d.DeleteUser(userID)
		return
	}
	_ = s.cache.Clear()
}
