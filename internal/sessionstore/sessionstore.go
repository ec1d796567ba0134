// Package sessionstore keeps issued login sessions so access tokens can be
// revoked on sign-out before they expire.
package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"uolems/internal/model"
)

var ErrNotFound = errors.New("session not found")

type Session struct {
	ID          string            `json:"id"`
	UID         string            `json:"uid"`
	Email       string            `json:"email"`
	Role        model.Role        `json:"role"`
	Route       string            `json:"route"`
	Preferences model.Preferences `json:"preferences"`
	IssuedAt    time.Time         `json:"issued_at"`
}

type Store interface {
	Save(ctx context.Context, s Session, ttl time.Duration) error
	Get(ctx context.Context, id string) (Session, error)
	Delete(ctx context.Context, id string) error
}

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, sess Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey(sess.ID), data, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	value, err := s.client.Get(ctx, sessionKey(id)).Result()
	if err == redis.Nil {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	var sess Session
	if err := json.Unmarshal([]byte(value), &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, sessionKey(id)).Err()
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

// MemoryStore is used when no Redis address is configured. Entries share a
// single TTL fixed at construction.
type MemoryStore struct {
	cache *expirable.LRU[string, Session]
}

func NewMemoryStore(size int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{cache: expirable.NewLRU[string, Session](size, nil, ttl)}
}

func (s *MemoryStore) Save(_ context.Context, sess Session, _ time.Duration) error {
	s.cache.Add(sess.ID, sess)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	sess, ok := s.cache.Get(id)
	if !ok {
		return Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.cache.Remove(id)
	return nil
}
