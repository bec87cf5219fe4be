package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage. An empty Driver means "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the exists/get/set surface task bodies rely on.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	// Set stores val under key. A ttl <= 0 keeps the key until overwritten.
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// GetJSON decodes the value under key into out. It reports false when the key
// is missing or expired.
func GetJSON(ctx context.Context, s Store, key string, out any) (bool, error) {
	b, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, err
	}
	return true, nil
}

func SetJSON(ctx context.Context, s Store, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, b, ttl)
}

// record is one value with its expiry (unix milli, 0 = never).
type record struct {
	Val   []byte `json:"v"`
	Until int64  `json:"until,omitempty"`
}

func (r record) expired(nowMS int64) bool { return r.Until != 0 && r.Until <= nowMS }

func untilMS(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).UnixMilli()
}
