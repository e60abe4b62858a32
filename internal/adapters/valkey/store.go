// Package valkey implements the ephemeral state store behind the core's
// repository ports on a Valkey (Redis-compatible) server. The store is the
// single source of truth for call, position, and marker state; everything
// in-process is a cache over it.
package valkey

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Store wraps a Valkey client with the small command surface the repositories
// need: TTL'd get/set, pattern scan, and sorted-set append/range/trim.
type Store struct {
	client valkey.Client
}

// New connects to Valkey.
func New(addr string) (*Store, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{addr},
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("valkey connect: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client (used by tests).
func NewWithClient(client valkey.Client) *Store {
	return &Store{client: client}
}

// Get retrieves a value by key. A missing key returns (nil, nil).
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := cmd.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, err
	}
	return cmd.AsBytes()
}

// Set stores a value with a TTL.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cmd := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(value)).Ex(ttl).Build(),
	)
	return cmd.Error()
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error()
}

// Expire shortens (or extends) a key's TTL. Missing keys are a no-op.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Do(ctx,
		s.client.B().Expire().Key(key).Seconds(int64(ttl.Seconds())).Build(),
	).Error()
}

// Exists reports whether the key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Do(ctx, s.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Scan enumerates every key matching the pattern with a cursor loop.
func (s *Store) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		cmd := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(200).Build(),
		)
		entry, err := cmd.AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("scan %q: %w", pattern, err)
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}

// ZAdd appends a member to a sorted set with the given score.
func (s *Store) ZAdd(ctx context.Context, key string, score float64, member []byte) error {
	return s.client.Do(ctx,
		s.client.B().Zadd().Key(key).ScoreMember().ScoreMember(score, string(member)).Build(),
	).Error()
}

// ZRangeByScore returns members with score in [min, max], ascending.
func (s *Store) ZRangeByScore(ctx context.Context, key string, min, max float64) ([][]byte, error) {
	cmd := s.client.Do(ctx,
		s.client.B().Zrangebyscore().Key(key).
			Min(formatScore(min)).Max(formatScore(max)).Build(),
	)
	members, err := cmd.AsStrSlice()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(members))
	for i, m := range members {
		out[i] = []byte(m)
	}
	return out, nil
}

// ZRemRangeByScore removes members with score at or below max.
func (s *Store) ZRemRangeByScore(ctx context.Context, key string, max float64) error {
	return s.client.Do(ctx,
		s.client.B().Zremrangebyscore().Key(key).Min("-inf").Max(formatScore(max)).Build(),
	).Error()
}

// Close releases the client.
func (s *Store) Close() {
	s.client.Close()
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
