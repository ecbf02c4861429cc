// Package seenset tracks which opportunity keys have already been
// delivered, so a record is never notified twice across restarts.
package seenset

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Set is the durable delivered-keys set. MarkSent commits a whole
// batch atomically: after a crash either all keys of the batch are
// recorded or none are.
type Set interface {
	IsSent(ctx context.Context, key string) (bool, error)
	MarkSent(ctx context.Context, keys []string) error
}

// FileSet stores keys as a JSON array in a single file, rewritten via
// temp file + rename so a crash mid-write never corrupts the set.
type FileSet struct {
	path string

	mu   sync.Mutex
	keys map[string]bool
}

// NewFileSet loads the set from path, treating a missing file as an
// empty set.
func NewFileSet(path string) (*FileSet, error) {
	s := &FileSet{path: path, keys: make(map[string]bool)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read seen set: %w", err)
	}

	var keys []string
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("decode seen set %s: %w", path, err)
	}
	for _, k := range keys {
		s.keys[k] = true
	}
	return s, nil
}

func (s *FileSet) IsSent(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[key], nil
}

func (s *FileSet) MarkSent(_ context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		s.keys[k] = true
	}
	if err := s.persist(); err != nil {
		// Roll the in-memory adds back so memory and disk agree.
		for _, k := range keys {
			delete(s.keys, k)
		}
		return err
	}
	return nil
}

// persist writes the full set to a temp file in the same directory and
// renames it over the target. Caller holds the lock.
func (s *FileSet) persist() error {
	all := make([]string, 0, len(s.keys))
	for k := range s.keys {
		all = append(all, k)
	}
	sort.Strings(all)

	raw, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("encode seen set: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create seen set dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".seenset-*")
	if err != nil {
		return fmt.Errorf("create temp seen set: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write seen set: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close seen set: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit seen set: %w", err)
	}
	return nil
}

// Len reports the number of recorded keys.
func (s *FileSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// RedisSet keeps the delivered keys in a redis set, for deployments
// where the set grows past what a rewritten JSON file should hold.
type RedisSet struct {
	client *redis.Client
	key    string
}

// NewRedisSet connects to the redis URL and pings it so a bad URL
// fails at startup, not first delivery.
func NewRedisSet(ctx context.Context, redisURL string) (*RedisSet, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisSet{client: client, key: "prospect:sent_keys"}, nil
}

func (s *RedisSet) IsSent(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, s.key, key).Result()
	if err != nil {
		return false, fmt.Errorf("seen set lookup: %w", err)
	}
	return ok, nil
}

func (s *RedisSet) MarkSent(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	members := make([]interface{}, len(keys))
	for i, k := range keys {
		members[i] = k
	}
	if err := s.client.SAdd(ctx, s.key, members...).Err(); err != nil {
		return fmt.Errorf("seen set commit: %w", err)
	}
	return nil
}

// Close releases the redis connection.
func (s *RedisSet) Close() error {
	return s.client.Close()
}
