package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	docKeyPrefix = "doc:"
	colKeyPrefix = "col:"
)

// Redis keeps each document as a JSON string keyed by path, plus one
// set per collection tracking member paths. Queries pull the whole
// collection and evaluate filters client-side, so it suits the small
// and medium lists this service manages.
type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing client; used by tests.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func docKey(path string) string { return docKeyPrefix + path }
func colKey(path string) string { return colKeyPrefix + path }

func (s *Redis) Get(ctx context.Context, path string) (Doc, error) {
	raw, err := s.client.Get(ctx, docKey(path)).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	var doc Doc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

func (s *Redis) Create(ctx context.Context, path string, doc Doc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	created, err := s.client.SetNX(ctx, docKey(path), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if !created {
		return fmt.Errorf("create %s: %w", path, ErrExists)
	}
	if err := s.client.SAdd(ctx, colKey(Parent(path)), path).Err(); err != nil {
		return fmt.Errorf("index %s: %w", path, err)
	}
	return nil
}

func (s *Redis) Set(ctx context.Context, path string, doc Doc) error {
	// Read-merge-write; last writer wins, same as the service layer's
	// own check-then-act sequences.
	existing, err := s.Get(ctx, path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	merged := doc
	if existing != nil {
		merged = merge(existing, doc)
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, docKey(path), raw, 0)
	pipe.SAdd(ctx, colKey(Parent(path)), path)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (s *Redis) Delete(ctx context.Context, path string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, docKey(path))
	pipe.SRem(ctx, colKey(Parent(path)), path)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (s *Redis) DeleteCollection(ctx context.Context, path string) error {
	for _, pattern := range []string{docKeyPrefix + path + "/*", colKeyPrefix + path, colKeyPrefix + path + "/*"} {
		iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("delete collection %s: %w", path, err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan collection %s: %w", path, err)
		}
	}
	return nil
}

func (s *Redis) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	paths, err := s.client.SMembers(ctx, colKey(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	sort.Strings(paths)

	docs := make([]Document, 0, len(paths))
	for _, path := range paths {
		doc, err := s.Get(ctx, path)
		if errors.Is(err, ErrNotFound) {
			// Collection member deleted out from under us; drop it.
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: LastSegment(path), Data: doc})
	}
	return applyQuery(docs, q), nil
}

func (s *Redis) Batch() Batch {
	return &redisBatch{store: s}
}

type redisBatch struct {
	store  *Redis
	paths  []string
	writes []Doc
}

func (b *redisBatch) Set(path string, doc Doc) {
	b.paths = append(b.paths, path)
	b.writes = append(b.writes, doc)
}

func (b *redisBatch) Commit(ctx context.Context) error {
	if len(b.paths) > MaxBatchSize {
		return fmt.Errorf("batch of %d exceeds max of %d operations", len(b.paths), MaxBatchSize)
	}
	pipe := b.store.client.TxPipeline()
	for i, path := range b.paths {
		raw, err := json.Marshal(b.writes[i])
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		pipe.Set(ctx, docKey(path), raw, 0)
		pipe.SAdd(ctx, colKey(Parent(path)), path)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *Redis) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Redis) Close() error {
	return s.client.Close()
}
