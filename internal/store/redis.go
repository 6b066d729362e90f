package store

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

const defaultCacheSize = 4096

// RedisOptions configures a Redis-backed library.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Prefix    string
	CacheSize int
}

// Redis keeps one Redis list per (kind, owner). RPUSH is atomic and returns
// the new list length, which is exactly the index assigned to the last pushed
// value, so index assignment stays per-owner atomic across processes.
type Redis struct {
	client *redis.Client
	prefix string
	kind   Kind
	cache  *lru.Cache[string, string]
}

// NewRedisSet opens one client and returns a Set whose libraries share it.
func NewRedisSet(opts RedisOptions) (*Set, *redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	set := &Set{}
	for _, kind := range Kinds {
		lib, err := NewRedis(client, kind, opts)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		switch kind {
		case KindPrompt:
			set.Prompts = lib
		case KindImage:
			set.Images = lib
		case KindVideo:
			set.Videos = lib
		}
	}
	return set, client, nil
}

// NewRedis returns the library for one kind on an existing client.
func NewRedis(client *redis.Client, kind Kind, opts RedisOptions) (*Redis, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	// Stored indices never change, so cached entries never go stale.
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create entry cache: %w", err)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "mediabot"
	}
	return &Redis{client: client, prefix: prefix, kind: kind, cache: cache}, nil
}

func (r *Redis) key(owner string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, r.kind, owner)
}

func (r *Redis) cacheKey(owner string, index int) string {
	return fmt.Sprintf("%s#%d", r.key(owner), index)
}

// Append pushes value and returns its index.
func (r *Redis) Append(ctx context.Context, owner, value string) (int, error) {
	n, err := r.client.RPush(ctx, r.key(owner), value).Result()
	if err != nil {
		return 0, fmt.Errorf("append %s: %w", r.kind, err)
	}
	index := int(n)
	r.cache.Add(r.cacheKey(owner, index), value)
	return index, nil
}

// AppendMany pushes all values in one RPUSH; the new entries occupy the last
// len(values) positions of the list.
func (r *Redis) AppendMany(ctx context.Context, owner string, values []string) ([]int, error) {
	if len(values) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	n, err := r.client.RPush(ctx, r.key(owner), args...).Result()
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", r.kind, err)
	}
	indices := assignedIndices(int(n), len(values))
	for i, index := range indices {
		r.cache.Add(r.cacheKey(owner, index), values[i])
	}
	return indices, nil
}

func assignedIndices(length, count int) []int {
	first := length - count + 1
	indices := make([]int, count)
	for i := range indices {
		indices[i] = first + i
	}
	return indices
}

// Get reads one entry, consulting the cache first.
func (r *Redis) Get(ctx context.Context, owner string, index int) (string, error) {
	if index < 1 {
		return "", ErrNotFound
	}
	if v, ok := r.cache.Get(r.cacheKey(owner, index)); ok {
		return v, nil
	}
	v, err := r.client.LIndex(ctx, r.key(owner), int64(index-1)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s %d: %w", r.kind, index, err)
	}
	r.cache.Add(r.cacheKey(owner, index), v)
	return v, nil
}

// List returns every entry for owner.
func (r *Redis) List(ctx context.Context, owner string) ([]Entry, error) {
	values, err := r.client.LRange(ctx, r.key(owner), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.kind, err)
	}
	entries := make([]Entry, len(values))
	for i, v := range values {
		entries[i] = Entry{Index: i + 1, Value: v}
	}
	return entries, nil
}
