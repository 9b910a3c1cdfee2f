package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/reelhouse/reelhouse/internal/pkg/env"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SetupCache initializes the connection to the Redis cache server
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       0,
	})

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Printf("Warning: Could not connect to cache: %v", err)
	} else {
		log.Printf("Successfully connected to cache: %s", pong)
	}
}

// SetClient replaces the shared client. Tests point it at a local Redis.
func SetClient(c *redis.Client) {
	client = c
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// Set stores a value in the cache with the given key and expiration time
func Set(key string, value interface{}, expiration time.Duration) error {
	return GetClient().Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value from the cache by key
func Get(key string) (string, error) {
	return GetClient().Get(ctx, key).Result()
}

// SetJSON stores value encoded as JSON.
func SetJSON(key string, value any, expiration time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return Set(key, b, expiration)
}

// GetJSON decodes a JSON value into dst. It returns redis.Nil on a miss.
func GetJSON(key string, dst any) error {
	b, err := GetClient().Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// Delete removes a value from the cache by key
func Delete(key string) error {
	return GetClient().Del(ctx, key).Err()
}

// DeletePattern removes every key matching pattern.
func DeletePattern(pattern string) error {
	iter := GetClient().Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := GetClient().Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// TryLock acquires a short-lived lease on key. When the lease is held
// elsewhere it returns ok=false without error. The returned release func is
// safe to call after the lease expired.
func TryLock(c context.Context, key string, ttl time.Duration) (release func(), ok bool, err error) {
	rdb := GetClient()
	token := uuid.NewString()
	ok, err = rdb.SetNX(c, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		if err := releaseScript.Run(context.Background(), rdb, []string{key}, token).Err(); err != nil && err != redis.Nil {
			log.Printf("Warning: failed to release lock %s: %v", key, err)
		}
	}, true, nil
}

// Locker adapts TryLock to interfaces that expect a lock provider.
type Locker struct{}

func (Locker) TryLock(c context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return TryLock(c, key, ttl)
}

// JSONStore exposes SetJSON/GetJSON as methods.
type JSONStore struct{}

func (JSONStore) GetJSON(key string, dst any) error { return GetJSON(key, dst) }

func (JSONStore) SetJSON(key string, value any, expiration time.Duration) error {
	return SetJSON(key, value, expiration)
}
