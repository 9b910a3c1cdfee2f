package session

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"

	"github.com/reelhouse/reelhouse/internal/pkg/cache"
	"github.com/reelhouse/reelhouse/internal/pkg/env"
	"github.com/reelhouse/reelhouse/internal/pkg/usercontext"
)

// Redis databases used by fiber storages. The cache itself uses DB 0.
const (
	SessionDatabase = 1
	LimiterDatabase = 2
)

var sessionStore *session.Store

// NewRedisStorage opens a fiber storage on the cache server's host.
func NewRedisStorage(database int) *redis.Storage {
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: database,
		Reset:    false,
	})
}

func NewSessionStore() *session.Store {
	sessionStore = session.New(session.Config{
		Storage:        NewRedisStorage(SessionDatabase),
		CookieHTTPOnly: true,
		CookieSecure:   !env.IsDev(),
		Expiration:     time.Hour * 1,
		KeyLookup:      "cookie:session_id",
	})
	return sessionStore
}

// SetSessionStore installs a store, e.g. an in-memory one in tests.
func SetSessionStore(store *session.Store) {
	sessionStore = store
}

// UserID returns the logged-in user id stored in the session, or 0.
func UserID(c *fiber.Ctx) uint {
	if sessionStore == nil {
		return 0
	}
	sess, err := sessionStore.Get(c)
	if err != nil {
		return 0
	}
	switch v := sess.Get(usercontext.KeyUserID).(type) {
	case uint:
		return v
	case int:
		if v > 0 {
			return uint(v)
		}
	case int64:
		if v > 0 {
			return uint(v)
		}
	}
	return 0
}

// Login binds the session to a user id.
func Login(c *fiber.Ctx, userID uint) error {
	if sessionStore == nil {
		return fmt.Errorf("session store not initialized")
	}
	sess, err := sessionStore.Get(c)
	if err != nil {
		return fmt.Errorf("failed to get session: %v", err)
	}
	if err := sess.Regenerate(); err != nil {
		return fmt.Errorf("failed to regenerate session: %v", err)
	}
	sess.Set(usercontext.KeyUserID, userID)
	return sess.Save()
}
