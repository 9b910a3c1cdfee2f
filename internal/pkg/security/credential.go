package security

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/reelhouse/reelhouse/internal/pkg/env"
)

// Task names used to scope scheduled-task credentials.
const (
	TaskReconcileSubscriptions = "reconcile-subscriptions"
	TaskCleanupCheckouts       = "cleanup-checkouts"
)

// Credential checks a presented secret for a scheduled task.
type Credential interface {
	Verify(presented, task string) bool
}

// StaticSecret compares against a shared secret in constant time.
type StaticSecret string

func (s StaticSecret) Verify(presented, _ string) bool {
	if s == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s), []byte(presented)) == 1
}

// BcryptSecret compares against a bcrypt hash so the plain secret never sits
// in the server environment.
type BcryptSecret string

func (h BcryptSecret) Verify(presented, _ string) bool {
	if h == "" || presented == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(h), []byte(presented)) == nil
}

// SignedToken accepts short-lived HMAC tokens minted for one task.
type SignedToken string

func (s SignedToken) Verify(presented, task string) bool {
	if s == "" || presented == "" {
		return false
	}
	claims, err := VerifyTaskToken(presented, string(s))
	return err == nil && claims.Task == task
}

// AnyOf accepts a secret that any of the configured credentials accepts.
type AnyOf []Credential

func (a AnyOf) Verify(presented, task string) bool {
	for _, c := range a {
		if c.Verify(presented, task) {
			return true
		}
	}
	return false
}

// HashSecret returns a bcrypt hash suitable for CRON_SECRET_BCRYPT.
func HashSecret(secret string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CronCredential is the bearer credential for the reconcile trigger.
// An empty result rejects every request.
func CronCredential() AnyOf {
	var creds AnyOf
	if v := strings.TrimSpace(env.GetEnv("CRON_SECRET", "")); v != "" {
		creds = append(creds, StaticSecret(v))
	}
	if v := strings.TrimSpace(env.GetEnv("CRON_SECRET_BCRYPT", "")); v != "" {
		creds = append(creds, BcryptSecret(v))
	}
	if v := strings.TrimSpace(env.GetEnv("TASK_TOKEN_SECRET", "")); v != "" {
		creds = append(creds, SignedToken(v))
	}
	return creds
}

// CleanupCredential is the X-API-Key credential for the checkout sweep trigger.
func CleanupCredential() AnyOf {
	var creds AnyOf
	if v := strings.TrimSpace(env.GetEnv("CLEANUP_API_KEY", "")); v != "" {
		creds = append(creds, StaticSecret(v))
	}
	if v := strings.TrimSpace(env.GetEnv("TASK_TOKEN_SECRET", "")); v != "" {
		creds = append(creds, SignedToken(v))
	}
	return creds
}
