package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	errLockNotConfigured = errors.New("lock client not configured")
	errLockBadArgs       = errors.New("lock key and ttl are required")
)

// Release only deletes the key when the caller still owns it, so a lock
// that expired and was re-acquired elsewhere is never stolen back.
const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker is a best-effort distributed lock on a single redis key. The
// TTL bounds how long a crashed holder can block other instances.
type Locker struct {
	client  *redis.Client
	release *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client, release: redis.NewScript(lockReleaseScript)}
}

// TryLock attempts to take the lock without blocking. The returned
// token identifies this holder and must be passed back to Release.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errLockNotConfigured
	}
	if key == "" || ttl <= 0 {
		return "", false, errLockBadArgs
	}

	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, acquired, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	return l.release.Run(ctx, l.client, []string{key}, token).Err()
}
