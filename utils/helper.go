package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/bridge_backend/config"
	"github.com/bsm/redislock"
)

// SingleFlightLock obtains a cross-instance lock for the given scope. The
// executor and the orchestrator use it so overlapping scheduled runs do not
// claim the same work. Caller must Release the returned lock.
func SingleFlightLock(ctx context.Context, scope string, ttl time.Duration, moduleName string, functionName string) (*redislock.Lock, error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		// Avoid nil-pointer panics when Redis lock isn't initialized yet.
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized", scope, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}

	lockKey := fmt.Sprintf("singleflight:%s", scope)
	lock, err := locker.Obtain(ctx, lockKey, ttl, nil)
	if err == redislock.ErrNotObtained {
		return nil, ErrorLockNotObtained
	} else if err != nil {
		config.LogError(logger, moduleName, functionName, "Error obtaining lock for scope", scope, err)
		return nil, err
	}
	return lock, nil
}

var ErrorLockNotObtained = errors.New("another run holds the lock")

func EnvBoolDefault(key string, def bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

func EnvStringDefault(key string, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}
