package startup

import (
	"context"
	"os"
	"time"

	redisbroker "github.com/devmatch/messaging/internal/broker/redis"
	"github.com/devmatch/messaging/internal/logger"
)

// ConnectRedisWithRetry connects the fan-out bridge to Redis with retries.
// origin identifies this instance on the shared channel.
func ConnectRedisWithRetry(redisURL, origin string, maxWait time.Duration, logPrefix string) *redisbroker.Client {
	deadline := time.Now().Add(maxWait)
	backoff := 2 * time.Second
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redisbroker.New(ctx, redisURL, origin)
		cancel()
		if err != nil {
			if time.Now().After(deadline) {
				logger.Errorf("%sredis (gave up after %v): %v", logPrefix, maxWait, err)
				os.Exit(1)
			}
			logger.Errorf("%sredis connect failed, retry in %v: %v", logPrefix, backoff, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		return client
	}
}
