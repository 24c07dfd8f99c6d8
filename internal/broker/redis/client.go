// Package redis implements the fan-out bridge on a Redis pub/sub channel, so
// a room broadcast reaches subscribers connected to any gateway instance.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/devmatch/messaging/internal/broker"
	"github.com/devmatch/messaging/internal/logger"
)

// Channel carries every room envelope; filtering happens subscriber-side by
// room and origin.
const Channel = "devmatch:rooms"

type Client struct {
	cli    *redis.Client
	origin string
}

func New(ctx context.Context, url, origin string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli, origin: origin}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) Publish(ctx context.Context, env broker.Envelope) error {
	env.Origin = c.origin
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redis broker marshal: %w", err)
	}
	if err := c.cli.Publish(ctx, Channel, data).Err(); err != nil {
		return fmt.Errorf("redis broker publish: %w", err)
	}
	return nil
}

// Run subscribes to the bridge channel and delivers every envelope published
// by another instance. Malformed payloads are logged and skipped; the
// subscription itself stays up until ctx is cancelled.
func (c *Client) Run(ctx context.Context, h broker.Handler) error {
	sub := c.cli.Subscribe(ctx, Channel)
	defer sub.Close()

	// Block until the subscription is confirmed so Publish cannot outrun it.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis broker subscribe: %w", err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var env broker.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Errorf("broker: malformed envelope: %v", err)
				continue
			}
			if env.Origin == c.origin {
				continue
			}
			h(env)
		}
	}
}
