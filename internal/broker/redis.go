package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/serroba/smart-collab/internal/logging"
	"github.com/sirupsen/logrus"
)

// ChannelPrefix prefixes the pub/sub channel of every room.
const ChannelPrefix = "collab:room:"

// Channel returns the pub/sub channel of a room.
func Channel(roomID string) string {
	return ChannelPrefix + roomID
}

// Redis fans envelopes out over Redis pub/sub, one channel per room.
type Redis struct {
	client redis.UniversalClient
	log    *logrus.Entry
}

// NewRedis creates a broker on client.
func NewRedis(client redis.UniversalClient, logger *logrus.Entry) *Redis {
	return &Redis{client: client, log: logging.OrDiscard(logger)}
}

// Publish sends env to the room channel.
func (r *Redis) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("cannot encode envelope: %w", err)
	}

	if err := r.client.Publish(ctx, Channel(env.RoomID), body).Err(); err != nil {
		return fmt.Errorf("cannot publish envelope: %w", err)
	}

	return nil
}

// Subscribe listens on all room channels until ctx is canceled. It returns
// once the subscription is confirmed.
func (r *Redis) Subscribe(ctx context.Context, h Handler) error {
	ps := r.client.PSubscribe(ctx, ChannelPrefix+"*")

	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()

		return fmt.Errorf("cannot subscribe: %w", err)
	}

	go r.listen(ctx, ps, h)

	return nil
}

func (r *Redis) listen(ctx context.Context, ps *redis.PubSub, h Handler) {
	defer ps.Close()

	stop := context.AfterFunc(ctx, func() { _ = ps.Close() })
	defer stop()

	failed := 0

	for {
		raw, err := ps.Receive(ctx)
		if err != nil {
			if errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}

			failed++
			r.log.WithError(err).Warn("pub/sub receive failed")
			time.Sleep(min(5*time.Second, time.Duration(1<<min(failed, 12))*time.Millisecond))

			continue
		}

		failed = 0

		msg, ok := raw.(*redis.Message)
		if !ok || !strings.HasPrefix(msg.Channel, ChannelPrefix) {
			continue
		}

		var env Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			r.log.WithError(err).WithField("channel", msg.Channel).Warn("dropping malformed envelope")

			continue
		}

		h(env)
	}
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Ensure Redis implements Broker.
var _ Broker = (*Redis)(nil)
