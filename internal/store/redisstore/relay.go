package redisstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Relay shares encoded envelopes between instances over a pub/sub channel.
type Relay struct {
	client  *redis.Client
	channel string
}

func NewRelay(client *redis.Client, channel string) *Relay {
	return &Relay{client: client, channel: channel}
}

// PublishRaw publishes msg to every subscribed instance, this one included.
func (r *Relay) PublishRaw(ctx context.Context, msg []byte) error {
	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

// Messages subscribes to the channel. The returned channel closes when ctx is
// cancelled.
func (r *Relay) Messages(ctx context.Context) (<-chan []byte, error) {
	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	log.Info().Str("channel", r.channel).Msg("subscribed to outcome relay")

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer sub.Close()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
