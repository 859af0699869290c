package event

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"payrelay/internal/domain/outcome"
)

// Relay publishes encoded envelopes to every instance.
type Relay interface {
	Source
	PublishRaw(ctx context.Context, msg []byte) error
}

// Hub is the local subscriber set.
type Hub interface {
	Publisher
	Sink
}

// relayPublisher sends envelopes through the relay. Local subscribers are
// served directly when the relay fails or this instance is not consuming it.
type relayPublisher struct {
	relay  Relay
	local  Hub
	worker *Worker
}

func (r relayPublisher) Publish(ctx context.Context, env outcome.Envelope) error {
	msg, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	live := r.worker.Live()
	if err := r.relay.PublishRaw(ctx, msg); err != nil {
		log.Error().Err(err).Str("type", string(env.Type)).Msg("relay publish failed, broadcasting locally")
		r.local.BroadcastRaw(ctx, msg)
		return nil
	}
	if !live {
		log.Warn().Str("type", string(env.Type)).Msg("relay worker not running, broadcasting locally")
		r.local.BroadcastRaw(ctx, msg)
	}
	return nil
}

// NewEventProcessingSystem wires the callback processor. Without a relay the
// processor publishes straight to the hub and the returned worker is nil.
// With a relay, the caller should Start the worker before serving callbacks.
func NewEventProcessingSystem(hub Hub, relay Relay, deduper Deduper) (*Processor, *Worker) {
	if relay == nil {
		return NewProcessor(hub, deduper), nil
	}
	worker := NewWorker(relay, hub)
	return NewProcessor(relayPublisher{relay: relay, local: hub, worker: worker}, deduper), worker
}
