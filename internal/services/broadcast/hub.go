package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"payrelay/internal/domain/outcome"
)

// Subscriber is a live connection that receives encoded envelopes.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, msg []byte) error
	Close() error
}

// Hub fans envelopes out to every registered subscriber. Delivery is
// at-most-once to whoever is registered when Broadcast runs; nothing is queued.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]Subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]Subscriber)}
}

// Register adds s. A subscriber with the same id replaces the previous one.
func (h *Hub) Register(s Subscriber) {
	h.mu.Lock()
	h.subs[s.ID()] = s
	n := len(h.subs)
	h.mu.Unlock()

	log.Info().Str("subscriber_id", s.ID()).Int("subscribers", n).Msg("subscriber registered")
}

// Unregister removes s. It reports whether s was registered.
func (h *Hub) Unregister(s Subscriber) bool {
	h.mu.Lock()
	cur, ok := h.subs[s.ID()]
	if ok && cur == s {
		delete(h.subs, s.ID())
	}
	n := len(h.subs)
	h.mu.Unlock()

	if ok && cur == s {
		log.Info().Str("subscriber_id", s.ID()).Int("subscribers", n).Msg("subscriber unregistered")
		return true
	}
	return false
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish broadcasts env. It lets the hub stand in wherever an event
// publisher is expected.
func (h *Hub) Publish(ctx context.Context, env outcome.Envelope) error {
	_, err := h.Broadcast(ctx, env)
	return err
}

// Broadcast encodes env once and sends it to every subscriber. It returns how
// many subscribers accepted the message.
func (h *Hub) Broadcast(ctx context.Context, env outcome.Envelope) (int, error) {
	msg, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("encode envelope: %w", err)
	}
	return h.BroadcastRaw(ctx, msg), nil
}

// BroadcastRaw sends an already encoded message. Each subscriber gets its own
// goroutine; a subscriber whose send fails is unregistered and closed without
// affecting the others.
func (h *Hub) BroadcastRaw(ctx context.Context, msg []byte) int {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		log.Debug().Msg("broadcast skipped, no subscribers")
		return 0
	}

	var delivered atomic.Int64
	var wg conc.WaitGroup
	for _, s := range targets {
		s := s
		wg.Go(func() {
			if err := s.Send(ctx, msg); err != nil {
				log.Warn().Err(err).Str("subscriber_id", s.ID()).Msg("send failed, dropping subscriber")
				h.drop(s)
				return
			}
			delivered.Add(1)
		})
	}
	wg.Wait()

	n := int(delivered.Load())
	log.Debug().Int("delivered", n).Int("targets", len(targets)).Msg("broadcast complete")
	return n
}

func (h *Hub) drop(s Subscriber) {
	if h.Unregister(s) {
		if err := s.Close(); err != nil {
			log.Debug().Err(err).Str("subscriber_id", s.ID()).Msg("close after failed send")
		}
	}
}
