package event

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Source yields encoded envelopes published by any instance.
type Source interface {
	Messages(ctx context.Context) (<-chan []byte, error)
}

// Sink delivers encoded envelopes to local subscribers.
type Sink interface {
	BroadcastRaw(ctx context.Context, msg []byte) int
}

// Worker forwards relayed envelopes to the local hub.
type Worker struct {
	source Source
	sink   Sink

	msgs <-chan []byte
	live atomic.Bool
}

func NewWorker(source Source, sink Sink) *Worker {
	return &Worker{source: source, sink: sink}
}

// Start subscribes to the source. Once it returns nil, every envelope
// published to the relay reaches the local hub.
func (w *Worker) Start(ctx context.Context) error {
	msgs, err := w.source.Messages(ctx)
	if err != nil {
		return err
	}
	w.msgs = msgs
	w.live.Store(true)
	log.Info().Msg("outcome relay worker subscribed")
	return nil
}

// Live reports whether relayed envelopes are currently being consumed.
func (w *Worker) Live() bool {
	return w != nil && w.live.Load()
}

// Run forwards messages until ctx is cancelled or the source closes. It
// subscribes first unless Start already did.
func (w *Worker) Run(ctx context.Context) error {
	if w.msgs == nil {
		if err := w.Start(ctx); err != nil {
			return err
		}
	}
	defer w.live.Store(false)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outcome relay worker stopping")
			return nil
		case msg, ok := <-w.msgs:
			if !ok {
				log.Warn().Msg("outcome relay source closed, falling back to local broadcast")
				return nil
			}
			n := w.sink.BroadcastRaw(ctx, msg)
			log.Debug().Int("delivered", n).Int("bytes", len(msg)).Msg("relayed outcome")
		}
	}
}
