package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"payrelay/internal/domain/outcome"
)

type recordingPublisher struct {
	mu   sync.Mutex
	envs []outcome.Envelope
	err  error
}

func (r *recordingPublisher) Publish(ctx context.Context, env outcome.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	return r.err
}

func (r *recordingPublisher) published() []outcome.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]outcome.Envelope(nil), r.envs...)
}

type memoryDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (m *memoryDeduper) FirstSeen(ctx context.Context, key string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

const insufficientFunds = `{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_1","ResultCode":1,"ResultDesc":"Insufficient funds"}}}`

const b2cTimeout = `{"Result":{"ResultType":1,"ResultCode":1,"ResultDesc":"The service request timed out.","ConversationID":"AG_1","OriginatorConversationID":"oc-1"}}`

func TestProcessPublishesDegradedFailure(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProcessor(pub, nil)

	env, err := p.Process(context.Background(), outcome.TypeSTKResult, []byte(insufficientFunds))
	require.NoError(t, err)
	require.Equal(t, outcome.TypeSTKResult, env.Type)
	require.False(t, env.Data.Succeeded())
	require.Nil(t, env.Data.Amount)
	require.Equal(t, "Insufficient funds", env.Data.ResultDescription)

	got := pub.published()
	require.Len(t, got, 1)
	require.Equal(t, env, got[0])
}

func TestProcessTimeoutCallback(t *testing.T) {
	pub := &recordingPublisher{}
	env, err := NewProcessor(pub, nil).Process(context.Background(), outcome.TypeB2CTimeout, []byte(b2cTimeout))
	require.NoError(t, err)
	require.Equal(t, outcome.TypeB2CTimeout, env.Type)
	require.Equal(t, "AG_1", env.Data.CorrelationID)
	require.Equal(t, 1, *env.Data.ResultType)
}

func TestProcessGarbageStillPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	env, err := NewProcessor(pub, nil).Process(context.Background(), outcome.TypeB2CResult, []byte("<xml/>"))
	require.NoError(t, err)
	require.Equal(t, outcome.UnknownResultCode, env.Data.ResultCode)
	require.NotEmpty(t, env.Data.Issues)
	require.Len(t, pub.published(), 1)
}

func TestProcessDeduplicates(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProcessor(pub, &memoryDeduper{})

	_, err := p.Process(context.Background(), outcome.TypeSTKResult, []byte(insufficientFunds))
	require.NoError(t, err)
	_, err = p.Process(context.Background(), outcome.TypeSTKResult, []byte(insufficientFunds))
	require.ErrorIs(t, err, ErrDuplicate)
	require.Len(t, pub.published(), 1)

	// Without ids there is nothing to deduplicate on.
	_, err = p.Process(context.Background(), outcome.TypeSTKResult, []byte(`{}`))
	require.NoError(t, err)
	_, err = p.Process(context.Background(), outcome.TypeSTKResult, []byte(`{}`))
	require.NoError(t, err)
	require.Len(t, pub.published(), 3)
}

func TestProcessDedupeFailureStillPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProcessor(pub, &memoryDeduper{err: errors.New("redis down")})

	_, err := p.Process(context.Background(), outcome.TypeSTKResult, []byte(insufficientFunds))
	require.NoError(t, err)
	require.Len(t, pub.published(), 1)
}

func TestProcessReturnsPublishError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("boom")}
	env, err := NewProcessor(pub, nil).Process(context.Background(), outcome.TypeSTKResult, []byte(insufficientFunds))
	require.Error(t, err)
	require.Equal(t, "29115-34620561-1", env.Data.CorrelationID)
}

func TestProcessUnknownType(t *testing.T) {
	pub := &recordingPublisher{}
	env, err := NewProcessor(pub, nil).Process(context.Background(), outcome.Type("c2b"), []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, outcome.TypeCallbackError, env.Type)
	require.Contains(t, env.Error, "c2b")
}

func TestProcessFailure(t *testing.T) {
	pub := &recordingPublisher{}
	env, err := NewProcessor(pub, nil).ProcessFailure(context.Background(), outcome.TypeB2CResult, errors.New("unexpected EOF"))
	require.NoError(t, err)
	require.Equal(t, outcome.TypeCallbackError, env.Type)
	require.Nil(t, env.Data)
	require.Equal(t, "b2c_result callback: unexpected EOF", env.Error)
}

type fakeRelay struct {
	ch           chan []byte
	publishErr   error
	subscribeErr error
	published    int
}

func (f *fakeRelay) Messages(ctx context.Context) (<-chan []byte, error) {
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return f.ch, nil
}

func (f *fakeRelay) PublishRaw(ctx context.Context, msg []byte) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published++
	select {
	case f.ch <- msg:
	default:
	}
	return nil
}

type fakeHub struct {
	recordingPublisher
	raw chan []byte
}

func (h *fakeHub) BroadcastRaw(ctx context.Context, msg []byte) int {
	h.raw <- msg
	return 1
}

func TestRelayRoundTrip(t *testing.T) {
	relay := &fakeRelay{ch: make(chan []byte, 1)}
	hub := &fakeHub{raw: make(chan []byte, 1)}
	proc, worker := NewEventProcessingSystem(hub, relay, nil)
	require.NotNil(t, worker)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, worker.Start(ctx))
	require.True(t, worker.Live())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	_, err := proc.Process(ctx, outcome.TypeSTKResult, []byte(insufficientFunds))
	require.NoError(t, err)

	select {
	case msg := <-hub.raw:
		var env outcome.Envelope
		require.NoError(t, json.Unmarshal(msg, &env))
		require.Equal(t, outcome.TypeSTKResult, env.Type)
		require.Equal(t, "ws_CO_1", env.Data.SecondaryID)
	case <-time.After(time.Second):
		t.Fatal("relayed envelope never reached the hub")
	}

	cancel()
	require.NoError(t, <-done)
	require.False(t, worker.Live())
	require.Empty(t, hub.raw)
}

func TestRelayFallsBackToLocalBroadcast(t *testing.T) {
	relay := &fakeRelay{ch: make(chan []byte), publishErr: errors.New("redis down")}
	hub := &fakeHub{raw: make(chan []byte, 1)}
	proc, _ := NewEventProcessingSystem(hub, relay, nil)

	_, err := proc.Process(context.Background(), outcome.TypeSTKResult, []byte(insufficientFunds))
	require.NoError(t, err)
	require.Len(t, hub.raw, 1)
}

func TestRelayWithoutSubscriptionBroadcastsLocally(t *testing.T) {
	relay := &fakeRelay{subscribeErr: errors.New("redis subscribe: connection refused")}
	hub := &fakeHub{raw: make(chan []byte, 1)}
	proc, worker := NewEventProcessingSystem(hub, relay, nil)

	require.Error(t, worker.Start(context.Background()))
	require.Error(t, worker.Run(context.Background()))
	require.False(t, worker.Live())

	_, err := proc.Process(context.Background(), outcome.TypeSTKResult, []byte(insufficientFunds))
	require.NoError(t, err)
	require.Equal(t, 1, relay.published)
	require.Len(t, hub.raw, 1)
}

func TestRelayClosedSourceFallsBackToLocal(t *testing.T) {
	relay := &fakeRelay{ch: make(chan []byte)}
	hub := &fakeHub{raw: make(chan []byte, 1)}
	proc, worker := NewEventProcessingSystem(hub, relay, nil)

	require.NoError(t, worker.Start(context.Background()))
	close(relay.ch)
	require.NoError(t, worker.Run(context.Background()))
	require.False(t, worker.Live())

	relay.ch = nil
	_, err := proc.Process(context.Background(), outcome.TypeSTKResult, []byte(insufficientFunds))
	require.NoError(t, err)
	require.Len(t, hub.raw, 1)
}

func TestNoRelayPublishesToHub(t *testing.T) {
	hub := &fakeHub{}
	proc, worker := NewEventProcessingSystem(hub, nil, nil)
	require.Nil(t, worker)

	_, err := proc.Process(context.Background(), outcome.TypeSTKResult, []byte(insufficientFunds))
	require.NoError(t, err)
	require.Len(t, hub.published(), 1)
}
