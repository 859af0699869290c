package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"payrelay/internal/services/broadcast"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// SubscriberRegistry is the part of the hub a connection needs.
type SubscriberRegistry interface {
	Register(s broadcast.Subscriber)
	Unregister(s broadcast.Subscriber) bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSubscriber adapts a websocket connection to broadcast.Subscriber.
type wsSubscriber struct {
	id   string
	conn *websocket.Conn

	mu        sync.Mutex
	closeOnce sync.Once
}

func newWSSubscriber(conn *websocket.Conn) *wsSubscriber {
	return &wsSubscriber{id: uuid.NewString(), conn: conn}
}

func (s *wsSubscriber) ID() string { return s.id }

func (s *wsSubscriber) Send(ctx context.Context, msg []byte) error {
	return s.write(ctx, websocket.TextMessage, msg)
}

func (s *wsSubscriber) write(ctx context.Context, messageType int, data []byte) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

func (s *wsSubscriber) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}

// Subscribe upgrades the request and streams payment outcomes to the client
// until it disconnects. Anything the client sends is read and discarded.
func Subscribe(hub SubscriberRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the error response.
			log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}

		sub := newWSSubscriber(conn)
		hub.Register(sub)
		defer func() {
			hub.Unregister(sub)
			_ = sub.Close()
		}()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go sub.keepAlive(ctx)

		conn.SetReadLimit(4096)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Str("subscriber_id", sub.ID()).Msg("websocket closed")
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		}
	}
}

func (s *wsSubscriber) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.write(ctx, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
