package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-assessment-api/internal/dto"
	"github.com/noah-isme/gema-assessment-api/internal/observability"
)

const (
	sessionBufferSize   = 32
	sessionPingInterval = 30 * time.Second
	sessionWriteTimeout = 10 * time.Second
	relayDedupWindow    = time.Minute
)

// NotificationDispatcher delivers realtime events to the live sessions of a user.
// Delivery is at-most-once: events for users without a session, or for sessions
// whose buffer is full, are dropped.
type NotificationDispatcher interface {
	NotifyUser(ctx context.Context, userID uint, event dto.RealtimeEvent)
	Broadcast(ctx context.Context, event dto.RealtimeEvent)
	Subscribe(userID uint) (<-chan dto.RealtimeEvent, func())
	ServeConnection(conn *websocket.Conn, userID uint)
	ConnectedCount() int
	Start(ctx context.Context) error
}

type notificationDispatcher struct {
	hub         *sessionHub
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	nodeID      string
	seen        *relaySeen
	logger      zerolog.Logger
}

type relayEnvelope struct {
	ID     string            `json:"id"`
	Source string            `json:"source"`
	UserID uint              `json:"user_id,omitempty"`
	Event  dto.RealtimeEvent `json:"event"`
}

type sessionHub struct {
	mu       sync.RWMutex
	sessions map[uint]map[*session]struct{}
	log      zerolog.Logger
}

type session struct {
	userID uint
	send   chan dto.RealtimeEvent
}

// relaySeen remembers recently handled envelope ids so a relay delivered twice
// reaches local sessions once.
type relaySeen struct {
	mu  sync.Mutex
	ids map[string]time.Time
	ttl time.Duration
}

// NewNotificationDispatcher constructs a dispatcher. When channelBase is set the
// relay runs over NATS if natsConn is non-nil, otherwise over Redis pub/sub.
// Exactly one broker carries the relay.
func NewNotificationDispatcher(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) NotificationDispatcher {
	stream := ""
	subject := ""
	if channelBase != "" {
		if natsConn != nil {
			subject = strings.ReplaceAll(channelBase, ":", ".") + ".realtime"
		} else {
			stream = channelBase + ":realtime"
		}
	}

	return &notificationDispatcher{
		hub: &sessionHub{
			sessions: make(map[uint]map[*session]struct{}),
			log:      logger.With().Str("component", "realtime_hub").Logger(),
		},
		redis:       redisClient,
		redisStream: stream,
		nats:        natsConn,
		natsSubject: subject,
		nodeID:      uuid.NewString(),
		seen:        &relaySeen{ids: make(map[string]time.Time), ttl: relayDedupWindow},
		logger:      logger.With().Str("component", "notification_dispatcher").Logger(),
	}
}

// Start subscribes to the configured relays. Subscriptions are confirmed before it returns.
func (d *notificationDispatcher) Start(ctx context.Context) error {
	if d.redis != nil && d.redisStream != "" {
		pubsub := d.redis.Subscribe(ctx, d.redisStream)
		if _, err := pubsub.Receive(ctx); err != nil {
			_ = pubsub.Close()
			return err
		}
		go d.consumeRedis(ctx, pubsub)
	}

	if d.nats != nil && d.natsSubject != "" {
		sub, err := d.nats.Subscribe(d.natsSubject, func(msg *nats.Msg) {
			d.handleRelay(msg.Data)
		})
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			if err := sub.Drain(); err != nil {
				d.logger.Warn().Err(err).Msg("failed to drain realtime nats subscription")
			}
		}()
	}

	return nil
}

func (d *notificationDispatcher) NotifyUser(ctx context.Context, userID uint, event dto.RealtimeEvent) {
	event = stamp(event)
	d.hub.deliver(userID, event)
	d.publish(ctx, relayEnvelope{ID: uuid.NewString(), Source: d.nodeID, UserID: userID, Event: event})
}

func (d *notificationDispatcher) Broadcast(ctx context.Context, event dto.RealtimeEvent) {
	event = stamp(event)
	d.hub.broadcast(event)
	d.publish(ctx, relayEnvelope{ID: uuid.NewString(), Source: d.nodeID, Event: event})
}

// Subscribe registers a channel-backed session, used by SSE streams. The returned
// function unregisters the session and closes the channel.
func (d *notificationDispatcher) Subscribe(userID uint) (<-chan dto.RealtimeEvent, func()) {
	s := &session{userID: userID, send: make(chan dto.RealtimeEvent, sessionBufferSize)}
	d.hub.register(s)

	var once sync.Once
	return s.send, func() {
		once.Do(func() { d.hub.unregister(s) })
	}
}

// ServeConnection runs a websocket session until the client disconnects.
func (d *notificationDispatcher) ServeConnection(conn *websocket.Conn, userID uint) {
	s := &session{userID: userID, send: make(chan dto.RealtimeEvent, sessionBufferSize)}
	s.send <- stamp(dto.RealtimeEvent{Type: dto.EventConnected, Payload: map[string]interface{}{"user_id": userID}})
	d.hub.register(s)

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.writeLoop(conn, s)
	}()

	d.readLoop(conn, s)
	d.hub.unregister(s)
	<-done
}

func (d *notificationDispatcher) ConnectedCount() int {
	return d.hub.count()
}

func (d *notificationDispatcher) readLoop(conn *websocket.Conn, s *session) {
	for {
		var message dto.RealtimeClientMessage
		if err := conn.ReadJSON(&message); err != nil {
			d.logger.Debug().Err(err).Uint("user_id", s.userID).Msg("realtime read loop ended")
			return
		}

		if strings.EqualFold(message.Type, "PING") {
			select {
			case s.send <- stamp(dto.RealtimeEvent{Type: dto.EventPong}):
			default:
			}
		}
	}
}

func (d *notificationDispatcher) writeLoop(conn *websocket.Conn, s *session) {
	ticker := time.NewTicker(sessionPingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-s.send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(sessionWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				d.logger.Debug().Err(err).Uint("user_id", s.userID).Msg("realtime write loop terminated")
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(sessionWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				d.logger.Debug().Err(err).Uint("user_id", s.userID).Msg("realtime ping failed")
				_ = conn.Close()
				return
			}
		}
	}
}

func (d *notificationDispatcher) publish(ctx context.Context, envelope relayEnvelope) {
	if (d.redis == nil || d.redisStream == "") && (d.nats == nil || d.natsSubject == "") {
		return
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		d.logger.Warn().Err(err).Msg("failed to marshal realtime event")
		return
	}

	if d.redis != nil && d.redisStream != "" {
		if err := d.redis.Publish(ctx, d.redisStream, payload).Err(); err != nil {
			d.logger.Warn().Err(err).Str("type", envelope.Event.Type).Msg("failed to relay realtime event to redis")
		}
	}

	if d.nats != nil && d.natsSubject != "" {
		if err := d.nats.Publish(d.natsSubject, payload); err != nil {
			d.logger.Warn().Err(err).Str("type", envelope.Event.Type).Msg("failed to relay realtime event to nats")
		}
	}
}

func (d *notificationDispatcher) consumeRedis(ctx context.Context, pubsub *redis.PubSub) {
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
				return
			}
			d.logger.Error().Err(err).Msg("realtime redis subscription closed")
			return
		}
		d.handleRelay([]byte(msg.Payload))
	}
}

func (d *notificationDispatcher) handleRelay(payload []byte) {
	var envelope relayEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		d.logger.Warn().Err(err).Msg("invalid realtime relay payload")
		return
	}

	if envelope.Source == d.nodeID {
		return
	}
	if !d.seen.first(envelope.ID, time.Now()) {
		return
	}

	if envelope.UserID == 0 {
		d.hub.broadcast(envelope.Event)
		return
	}
	d.hub.deliver(envelope.UserID, envelope.Event)
}

// first reports whether id has not been handled within the dedup window.
// Envelopes without an id are always accepted.
func (r *relaySeen) first(id string, now time.Time) bool {
	if id == "" {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for seenID, at := range r.ids {
		if now.Sub(at) > r.ttl {
			delete(r.ids, seenID)
		}
	}
	if _, ok := r.ids[id]; ok {
		return false
	}
	r.ids[id] = now
	return true
}

func (h *sessionHub) register(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[s.userID]; !exists {
		h.sessions[s.userID] = make(map[*session]struct{})
	}
	h.sessions[s.userID][s] = struct{}{}
	observability.RealtimeSessions().Inc()
	h.log.Debug().Uint("user_id", s.userID).Msg("realtime session registered")
}

// unregister removes the session and closes its channel. Closing under the write
// lock guarantees no delivery is in flight.
func (h *sessionHub) unregister(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sessions, ok := h.sessions[s.userID]
	if !ok {
		return
	}
	if _, registered := sessions[s]; !registered {
		return
	}

	delete(sessions, s)
	close(s.send)
	if len(sessions) == 0 {
		delete(h.sessions, s.userID)
	}
	observability.RealtimeSessions().Dec()
	h.log.Debug().Uint("user_id", s.userID).Msg("realtime session unregistered")
}

func (h *sessionHub) deliver(userID uint, event dto.RealtimeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sessions := h.sessions[userID]
	if len(sessions) == 0 {
		observability.RealtimeDropped().WithLabelValues(event.Type, "no_session").Inc()
		return
	}
	for s := range sessions {
		h.offer(s, event)
	}
}

func (h *sessionHub) broadcast(event dto.RealtimeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sessions := range h.sessions {
		for s := range sessions {
			h.offer(s, event)
		}
	}
}

func (h *sessionHub) offer(s *session, event dto.RealtimeEvent) {
	select {
	case s.send <- event:
		observability.RealtimeDelivered().WithLabelValues(event.Type).Inc()
	default:
		observability.RealtimeDropped().WithLabelValues(event.Type, "buffer_full").Inc()
		h.log.Warn().Uint("user_id", s.userID).Str("type", event.Type).Msg("dropping realtime event for slow session")
	}
}

func (h *sessionHub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, sessions := range h.sessions {
		total += len(sessions)
	}
	return total
}

func stamp(event dto.RealtimeEvent) dto.RealtimeEvent {
	if event.SentAt.IsZero() {
		event.SentAt = time.Now().UTC()
	}
	return event
}
