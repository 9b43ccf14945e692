package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
)

// eventChannelBuffer is the capacity of the dispatcher's inbound queue.
const eventChannelBuffer = 1024

// ErrHubStopped is returned by Hub methods called after Stop.
var ErrHubStopped = errors.New("hub stopped")

// Archiver receives messages evicted from the log. Archive must not block.
type Archiver interface {
	Archive(msg Message)
}

// Options configures a Hub. Zero values select defaults.
type Options struct {
	HistoryLimit    int
	TypingTimeout   time.Duration
	MaxContentBytes int

	// Archiver is optional.
	Archiver Archiver

	// Metrics is optional.
	Metrics *Metrics

	// Now is the clock used for timestamps. Defaults to time.Now.
	Now func() time.Time
}

const (
	DefaultHistoryLimit    = 1000
	DefaultMaxContentBytes = 5000
)

type event interface {
	name() string
}

type connectEvent struct{ client *Client }

type disconnectEvent struct{ client *Client }

type commandEvent struct {
	client *Client
	cmd    Command
}

type typingExpiredEvent struct {
	connID string
	gen    uint64
}

type queryEvent struct {
	fn   func()
	done chan struct{}
}

func (connectEvent) name() string       { return "connect" }
func (disconnectEvent) name() string    { return "disconnect" }
func (typingExpiredEvent) name() string { return "typingExpired" }
func (queryEvent) name() string         { return "query" }

func (e commandEvent) name() string {
	switch e.cmd.Type {
	case EventRegister, EventSend, EventTyping, EventReadAck:
		return string(e.cmd.Type)
	default:
		return "invalid"
	}
}

// Hub is the single dispatcher of the relay. One goroutine (Run) owns the Registry,
// the MessageLog and the Delivery, Presence and Typing trackers, and processes every
// event to completion before taking the next one.
type Hub struct {
	opts Options

	registry *Registry
	log      *MessageLog
	delivery *Delivery
	presence *Presence
	typing   *Typing

	// clients holds every open connection, registered or not, keyed by connection id.
	clients map[string]*Client

	// unreachable collects clients whose queue overflowed during the current event.
	unreachable []*Client

	events   chan event
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	logger zerolog.Logger
}

// NewHub creates a Hub. Call Run to start processing events.
func NewHub(opts Options) *Hub {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.MaxContentBytes <= 0 {
		opts.MaxContentBytes = DefaultMaxContentBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	h := &Hub{
		opts:     opts,
		registry: NewRegistry(),
		log:      NewMessageLog(opts.HistoryLimit),
		presence: NewPresence(0),
		clients:  make(map[string]*Client),
		events:   make(chan event, eventChannelBuffer),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logx.Component("hub"),
	}
	h.delivery = NewDelivery(h.log)
	h.typing = NewTyping(opts.TypingTimeout, func(connID string, gen uint64) {
		h.post(typingExpiredEvent{connID: connID, gen: gen})
	})

	return h
}

// post queues ev for the dispatcher. It returns false once the hub is stopping.
func (h *Hub) post(ev event) bool {
	if h.stopping() {
		return false
	}

	select {
	case h.events <- ev:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) stopping() bool {
	select {
	case <-h.quit:
		return true
	default:
		return false
	}
}

// Connect attaches a new transport connection. It must precede any Submit for c.
func (h *Hub) Connect(c *Client) error {
	if !h.post(connectEvent{client: c}) {
		return ErrHubStopped
	}
	return nil
}

// Submit queues a decoded inbound command from c.
func (h *Hub) Submit(c *Client, cmd Command) {
	h.post(commandEvent{client: c, cmd: cmd})
}

// Disconnect detaches c. Calling it for an already removed client is a no-op.
func (h *Hub) Disconnect(c *Client) {
	h.post(disconnectEvent{client: c})
}

// Do runs fn on the dispatcher goroutine and waits for it to finish.
// fn may read hub state but must not block.
func (h *Hub) Do(ctx context.Context, fn func()) error {
	if h.stopping() {
		return ErrHubStopped
	}

	done := make(chan struct{})

	select {
	case h.events <- queryEvent{fn: fn, done: done}:
	case <-h.quit:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns the retained message log in insertion order.
func (h *Hub) Messages(ctx context.Context) ([]Message, error) {
	var out []Message
	err := h.Do(ctx, func() { out = h.log.Snapshot() })
	return out, err
}

// Online returns the public view of every registered session in registration order.
func (h *Hub) Online(ctx context.Context) ([]user.Public, error) {
	var out []user.Public
	err := h.Do(ctx, func() { out = h.onlineUsers() })
	return out, err
}

// PresenceOf returns the presence of userID.
func (h *Hub) PresenceOf(ctx context.Context, userID string) (user.Presence, error) {
	var out user.Presence
	err := h.Do(ctx, func() { out = h.presence.State(userID) })
	return out, err
}

// Stop terminates Run and waits for it to release every connection.
// It must only be called after Run has been started.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.logger.Info().Msg("Received stop signal. Stopping hub.")
		close(h.quit)
	})
	<-h.done
}

// Run processes events until Stop is called.
func (h *Hub) Run() {
	defer func() {
		h.typing.StopAll()
		for _, c := range h.clients {
			h.closeClient(c)
		}
		clear(h.clients)
		h.logger.Info().Msg("Hub Run loop finished.")
		close(h.done)
	}()

	for {
		select {
		case ev := <-h.events:
			h.dispatch(ev)
		case <-h.quit:
			return
		}
	}
}

func (h *Hub) dispatch(ev event) {
	start := time.Now()

	switch e := ev.(type) {
	case connectEvent:
		h.handleConnect(e.client)
	case disconnectEvent:
		h.removeClient(e.client, "connection closed")
	case commandEvent:
		h.handleCommand(e.client, e.cmd)
	case typingExpiredEvent:
		h.handleTypingExpired(e.connID, e.gen)
	case queryEvent:
		e.fn()
		close(e.done)
	}

	// Peers that overflowed are dropped; dropping them may overflow others in turn.
	for len(h.unreachable) > 0 {
		batch := h.unreachable
		h.unreachable = nil
		for _, c := range batch {
			h.removeClient(c, "peer unreachable")
		}
	}

	h.observe(ev.name(), time.Since(start))
}

func (h *Hub) handleConnect(c *Client) {
	h.clients[c.id] = c
	c.logger.Debug().Int("connections", len(h.clients)).Msg("Connection attached.")
	h.updateGauges()
}

func (h *Hub) handleCommand(c *Client, cmd Command) {
	if c.closed {
		return
	}

	session, registered := h.registry.Lookup(c.id)
	if cmd.Type == EventRegister && registered {
		h.reject(c, cmd, errs.NewError(errs.ErrAlreadyRegistered))
		return
	}
	if cmd.requiresSession() && !registered {
		h.reject(c, cmd, errs.NewError(errs.ErrNotRegistered))
		return
	}
	if cmd.Err != nil {
		h.reject(c, cmd, cmd.Err)
		return
	}

	switch cmd.Type {
	case EventRegister:
		h.handleRegister(c, cmd)
	case EventSend:
		h.handleSend(c, session, cmd)
	case EventTyping:
		h.handleTyping(c, session, cmd.IsTyping)
	case EventReadAck:
		h.handleReadAck(c, session, cmd)
	}
}

func (h *Hub) handleRegister(c *Client, cmd Command) {
	session, err := h.registry.Register(c.id, cmd.Profile, h.opts.Now())
	if err != nil {
		h.reject(c, cmd, err)
		return
	}

	c.registered.Store(true)
	h.presence.MarkOnline(session.ID)

	c.logger.Info().
		Str("user_id", session.ID).
		Int("total_users", h.registry.Len()).
		Msg("Client registered.")

	h.sendTo(c, EventRegistered, RegisteredPayload{
		UserID:      session.ID,
		DisplayName: session.DisplayName,
		AvatarRef:   session.AvatarRef,
		Online:      h.onlineUsers(),
	})
	history := h.log.Snapshot()
	if h.sendTo(c, EventHistory, HistoryPayload{Messages: history}) {
		h.markReplayedDelivered(session.ID, history)
	}

	h.broadcast(c.id, EventPresence, PresencePayload{
		UserID:      session.ID,
		DisplayName: session.DisplayName,
		AvatarRef:   session.AvatarRef,
		Online:      true,
	})

	h.updateGauges()
}

func (h *Hub) handleSend(c *Client, sender *user.Session, cmd Command) {
	content := cmd.Content
	if err := content.Validate(h.opts.MaxContentBytes); err != nil {
		h.reject(c, cmd, err)
		return
	}

	// Sending finalizes the composition.
	if h.typing.Stop(c.id) {
		h.broadcast(c.id, EventTyping, TypingPayload{UserID: sender.ID, IsTyping: false})
	}

	msg, evicted := h.log.Append(sender, content, h.opts.Now())
	if evicted != nil {
		if h.opts.Metrics != nil {
			h.opts.Metrics.LogEvicted.Inc()
		}
		if h.opts.Archiver != nil {
			h.opts.Archiver.Archive(*evicted)
		}
	}

	h.sendTo(c, EventSendAck, SendAckPayload{TempID: cmd.TempID, Message: *msg})

	reached := h.broadcast(c.id, EventMessageReceived, MessageReceivedPayload{Message: *msg})
	if reached > 0 && h.delivery.MarkDelivered(msg) {
		h.sendTo(c, EventStatusUpdate, StatusUpdatePayload{MessageID: msg.ID, Status: StatusDelivered})
	}

	c.logger.Debug().
		Str("message_id", msg.ID).
		Str("kind", string(msg.Content.Kind)).
		Int("recipients", reached).
		Msg("Message relayed.")

	h.updateGauges()
}

func (h *Hub) handleTyping(c *Client, sender *user.Session, isTyping bool) {
	var notify bool
	if isTyping {
		notify = h.typing.Start(c.id)
	} else {
		notify = h.typing.Stop(c.id)
	}

	if notify {
		h.broadcast(c.id, EventTyping, TypingPayload{UserID: sender.ID, IsTyping: isTyping})
	}
}

func (h *Hub) handleTypingExpired(connID string, gen uint64) {
	if !h.typing.Expire(connID, gen) {
		return
	}
	if session, ok := h.registry.Lookup(connID); ok {
		h.broadcast(connID, EventTyping, TypingPayload{UserID: session.ID, IsTyping: false})
	}
}

func (h *Hub) handleReadAck(c *Client, reader *user.Session, cmd Command) {
	msg, steps, err := h.delivery.MarkRead(cmd.MessageID, reader.ID)
	if err != nil {
		h.reject(c, cmd, err)
		return
	}
	if len(steps) == 0 {
		return
	}

	sender, ok := h.clientForUser(msg.SenderID)
	if !ok {
		return
	}

	for _, status := range steps {
		h.sendTo(sender, EventStatusUpdate, StatusUpdatePayload{MessageID: msg.ID, Status: status})
	}
}

// markReplayedDelivered advances every replayed message still at sent. A replay into the
// reader's queue is a delivery just like a live broadcast. Each sender gets one statusUpdate
// covering all of its messages, so a long backlog cannot overflow the sender's queue.
func (h *Hub) markReplayedDelivered(readerID string, replayed []Message) {
	advanced := make(map[string][]string)
	var senders []string

	for _, m := range replayed {
		if m.Status != StatusSent || m.SenderID == readerID {
			continue
		}
		msg, ok := h.log.Get(m.ID)
		if !ok || !h.delivery.MarkDelivered(msg) {
			continue
		}
		if _, seen := advanced[msg.SenderID]; !seen {
			senders = append(senders, msg.SenderID)
		}
		advanced[msg.SenderID] = append(advanced[msg.SenderID], msg.ID)
	}

	for _, senderID := range senders {
		sender, ok := h.clientForUser(senderID)
		if !ok {
			continue
		}
		ids := advanced[senderID]
		h.sendTo(sender, EventStatusUpdate, StatusUpdatePayload{
			MessageID:  ids[len(ids)-1],
			MessageIDs: ids,
			Status:     StatusDelivered,
		})
	}
}

func (h *Hub) clientForUser(userID string) (*Client, bool) {
	connID, ok := h.registry.ConnForUser(userID)
	if !ok {
		return nil, false
	}
	c, ok := h.clients[connID]
	return c, ok
}

// removeClient detaches c, removes its session and tells peers it went offline.
func (h *Hub) removeClient(c *Client, reason string) {
	if cur, ok := h.clients[c.id]; !ok || cur != c {
		return
	}
	delete(h.clients, c.id)
	h.closeClient(c)

	wasTyping := h.typing.Stop(c.id)

	session, ok := h.registry.Remove(c.id)
	if ok {
		now := h.opts.Now()
		h.presence.MarkOffline(session.ID, now)

		if wasTyping {
			h.broadcast(c.id, EventTyping, TypingPayload{UserID: session.ID, IsTyping: false})
		}
		h.broadcast(c.id, EventPresence, PresencePayload{
			UserID:      session.ID,
			DisplayName: session.DisplayName,
			AvatarRef:   session.AvatarRef,
			Online:      false,
			LastSeenAt:  now.UnixMilli(),
		})
	}

	c.logger.Info().
		Str("reason", reason).
		Bool("registered", ok).
		Int("total_users", h.registry.Len()).
		Msg("Client left.")

	h.updateGauges()
}

func (h *Hub) onlineUsers() []user.Public {
	return lo.Map(h.registry.Sessions(), func(s *user.Session, _ int) user.Public {
		return s.Public()
	})
}

func (h *Hub) reject(c *Client, cmd Command, err error) {
	customErr := errs.From(err)
	if !errs.HasCode(err, customErr.Code) {
		c.logger.Error().Err(err).Str("event", string(cmd.Type)).Msg("Unexpected error while handling event.")
	}

	h.sendTo(c, EventError, ErrorPayload{
		Code:    customErr.Code,
		Message: customErr.Message,
		Event:   cmd.Type,
		TempID:  cmd.TempID,
	})
}

// broadcast queues one frame for every registered session except the one owned by exceptConnID.
// It returns how many peers accepted the frame.
func (h *Hub) broadcast(exceptConnID string, typ EventType, payload any) int {
	frame, ok := h.encode(typ, payload)
	if !ok {
		return 0
	}

	reached := 0
	for _, s := range h.registry.Sessions() {
		if s.ConnID == exceptConnID {
			continue
		}
		c, ok := h.clients[s.ConnID]
		if !ok {
			continue
		}
		if h.enqueue(c, frame) {
			reached++
		}
	}
	return reached
}

func (h *Hub) sendTo(c *Client, typ EventType, payload any) bool {
	frame, ok := h.encode(typ, payload)
	if !ok {
		return false
	}
	return h.enqueue(c, frame)
}

func (h *Hub) encode(typ EventType, payload any) ([]byte, bool) {
	frame, err := json.Marshal(Envelope{Type: typ, Payload: payload, Timestamp: h.opts.Now().UnixMilli()})
	if err != nil {
		h.logger.Error().Err(err).Str("event", string(typ)).Msg("Error marshaling frame.")
		return nil, false
	}
	return frame, true
}

// enqueue never blocks. A full queue marks the peer unreachable; it is dropped after the
// current event so that it never observes a gap in the log.
func (h *Hub) enqueue(c *Client, frame []byte) bool {
	if c.closed || c.unreachable {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.unreachable = true
		h.unreachable = append(h.unreachable, c)
		if h.opts.Metrics != nil {
			h.opts.Metrics.PeerUnreachable.Inc()
		}
		c.logger.Warn().
			Int("code", errs.ErrPeerUnreachable).
			Int("queue_len", len(c.send)).
			Msg("Client send channel full, dropping peer.")
		return false
	}
}

func (h *Hub) closeClient(c *Client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (h *Hub) updateGauges() {
	if h.opts.Metrics == nil {
		return
	}
	h.opts.Metrics.Sessions.Set(float64(h.registry.Len()))
	h.opts.Metrics.Connections.Set(float64(len(h.clients)))
	h.opts.Metrics.LogMessages.Set(float64(h.log.Len()))
}

func (h *Hub) observe(name string, elapsed time.Duration) {
	if h.opts.Metrics == nil {
		return
	}
	h.opts.Metrics.EventsTotal.WithLabelValues(name).Inc()
	h.opts.Metrics.EventDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}
