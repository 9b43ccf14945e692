package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/randx"
)

const frameTimeout = 2 * time.Second

type frame struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func newTestHub(t *testing.T, opts Options) *Hub {
	t.Helper()
	h := NewHub(opts)
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func newTestClient(t *testing.T, h *Hub, buffer int) *Client {
	t.Helper()
	c := &Client{
		id:     randx.ConnectionID(),
		hub:    h,
		send:   make(chan []byte, buffer),
		logger: zerolog.Nop(),
	}
	require.NoError(t, h.Connect(c))
	return c
}

// settle waits until the dispatcher has processed everything queued before it.
func settle(t *testing.T, h *Hub) {
	t.Helper()
	require.NoError(t, h.Do(context.Background(), func() {}))
}

func nextFrame(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case b, ok := <-c.send:
		require.True(t, ok, "send queue closed")
		var f frame
		require.NoError(t, json.Unmarshal(b, &f))
		return f
	case <-time.After(frameTimeout):
		t.Fatalf("timed out waiting for frame")
		return frame{}
	}
}

// waitFor skips frames until one of the given type arrives.
func waitFor(t *testing.T, c *Client, typ EventType) frame {
	t.Helper()
	deadline := time.After(frameTimeout)
	for {
		select {
		case b, ok := <-c.send:
			require.True(t, ok, "send queue closed while waiting for %s", typ)
			var f frame
			require.NoError(t, json.Unmarshal(b, &f))
			if f.Type == typ {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
			return frame{}
		}
	}
}

// drain returns every frame already queued for c.
func drain(t *testing.T, c *Client) []frame {
	t.Helper()
	var out []frame
	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				return out
			}
			var f frame
			require.NoError(t, json.Unmarshal(b, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func decode[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Payload, &v))
	return v
}

func register(t *testing.T, h *Hub, c *Client, name string) RegisteredPayload {
	t.Helper()
	h.Submit(c, Command{Type: EventRegister, Profile: user.Profile{DisplayName: name}})
	reg := nextFrame(t, c)
	require.Equal(t, EventRegistered, reg.Type)
	require.Equal(t, EventHistory, nextFrame(t, c).Type)
	return decode[RegisteredPayload](t, reg)
}

func sendText(h *Hub, c *Client, tempID, text string) {
	h.Submit(c, Command{Type: EventSend, TempID: tempID, Content: Content{Kind: KindText, Text: text}})
}

func typesOf(frames []frame) []EventType {
	out := make([]EventType, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Type)
	}
	return out
}

func TestHub_AnnaSaysHelloToMikhail(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})

	anna := newTestClient(t, h, 64)
	mikhail := newTestClient(t, h, 64)

	annaReg := register(t, h, anna, "Anna")
	mikhailReg := register(t, h, mikhail, "Mikhail")
	req.Len(mikhailReg.Online, 2)
	req.Equal(annaReg.UserID, mikhailReg.Online[0].ID)

	joined := decode[PresencePayload](t, waitFor(t, anna, EventPresence))
	req.Equal(mikhailReg.UserID, joined.UserID)
	req.True(joined.Online)

	sendText(h, anna, "tmp-1", "hello")

	received := decode[MessageReceivedPayload](t, waitFor(t, mikhail, EventMessageReceived))
	req.Equal("Anna", received.Message.SenderName)
	req.Equal(annaReg.UserID, received.Message.SenderID)
	req.Equal("hello", received.Message.Content.Text)

	ack := decode[SendAckPayload](t, nextFrame(t, anna))
	req.Equal("tmp-1", ack.TempID)
	req.Equal(received.Message.ID, ack.Message.ID)
	req.Equal(received.Message.CreatedAt, ack.Message.CreatedAt)
	req.Equal(StatusSent, ack.Message.Status)

	status := nextFrame(t, anna)
	req.Equal(EventStatusUpdate, status.Type)
	req.Equal(StatusUpdatePayload{MessageID: ack.Message.ID, Status: StatusDelivered}, decode[StatusUpdatePayload](t, status))

	settle(t, h)
	req.NotContains(typesOf(drain(t, anna)), EventMessageReceived)
}

func TestHub_SendWithoutRegistrationIsRejected(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})
	c := newTestClient(t, h, 16)

	sendText(h, c, "tmp-1", "hello")
	h.Submit(c, Command{Type: EventTyping, IsTyping: true})
	h.Submit(c, Command{Type: EventReadAck, MessageID: "m"})
	// A decoding failure on an unregistered connection still reports NotRegistered.
	h.Submit(c, Command{Type: EventSend, Err: errs.NewError(errs.ErrInvalidJSONFormat)})

	for _, event := range []EventType{EventSend, EventTyping, EventReadAck, EventSend} {
		f := nextFrame(t, c)
		req.Equal(EventError, f.Type)
		rejection := decode[ErrorPayload](t, f)
		req.Equal(errs.ErrNotRegistered, rejection.Code)
		req.Equal(event, rejection.Event)
	}

	msgs, err := h.Messages(context.Background())
	req.NoError(err)
	req.Empty(msgs)
}

func TestHub_RejectsSecondRegister(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})
	c := newTestClient(t, h, 16)

	register(t, h, c, "Anna")
	h.Submit(c, Command{Type: EventRegister, Profile: user.Profile{DisplayName: "Anna"}})

	rejection := decode[ErrorPayload](t, nextFrame(t, c))
	req.Equal(errs.ErrAlreadyRegistered, rejection.Code)
	req.Equal(EventRegister, rejection.Event)

	online, err := h.Online(context.Background())
	req.NoError(err)
	req.Len(online, 1)
}

func TestHub_SecondRegisterWithInvalidProfileIsAlreadyRegistered(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})
	c := newTestClient(t, h, 16)

	register(t, h, c, "Anna")
	h.Submit(c, Command{Type: EventRegister, Err: errs.NewError(errs.ErrInvalidParams)})

	rejection := decode[ErrorPayload](t, nextFrame(t, c))
	req.Equal(errs.ErrAlreadyRegistered, rejection.Code)
}

func TestHub_InvalidContentIsRejectedWithTempID(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{MaxContentBytes: 10})
	c := newTestClient(t, h, 16)
	register(t, h, c, "Anna")

	sendText(h, c, "tmp-9", "this is far too long")

	rejection := decode[ErrorPayload](t, nextFrame(t, c))
	req.Equal(errs.ErrMessageContentTooLong, rejection.Code)
	req.Equal("tmp-9", rejection.TempID)

	msgs, err := h.Messages(context.Background())
	req.NoError(err)
	req.Empty(msgs)
}

func TestHub_LateRegistrantGetsHistoryThenLive(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})

	anna := newTestClient(t, h, 64)
	register(t, h, anna, "Anna")

	var ids []string
	for i := range 3 {
		sendText(h, anna, "", fmt.Sprintf("m%d", i+1))
		ack := decode[SendAckPayload](t, waitFor(t, anna, EventSendAck))
		ids = append(ids, ack.Message.ID)
	}

	late := newTestClient(t, h, 64)
	h.Submit(late, Command{Type: EventRegister, Profile: user.Profile{DisplayName: "Late"}})
	req.Equal(EventRegistered, nextFrame(t, late).Type)

	history := decode[HistoryPayload](t, nextFrame(t, late))
	var historyIDs []string
	for _, m := range history.Messages {
		historyIDs = append(historyIDs, m.ID)
	}
	req.Equal(ids, historyIDs)

	sendText(h, anna, "", "m4")
	live := decode[MessageReceivedPayload](t, waitFor(t, late, EventMessageReceived))
	req.Equal("m4", live.Message.Content.Text)

	settle(t, h)
	req.NotContains(typesOf(drain(t, late)), EventMessageReceived)
}

func TestHub_PerRecipientOrdering(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})

	anna := newTestClient(t, h, 512)
	bob := newTestClient(t, h, 512)
	register(t, h, anna, "Anna")
	register(t, h, bob, "Bob")

	const n = 100
	for i := range n {
		sendText(h, anna, "", fmt.Sprintf("%d", i))
	}

	var last uint64
	for i := range n {
		m := decode[MessageReceivedPayload](t, waitFor(t, bob, EventMessageReceived)).Message
		req.Equal(fmt.Sprintf("%d", i), m.Content.Text)
		req.Greater(m.Seq, last)
		last = m.Seq
	}
}

func TestHub_ReplayMarksBacklogDelivered(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})

	anna := newTestClient(t, h, 64)
	register(t, h, anna, "Anna")

	// Nobody else is online, so the messages stay sent.
	var ids []string
	for _, text := range []string{"anyone?", "hello?"} {
		sendText(h, anna, "", text)
		ack := decode[SendAckPayload](t, nextFrame(t, anna))
		req.Equal(StatusSent, ack.Message.Status)
		ids = append(ids, ack.Message.ID)
	}
	settle(t, h)
	req.Empty(drain(t, anna))

	bob := newTestClient(t, h, 64)
	register(t, h, bob, "Bob")

	status := nextFrame(t, anna)
	req.Equal(EventStatusUpdate, status.Type)
	req.Equal(StatusUpdatePayload{MessageID: ids[1], MessageIDs: ids, Status: StatusDelivered}, decode[StatusUpdatePayload](t, status))
	req.Equal(EventPresence, nextFrame(t, anna).Type)

	msgs, err := h.Messages(context.Background())
	req.NoError(err)
	for _, m := range msgs {
		req.Equal(StatusDelivered, m.Status)
	}

	// A second replay finds nothing left at sent.
	carol := newTestClient(t, h, 64)
	register(t, h, carol, "Carol")
	req.Equal(EventPresence, nextFrame(t, anna).Type)
	settle(t, h)
	req.Empty(drain(t, anna))
}

func TestHub_ReplayMarksDeliveredWhileSenderOffline(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})

	anna := newTestClient(t, h, 64)
	register(t, h, anna, "Anna")
	sendText(h, anna, "", "note to self")
	waitFor(t, anna, EventSendAck)

	// The sender is gone; the status still advances, it just has nobody to report to.
	h.Disconnect(anna)
	bob := newTestClient(t, h, 64)
	register(t, h, bob, "Bob")

	msgs, err := h.Messages(context.Background())
	req.NoError(err)
	req.Equal(StatusDelivered, msgs[0].Status)
	settle(t, h)
	req.Empty(drain(t, bob))
}

func TestHub_ReadAckReportsRead(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})

	anna := newTestClient(t, h, 64)
	bob := newTestClient(t, h, 64)
	register(t, h, anna, "Anna")
	register(t, h, bob, "Bob")
	waitFor(t, anna, EventPresence)

	sendText(h, anna, "tmp", "hi bob")
	msg := decode[SendAckPayload](t, nextFrame(t, anna)).Message
	delivered := decode[StatusUpdatePayload](t, nextFrame(t, anna))
	req.Equal(StatusUpdatePayload{MessageID: msg.ID, Status: StatusDelivered}, delivered)
	waitFor(t, bob, EventMessageReceived)

	h.Submit(bob, Command{Type: EventReadAck, MessageID: msg.ID})

	read := decode[StatusUpdatePayload](t, nextFrame(t, anna))
	req.Equal(StatusUpdatePayload{MessageID: msg.ID, Status: StatusRead}, read)

	// Repeated and self acknowledgements change nothing.
	h.Submit(bob, Command{Type: EventReadAck, MessageID: msg.ID})
	h.Submit(anna, Command{Type: EventReadAck, MessageID: msg.ID})
	settle(t, h)
	req.Empty(drain(t, anna))
	req.Empty(drain(t, bob))

	msgs, err := h.Messages(context.Background())
	req.NoError(err)
	req.Equal(StatusRead, msgs[0].Status)
}

func TestHub_ReadAckForUnknownMessage(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{})

	bob := newTestClient(t, h, 16)
	register(t, h, bob, "Bob")

	h.Submit(bob, Command{Type: EventReadAck, MessageID: "missing"})

	rejection := decode[ErrorPayload](t, nextFrame(t, bob))
	req.Equal(errs.ErrUnknownMessage, rejection.Code)
	req.Equal(EventReadAck, rejection.Event)
}

func TestHub_DisconnectMarksOffline(t *testing.T) {
	req := require.New(t)

	var mu sync.Mutex
	now := time.UnixMilli(1_760_000_000_000)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	h := newTestHub(t, Options{Now: clock})

	anna := newTestClient(t, h, 64)
	bob := newTestClient(t, h, 64)
	register(t, h, anna, "Anna")
	bobReg := register(t, h, bob, "Bob")
	waitFor(t, anna, EventPresence)

	mu.Lock()
	now = now.Add(time.Minute)
	disconnectedAt := now
	mu.Unlock()

	h.Disconnect(bob)

	left := decode[PresencePayload](t, waitFor(t, anna, EventPresence))
	req.Equal(bobReg.UserID, left.UserID)
	req.False(left.Online)
	req.Equal(disconnectedAt.UnixMilli(), left.LastSeenAt)

	p, err := h.PresenceOf(context.Background(), bobReg.UserID)
	req.NoError(err)
	req.Equal(user.Offline, p.State)
	req.NotNil(p.LastSeenAt)
	req.False(p.LastSeenAt.Before(disconnectedAt))

	var registered bool
	req.NoError(h.Do(context.Background(), func() { _, registered = h.registry.Lookup(bob.id) }))
	req.False(registered)

	_, open := <-bob.send
	for open {
		_, open = <-bob.send
	}

	// A second disconnect for the same client is ignored.
	h.Disconnect(bob)
	settle(t, h)
	req.Empty(drain(t, anna))
}

func TestHub_SlowPeerIsDropped(t *testing.T) {
	req := require.New(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	h := newTestHub(t, Options{Metrics: metrics})

	anna := newTestClient(t, h, 64)
	register(t, h, anna, "Anna")

	// Room for registered, history and exactly one message.
	slow := newTestClient(t, h, 3)
	h.Submit(slow, Command{Type: EventRegister, Profile: user.Profile{DisplayName: "Slow"}})
	slowID := decode[PresencePayload](t, waitFor(t, anna, EventPresence)).UserID

	sendText(h, anna, "", "one")
	sendText(h, anna, "", "two")

	left := decode[PresencePayload](t, waitFor(t, anna, EventPresence))
	req.Equal(slowID, left.UserID)
	req.False(left.Online)

	online, err := h.Online(context.Background())
	req.NoError(err)
	req.Len(online, 1)

	var got []EventType
	for b := range slow.send {
		var f frame
		req.NoError(json.Unmarshal(b, &f))
		got = append(got, f.Type)
	}
	req.Equal([]EventType{EventRegistered, EventHistory, EventMessageReceived}, got)

	req.Equal(1.0, testutil.ToFloat64(metrics.PeerUnreachable))
	req.Equal(1.0, testutil.ToFloat64(metrics.Sessions))
	req.Equal(1.0, testutil.ToFloat64(metrics.Connections))
}

func TestHub_TypingExpiresExactlyOnce(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{TypingTimeout: 100 * time.Millisecond})

	anna := newTestClient(t, h, 64)
	bob := newTestClient(t, h, 64)
	annaReg := register(t, h, anna, "Anna")
	register(t, h, bob, "Bob")

	h.Submit(anna, Command{Type: EventTyping, IsTyping: true})

	on := decode[TypingPayload](t, nextFrame(t, bob))
	req.Equal(TypingPayload{UserID: annaReg.UserID, IsTyping: true}, on)

	off := decode[TypingPayload](t, nextFrame(t, bob))
	req.Equal(TypingPayload{UserID: annaReg.UserID, IsTyping: false}, off)

	time.Sleep(300 * time.Millisecond)
	settle(t, h)
	req.Empty(drain(t, bob))
}

func TestHub_KeystrokesKeepTypingAlive(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{TypingTimeout: 200 * time.Millisecond})

	anna := newTestClient(t, h, 64)
	bob := newTestClient(t, h, 64)
	register(t, h, anna, "Anna")
	register(t, h, bob, "Bob")

	for range 20 {
		h.Submit(anna, Command{Type: EventTyping, IsTyping: true})
		time.Sleep(25 * time.Millisecond)
	}
	settle(t, h)

	frames := drain(t, bob)
	req.Len(frames, 1)
	req.True(decode[TypingPayload](t, frames[0]).IsTyping)

	off := decode[TypingPayload](t, nextFrame(t, bob))
	req.False(off.IsTyping)
}

func TestHub_SendAndDisconnectCancelTyping(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, Options{TypingTimeout: time.Hour})

	anna := newTestClient(t, h, 64)
	bob := newTestClient(t, h, 64)
	register(t, h, anna, "Anna")
	register(t, h, bob, "Bob")

	h.Submit(anna, Command{Type: EventTyping, IsTyping: true})
	sendText(h, anna, "", "done typing")
	settle(t, h)

	req.Equal([]EventType{EventTyping, EventTyping, EventMessageReceived}, typesOf(drain(t, bob)))

	h.Submit(anna, Command{Type: EventTyping, IsTyping: true})
	h.Disconnect(anna)
	settle(t, h)

	frames := drain(t, bob)
	req.Equal([]EventType{EventTyping, EventTyping, EventPresence}, typesOf(frames))
	req.False(decode[TypingPayload](t, frames[1]).IsTyping)

	var active int
	req.NoError(h.Do(context.Background(), func() { active = len(h.typing.active) }))
	req.Zero(active)
}

type recordingArchiver struct {
	mu   sync.Mutex
	msgs []Message
}

func (a *recordingArchiver) Archive(m Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, m)
}

func TestHub_EvictedMessagesAreArchived(t *testing.T) {
	req := require.New(t)
	archiver := &recordingArchiver{}
	h := newTestHub(t, Options{HistoryLimit: 2, Archiver: archiver})

	anna := newTestClient(t, h, 64)
	register(t, h, anna, "Anna")

	for _, text := range []string{"m1", "m2", "m3"} {
		sendText(h, anna, "", text)
	}
	settle(t, h)

	archiver.mu.Lock()
	req.Len(archiver.msgs, 1)
	req.Equal("m1", archiver.msgs[0].Content.Text)
	evictedID := archiver.msgs[0].ID
	archiver.mu.Unlock()

	msgs, err := h.Messages(context.Background())
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal("m2", msgs[0].Content.Text)

	bob := newTestClient(t, h, 64)
	register(t, h, bob, "Bob")
	h.Submit(bob, Command{Type: EventReadAck, MessageID: evictedID})
	req.Equal(errs.ErrUnknownMessage, decode[ErrorPayload](t, nextFrame(t, bob)).Code)
}

func TestHub_StopClosesClients(t *testing.T) {
	req := require.New(t)
	h := NewHub(Options{})
	go h.Run()

	c := newTestClient(t, h, 16)
	register(t, h, c, "Anna")
	h.Submit(c, Command{Type: EventTyping, IsTyping: true})
	settle(t, h)

	h.Stop()
	h.Stop()

	_, open := <-c.send
	req.False(open)
	req.ErrorIs(h.Connect(newClientForStoppedHub(h)), ErrHubStopped)
	req.ErrorIs(h.Do(context.Background(), func() {}), ErrHubStopped)
}

func newClientForStoppedHub(h *Hub) *Client {
	return &Client{id: "late", hub: h, send: make(chan []byte, 1), logger: zerolog.Nop()}
}
