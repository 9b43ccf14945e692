package chat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/randx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client.
	maxMessageSize = 32 << 10

	// upper bound for confirming an uploaded attachment with object storage.
	objectCheckTimeout = 5 * time.Second

	DefaultSendBuffer   = 256
	DefaultMessageRate  = 5
	DefaultMessageBurst = 10
)

// ObjectChecker confirms that an uploaded attachment exists in object storage.
type ObjectChecker interface {
	ObjectExists(ctx context.Context, key string) (bool, error)
}

// ClientOptions configures a Client. Zero values select defaults.
type ClientOptions struct {
	SendBuffer   int
	MessageRate  float64
	MessageBurst int

	// Objects is optional; without it attachment keys are not checked against storage.
	Objects ObjectChecker
}

// Client is one websocket connection attached to a Hub.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn

	// send queues encoded frames for WritePump. Only the hub writes to and closes it.
	send chan []byte

	// closed and unreachable are owned by the hub goroutine.
	closed      bool
	unreachable bool

	// registered is set by the hub once a Session exists for this connection.
	registered atomic.Bool

	limiter *rate.Limiter
	objects ObjectChecker

	logger zerolog.Logger
}

// NewClient wraps a websocket connection. Attach it with Hub.Connect before starting the pumps.
func NewClient(hub *Hub, conn *websocket.Conn, opts ClientOptions) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	if opts.MessageRate <= 0 {
		opts.MessageRate = DefaultMessageRate
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = DefaultMessageBurst
	}

	id := randx.ConnectionID()

	return &Client{
		id:      id,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, opts.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(opts.MessageRate), opts.MessageBurst),
		objects: opts.Objects,
		logger:  logx.Logger().With().Str("conn_id", id).Logger(),
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string {
	return c.id
}

// ReadPump reads frames from the connection and submits them to the hub.
// It detaches the client from the hub when the connection ends.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.hub.Submit(c, c.decode(frame))
	}
}

// decode turns a raw frame into a command, applying the checks that must not run on the
// dispatcher: rate limiting and the object storage lookup for attachments.
func (c *Client) decode(frame []byte) Command {
	cmd := DecodeCommand(frame)

	// Every frame costs a token, malformed ones included.
	if !c.limiter.Allow() {
		cmd.Err = errs.NewError(errs.ErrRateLimitExceeded)
		return cmd
	}

	if cmd.Err != nil {
		c.logger.Debug().Str("event", string(cmd.Type)).Int("code", cmd.Err.Code).Msg("Rejected inbound frame")
		return cmd
	}

	if cmd.Type == EventSend && c.objects != nil && c.registered.Load() {
		cmd.Err = c.checkAttachment(&cmd.Content)
	}

	return cmd
}

func (c *Client) checkAttachment(content *Content) *errs.CustomError {
	a := content.Attachment
	if a == nil || a.Validate(content.Kind) != nil {
		return nil // the hub reports the validation error
	}

	ctx, cancel := context.WithTimeout(context.Background(), objectCheckTimeout)
	defer cancel()

	exists, err := c.objects.ObjectExists(ctx, a.Key)
	if err != nil {
		c.logger.Error().Err(err).Str("file_key", a.Key).Msg("Failed to confirm attachment upload")
		return errs.NewError(errs.ErrFileStorageFailed)
	}
	if !exists {
		return errs.NewError(errs.ErrAttachmentInvalid)
	}
	return nil
}

// cleanupOnDisconnect handles the necessary cleanup steps when the client's ReadPump terminates.
func (c *Client) cleanupOnDisconnect() {
	c.logger.Debug().Msg("Client connection cleanup starting.")

	c.hub.Disconnect(c)

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// WritePump writes queued frames to the connection and keeps it alive with pings.
// It returns when the hub closes the send queue or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.writeQueuedFrame(frame, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePing() {
				return
			}
		}
	}
}

// writeQueuedFrame writes one frame pulled from the send channel.
// Returns true if the WritePump loop should continue, false if it should terminate.
func (c *Client) writeQueuedFrame(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Warn().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

func (c *Client) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}
