package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"relaychat/internal/app/chat"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/limiter"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc that upgrades the request to a websocket
// and attaches the connection to the hub. Registration happens over the socket.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	clientOpts := chat.ClientOptions{
		SendBuffer:   deps.Config.SendBuffer,
		MessageRate:  deps.Config.MessageRate,
		MessageBurst: deps.Config.MessageBurst,
	}
	if deps.StorageService != nil {
		clientOpts.Objects = deps.StorageService
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !rateLimiter.Allow(r) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", logx.AnonymizeIP(limiter.ClientIP(r)))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Warn("Failed to upgrade connection to WebSocket", "error", err.Error())
			return
		}

		client := chat.NewClient(deps.Hub, conn, clientOpts)

		if err := deps.Hub.Connect(client); err != nil {
			logx.Warn("WebSocket connection rejected: hub is shutting down.", "conn_id", client.ID())
			closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
			_ = conn.Close()
			return
		}

		logx.Debug("WebSocket connection established", "conn_id", client.ID())

		go client.WritePump()
		client.ReadPump()
	}
}
