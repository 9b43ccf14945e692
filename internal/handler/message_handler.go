package handler

import (
	"net/http"
	"strconv"

	"relaychat/internal/app/chat"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

// MessagesResponse is the body of GET /api/messages.
type MessagesResponse struct {
	Messages []chat.Message `json:"messages"`
}

// HandleListMessages returns the retained message log in insertion order.
func HandleListMessages(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := deps.Hub.Messages(r.Context())
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}
		resp.RespondSuccess(w, r, MessagesResponse{Messages: msgs})
	}
}

// HandleArchivePage returns one newest-first page of messages evicted from the log.
// Query parameters: cursor (from the previous page's nextCursor) and limit.
func HandleArchivePage(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Archive == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrArchiveUnavailable))
			return
		}

		query := r.URL.Query()

		var cursor uint64
		if raw := query.Get("cursor"); raw != "" {
			parsed, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			cursor = parsed
		}

		var limit int
		if raw := query.Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			limit = parsed
		}

		page, err := deps.Archive.Page(r.Context(), cursor, limit)
		if err != nil {
			logx.Error(err, "Failed to read archive page", "cursor", cursor)
			resp.RespondError(w, r, errs.NewError(errs.ErrArchiveUnavailable))
			return
		}
		resp.RespondSuccess(w, r, page)
	}
}
