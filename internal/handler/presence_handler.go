package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/randx"
	"relaychat/internal/pkg/resp"
)

type OnlineResponse struct {
	Online []user.Public `json:"online"`
}

// HandleListPresence lists every registered session in registration order.
func HandleListPresence(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		online, err := deps.Hub.Online(r.Context())
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}
		resp.RespondSuccess(w, r, OnlineResponse{Online: online})
	}
}

// HandleUserPresence returns the presence of one user. Unknown ids are offline and never seen.
func HandleUserPresence(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		if !randx.IsValidUserID(userID) {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		presence, err := deps.Hub.PresenceOf(r.Context(), userID)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}
		resp.RespondSuccess(w, r, presence)
	}
}
