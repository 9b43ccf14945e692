package chat

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/randx"
	"relaychat/internal/pkg/req"
)

// maxIDAttempts bounds regeneration when a freshly drawn user id is already taken.
const maxIDAttempts = 3

// Registry maps live connections to registered Sessions.
// It is owned by the Hub dispatcher and is not safe for concurrent use.
type Registry struct {
	byConn map[string]*user.Session
	byUser map[string]string

	// ordered holds sessions in registration order.
	ordered []*user.Session

	newID func() (string, error)
}

// NewRegistry creates an empty registry that draws user ids from randx.UserID.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[string]*user.Session),
		byUser: make(map[string]string),
		newID:  randx.UserID,
	}
}

// Register creates a Session for connID. A connection may register only once.
func (r *Registry) Register(connID string, profile user.Profile, now time.Time) (*user.Session, error) {
	if _, ok := r.byConn[connID]; ok {
		return nil, errs.NewError(errs.ErrAlreadyRegistered)
	}

	profile.DisplayName = strings.TrimSpace(profile.DisplayName)
	profile.ContactEmail = strings.TrimSpace(profile.ContactEmail)
	if err := req.Validate(&profile); err != nil {
		return nil, err
	}

	id, err := r.uniqueID()
	if err != nil {
		return nil, err
	}

	session := &user.Session{
		ConnID:       connID,
		ID:           id,
		DisplayName:  profile.DisplayName,
		AvatarRef:    profile.AvatarRef,
		ContactEmail: profile.ContactEmail,
		RegisteredAt: now,
	}

	r.byConn[connID] = session
	r.byUser[id] = connID
	r.ordered = append(r.ordered, session)

	return session, nil
}

func (r *Registry) uniqueID() (string, error) {
	for range maxIDAttempts {
		id, err := r.newID()
		if err != nil {
			return "", fmt.Errorf("generate user id: %w", err)
		}
		if _, taken := r.byUser[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("generate user id: %d consecutive collisions", maxIDAttempts)
}

// Lookup returns the Session owned by connID, if any.
func (r *Registry) Lookup(connID string) (*user.Session, bool) {
	s, ok := r.byConn[connID]
	return s, ok
}

// Remove deletes the Session owned by connID. Removing an absent session is a no-op.
func (r *Registry) Remove(connID string) (*user.Session, bool) {
	s, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}

	delete(r.byConn, connID)
	delete(r.byUser, s.ID)
	r.ordered = slices.DeleteFunc(r.ordered, func(o *user.Session) bool { return o == s })

	return s, true
}

// ConnForUser returns the connection currently owning userID.
func (r *Registry) ConnForUser(userID string) (string, bool) {
	connID, ok := r.byUser[userID]
	return connID, ok
}

// Sessions returns every live session in registration order.
func (r *Registry) Sessions() []*user.Session {
	return slices.Clone(r.ordered)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	return len(r.byConn)
}
