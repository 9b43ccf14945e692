/*
Package user contains core data structures related to participant identity and presence.

It defines the Session created when a connection registers, the Profile a client submits to
register, and the Presence view derived from Session existence and last-seen timestamps.
*/
package user

import "time"

// Profile is the identity information a client submits with a register event.
type Profile struct {
	// DisplayName is the name shown next to the participant's messages.
	DisplayName string `json:"displayName" validate:"required,min=1,max=64"`

	// ContactEmail is kept server-side only and is never relayed to peers.
	ContactEmail string `json:"contactEmail,omitempty" validate:"omitempty,email,max=254"`

	// AvatarRef is an opaque avatar reference (URL or preset key).
	AvatarRef string `json:"avatarRef,omitempty" validate:"omitempty,max=512"`
}

// Session is the live binding between a transport connection and a registered identity.
type Session struct {
	// ConnID is the opaque identifier of the owning connection.
	ConnID string `json:"-"`

	// ID is the generated unique user id.
	ID string `json:"id"`

	DisplayName  string `json:"displayName"`
	AvatarRef    string `json:"avatarRef,omitempty"`
	ContactEmail string `json:"-"`

	// RegisteredAt is the time the register command completed.
	RegisteredAt time.Time `json:"registeredAt"`
}

// Public is the subset of a Session that may be shown to peers.
type Public struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarRef   string `json:"avatarRef,omitempty"`
}

// Public returns the peer-visible view of the session.
func (s *Session) Public() Public {
	return Public{ID: s.ID, DisplayName: s.DisplayName, AvatarRef: s.AvatarRef}
}

// PresenceState is either online or offline.
type PresenceState string

const (
	Online  PresenceState = "online"
	Offline PresenceState = "offline"
)

// Presence is the derived online/offline view of a user.
// LastSeenAt is nil for an online user and for a user never seen offline.
type Presence struct {
	UserID     string        `json:"userId"`
	State      PresenceState `json:"state"`
	LastSeenAt *time.Time    `json:"lastSeenAt,omitempty"`
}
