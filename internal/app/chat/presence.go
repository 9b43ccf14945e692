package chat

import (
	"time"

	"relaychat/internal/app/user"
)

// defaultLastSeenCapacity bounds how many offline users keep a last-seen timestamp.
const defaultLastSeenCapacity = 10000

// Presence derives online/offline state from registry transitions and remembers
// when each user was last seen. It is owned by the Hub dispatcher.
type Presence struct {
	online   map[string]struct{}
	lastSeen map[string]time.Time

	// offlineOrder lists users with a last-seen entry, oldest first.
	offlineOrder []string
	capacity     int
}

func NewPresence(capacity int) *Presence {
	if capacity <= 0 {
		capacity = defaultLastSeenCapacity
	}
	return &Presence{
		online:   make(map[string]struct{}),
		lastSeen: make(map[string]time.Time),
		capacity: capacity,
	}
}

// MarkOnline records that userID has a live Session.
func (p *Presence) MarkOnline(userID string) {
	p.online[userID] = struct{}{}
}

// MarkOffline records that userID's Session was removed at the given time.
func (p *Presence) MarkOffline(userID string, at time.Time) {
	delete(p.online, userID)

	// User ids are minted per registration and never reused, so a user goes offline once
	// and first-disconnect order is also last-seen order. Reusing ids would break eviction order.
	if _, seen := p.lastSeen[userID]; !seen {
		p.offlineOrder = append(p.offlineOrder, userID)
	}
	p.lastSeen[userID] = at

	for len(p.offlineOrder) > p.capacity {
		delete(p.lastSeen, p.offlineOrder[0])
		p.offlineOrder = p.offlineOrder[1:]
	}
}

// State returns the presence of userID. An unknown user is offline with no last-seen time.
func (p *Presence) State(userID string) user.Presence {
	if _, ok := p.online[userID]; ok {
		return user.Presence{UserID: userID, State: user.Online}
	}

	state := user.Presence{UserID: userID, State: user.Offline}
	if at, ok := p.lastSeen[userID]; ok {
		state.LastSeenAt = &at
	}
	return state
}
