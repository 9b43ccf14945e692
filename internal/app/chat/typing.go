package chat

import "time"

// DefaultTypingTimeout is how long a typing signal stays active without a new keystroke.
const DefaultTypingTimeout = 1000 * time.Millisecond

type typingTimer struct {
	timer *time.Timer
	gen   uint64
}

// Typing tracks which connections are composing a message.
//
// Each Start arms a timer that calls expire with a generation number instead of mutating
// state itself. The owner feeds that call back through Expire on its own goroutine, so a
// timer that fired after being superseded or stopped is recognized by its stale generation.
type Typing struct {
	timeout time.Duration
	expire  func(connID string, gen uint64)
	active  map[string]*typingTimer
	gen     uint64
}

func NewTyping(timeout time.Duration, expire func(connID string, gen uint64)) *Typing {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &Typing{
		timeout: timeout,
		expire:  expire,
		active:  make(map[string]*typingTimer),
	}
}

// Start marks connID as typing and re-arms its timer.
// It reports true only when connID was not already typing and peers must be notified.
func (t *Typing) Start(connID string) bool {
	t.gen++
	gen := t.gen

	timer := time.AfterFunc(t.timeout, func() { t.expire(connID, gen) })

	if cur, ok := t.active[connID]; ok {
		cur.timer.Stop()
		cur.timer, cur.gen = timer, gen
		return false
	}

	t.active[connID] = &typingTimer{timer: timer, gen: gen}
	return true
}

// Stop cancels connID's signal. It reports true when connID was typing.
func (t *Typing) Stop(connID string) bool {
	cur, ok := t.active[connID]
	if !ok {
		return false
	}
	cur.timer.Stop()
	delete(t.active, connID)
	return true
}

// Expire handles a fired timer. It reports true when gen is still current and the
// signal was cleared.
func (t *Typing) Expire(connID string, gen uint64) bool {
	cur, ok := t.active[connID]
	if !ok || cur.gen != gen {
		return false
	}
	delete(t.active, connID)
	return true
}

// IsTyping reports whether connID has an active signal.
func (t *Typing) IsTyping(connID string) bool {
	_, ok := t.active[connID]
	return ok
}

// StopAll cancels every outstanding timer.
func (t *Typing) StopAll() {
	for connID, cur := range t.active {
		cur.timer.Stop()
		delete(t.active, connID)
	}
}
