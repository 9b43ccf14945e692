package chat

import (
	"time"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/randx"
)

// MessageLog is the single ordered log of the room, bounded to a fixed capacity.
// When full, appending evicts the oldest message. It is owned by the Hub dispatcher.
type MessageLog struct {
	buf   []*Message
	head  int // index of the oldest message
	size  int
	index map[string]*Message
	seq   uint64
}

// NewMessageLog creates a log retaining at most capacity messages.
func NewMessageLog(capacity int) *MessageLog {
	if capacity < 1 {
		capacity = 1
	}
	return &MessageLog{
		buf:   make([]*Message, capacity),
		index: make(map[string]*Message, capacity),
	}
}

// Append stores a new message from sender with status sent.
// It returns the stored message and, when the log was full, the evicted oldest message.
func (l *MessageLog) Append(sender *user.Session, content Content, now time.Time) (*Message, *Message) {
	l.seq++
	msg := &Message{
		ID:           randx.MessageID(),
		Seq:          l.seq,
		SenderID:     sender.ID,
		SenderName:   sender.DisplayName,
		SenderAvatar: sender.AvatarRef,
		Content:      content,
		CreatedAt:    now.UnixMilli(),
		Status:       StatusSent,
	}

	var evicted *Message
	if l.size == len(l.buf) {
		evicted = l.buf[l.head]
		delete(l.index, evicted.ID)
		l.buf[l.head] = msg
		l.head = (l.head + 1) % len(l.buf)
	} else {
		l.buf[(l.head+l.size)%len(l.buf)] = msg
		l.size++
	}
	l.index[msg.ID] = msg

	return msg, evicted
}

// Snapshot returns copies of the retained messages in insertion order.
func (l *MessageLog) Snapshot() []Message {
	out := make([]Message, 0, l.size)
	for i := range l.size {
		out = append(out, *l.buf[(l.head+i)%len(l.buf)])
	}
	return out
}

// Get returns the retained message with the given id.
func (l *MessageLog) Get(id string) (*Message, bool) {
	m, ok := l.index[id]
	return m, ok
}

func (l *MessageLog) Len() int {
	return l.size
}

func (l *MessageLog) Cap() int {
	return len(l.buf)
}
