package chat

import (
	"relaychat/internal/pkg/errs"
)

// Delivery advances the status of messages held in a MessageLog.
// Transitions are monotonic: sent, delivered, read. read is terminal.
type Delivery struct {
	log *MessageLog
}

func NewDelivery(log *MessageLog) *Delivery {
	return &Delivery{log: log}
}

// advance moves m forward to target and returns every status it passed through, in order.
// It returns nil when m is already at or past target.
func advance(m *Message, target Status) []Status {
	if m.Status >= target {
		return nil
	}
	steps := make([]Status, 0, target-m.Status)
	for s := m.Status + 1; s <= target; s++ {
		steps = append(steps, s)
	}
	m.Status = target
	return steps
}

// MarkDelivered records that msg reached at least one peer's outbound queue.
func (d *Delivery) MarkDelivered(msg *Message) bool {
	return len(advance(msg, StatusDelivered)) > 0
}

// MarkRead applies a read acknowledgement from readerID.
// It returns the transitions to report to the sender; acks by the sender itself and
// repeated acks produce none. An id that is not in the log fails with UnknownMessage.
func (d *Delivery) MarkRead(messageID, readerID string) (*Message, []Status, error) {
	msg, ok := d.log.Get(messageID)
	if !ok {
		return nil, nil, errs.NewError(errs.ErrUnknownMessage, messageID)
	}
	if msg.SenderID == readerID {
		return msg, nil, nil
	}
	return msg, advance(msg, StatusRead), nil
}
