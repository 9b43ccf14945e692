package chat

import (
	"testing"

	"github.com/stretchr/testify/require"

	"relaychat/internal/pkg/errs"
)

func TestDecodeCommand(t *testing.T) {
	req := require.New(t)

	cmd := DecodeCommand([]byte(`{"type":"register","payload":{"displayName":"Anna","avatarRef":"cat"}}`))
	req.Nil(cmd.Err)
	req.Equal(EventRegister, cmd.Type)
	req.Equal("Anna", cmd.Profile.DisplayName)

	cmd = DecodeCommand([]byte(`{"type":"send","tempId":"t-1","payload":{"kind":"text","text":"hello"}}`))
	req.Nil(cmd.Err)
	req.Equal("t-1", cmd.TempID)
	req.Equal(KindText, cmd.Content.Kind)
	req.Equal("hello", cmd.Content.Text)

	cmd = DecodeCommand([]byte(`{"type":"typing","payload":{"isTyping":true}}`))
	req.Nil(cmd.Err)
	req.True(cmd.IsTyping)

	cmd = DecodeCommand([]byte(`{"type":"readAck","payload":{"messageId":"m-1"}}`))
	req.Nil(cmd.Err)
	req.Equal("m-1", cmd.MessageID)
}

func TestDecodeCommand_Rejections(t *testing.T) {
	cases := map[string]struct {
		frame string
		code  int
	}{
		"not json":        {`{"type":`, errs.ErrInvalidJSONFormat},
		"unknown event":   {`{"type":"dance"}`, errs.ErrUnsupportedEvent},
		"missing payload": {`{"type":"typing"}`, errs.ErrInvalidJSONFormat},
		"unknown field":   {`{"type":"send","payload":{"kind":"text","text":"x","extra":1}}`, errs.ErrInvalidJSONFormat},
		"bad kind":        {`{"type":"send","payload":{"kind":"video","text":"x"}}`, errs.ErrInvalidParams},
		"empty ack":       {`{"type":"readAck","payload":{"messageId":""}}`, errs.ErrInvalidParams},
		"bad attachment":  {`{"type":"send","payload":{"kind":"image","attachment":{"fileKey":"attachments/a.png","fileName":"a.png","mimeType":"image/png","fileSize":0}}}`, errs.ErrInvalidParams},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cmd := DecodeCommand([]byte(tc.frame))
			require.NotNil(t, cmd.Err)
			require.Equal(t, tc.code, cmd.Err.Code)
		})
	}
}

func TestCommand_RequiresSession(t *testing.T) {
	req := require.New(t)

	req.False(Command{Type: EventRegister}.requiresSession())
	req.False(Command{Type: "dance"}.requiresSession())
	req.True(Command{Type: EventSend}.requiresSession())
	req.True(Command{Type: EventTyping}.requiresSession())
	req.True(Command{Type: EventReadAck}.requiresSession())
}
