package telegram

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"predictbot/internal/transport"
	logx "predictbot/pkg/logx"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		unreachable bool
	}{
		{"blocked", tele.ErrBlockedByUser, true},
		{"deactivated", fmt.Errorf("send: %w", tele.ErrUserIsDeactivated), true},
		{"chat not found", tele.ErrChatNotFound, true},
		{"kicked", tele.ErrKickedFromSuperGroup, true},
		{"description only", errors.New("telegram: Forbidden: bot was kicked from the group chat (403)"), true},
		{"flood", errors.New("telegram: Too Many Requests: retry after 5 (429)"), false},
		{"network", errors.New("dial tcp: i/o timeout"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify(tc.err)
			assert.Equal(t, tc.unreachable, errors.Is(err, transport.ErrUnreachable))
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestConvertMessage(t *testing.T) {
	m := &tele.Message{
		ID:       10,
		ThreadID: 3,
		Text:     "hi",
		Chat:     &tele.Chat{ID: -100, Type: tele.ChatSuperGroup},
		Sender:   &tele.User{ID: 5, FirstName: "Ann", Username: "ann"},
	}
	got := convertMessage(m)
	assert.Equal(t, -100, int(got.ChatID))
	assert.Equal(t, 3, got.ThreadID)
	assert.True(t, got.IsGroup)
	require.NotNil(t, got.From)
	assert.Equal(t, int64(5), got.FromID())
	assert.Equal(t, "ann", got.From.Username)

	m.Sender = nil
	m.Chat.Type = tele.ChatChannel
	got = convertMessage(m)
	assert.Nil(t, got.From)
	assert.False(t, got.IsGroup)
}

func TestSendUpdateDropsWhenFull(t *testing.T) {
	a := &Adapter{log: logx.Nop()}
	out := make(chan transport.Update, 1)
	a.out.Store((chan<- transport.Update)(out))

	a.sendUpdate(transport.Update{Kind: transport.UpdateMessage})
	a.sendUpdate(transport.Update{Kind: transport.UpdateMessage})
	assert.Len(t, out, 1)
	assert.Equal(t, uint64(1), a.droppedUpdates.Load())
}

func TestNewRejectsEmptyToken(t *testing.T) {
	_, err := New(Config{Token: "  "}, logx.Nop())
	assert.Error(t, err)
}
