package delivery

import (
	"context"
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
)

func TestCopy_ByReference(t *testing.T) {
	api := &mockAPI{}
	e, up, _ := newEngine(api)

	msg := &tg.Message{ID: 3, Media: &tg.MessageMediaDocument{Document: &tg.Document{ID: 11, AccessHash: 22, FileReference: []byte{1}}}}

	out, err := e.Copy(context.Background(), dest, 0, msg, "new caption", nil)

	require.NoError(t, err)
	assert.Equal(t, RouteCopy, out.Route)
	assert.Empty(t, up.paths)

	input, ok := api.mediaReqs[0].Media.(*tg.InputMediaDocument)
	require.True(t, ok)

	ref, ok := input.ID.(*tg.InputDocument)
	require.True(t, ok)
	assert.Equal(t, int64(11), ref.ID)
	assert.Equal(t, "new caption", api.mediaReqs[0].Message)
	assert.Nil(t, api.mediaReqs[0].ReplyTo)
}

func TestCopy_IntoTopic(t *testing.T) {
	api := &mockAPI{}
	e, _, _ := newEngine(api)

	photo := &tg.Message{ID: 3, Media: &tg.MessageMediaPhoto{Photo: &tg.Photo{ID: 5}}}

	_, err := e.Copy(context.Background(), dest, 42, photo, "caption", nil)
	require.NoError(t, err)

	_, err = e.Copy(context.Background(), dest, 42, &tg.Message{ID: 4, Message: "text"}, "text", nil)
	require.NoError(t, err)

	want := &tg.InputReplyToMessage{ReplyToMsgID: 42, TopMsgID: 42}
	assert.Equal(t, want, api.mediaReqs[0].ReplyTo)
	assert.Equal(t, want, api.messageReqs[0].ReplyTo)
}

func TestCopy_TextMessage(t *testing.T) {
	api := &mockAPI{}
	e, _, _ := newEngine(api)

	_, err := e.Copy(context.Background(), dest, 0, &tg.Message{ID: 3, Message: "old"}, "new", nil)

	require.NoError(t, err)
	assert.Equal(t, "new", api.messageReqs[0].Message)

	_, err = e.Copy(context.Background(), dest, 0, &tg.Message{ID: 4}, " ", nil)
	require.ErrorIs(t, err, errs.ErrNoMedia)
}

func TestEdit(t *testing.T) {
	api := &mockAPI{}
	e, _, _ := newEngine(api)

	bold := []tg.MessageEntityClass{&tg.MessageEntityBold{Offset: 0, Length: 5}}

	require.NoError(t, e.Edit(context.Background(), dest, &tg.Message{ID: 8}, "fixed", bold))

	require.Len(t, api.editReqs, 1)
	assert.Equal(t, 8, api.editReqs[0].ID)
	assert.Equal(t, "fixed", api.editReqs[0].Message)
	assert.Equal(t, bold, api.editReqs[0].Entities)

	require.ErrorIs(t, e.Edit(context.Background(), dest, nil, "x", nil), errs.ErrMessageNotFound)
}

func TestForward_DropAuthor(t *testing.T) {
	api := &mockAPI{}
	e, _, _ := newEngine(api)

	from := &tg.InputPeerChannel{ChannelID: 1}

	out, err := e.Forward(context.Background(), from, dest, []int{1, 2}, true)

	require.NoError(t, err)
	assert.Equal(t, 300, out.MessageID)
	assert.True(t, api.forwardReqs[0].DropAuthor)
	assert.Len(t, api.forwardReqs[0].RandomID, 2)
	assert.Zero(t, api.forwardReqs[0].TopMsgID)
}

func TestForwardToTopic(t *testing.T) {
	api := &mockAPI{}
	e, _, _ := newEngine(api)

	_, err := e.ForwardToTopic(context.Background(), &tg.InputPeerChannel{ChannelID: 1}, dest, 42, []int{7}, true)

	require.NoError(t, err)
	assert.Equal(t, 42, api.forwardReqs[0].TopMsgID)
	assert.True(t, api.forwardReqs[0].DropAuthor)
}
