package fetch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
	"github.com/lueurxax/telegram-backup-bot/internal/peers"
	"github.com/lueurxax/telegram-backup-bot/internal/tgutil"
)

var errNetwork = errors.New("network down")

const testChatID = int64(-1001234567890)

type mockAPI struct {
	API

	channelMessages func(ids []tg.InputMessageClass) (tg.MessagesMessagesClass, error)
	history         func(req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
	channelCalls    atomic.Int32
	historyCalls    atomic.Int32
}

func (m *mockAPI) ChannelsGetMessages(_ context.Context, req *tg.ChannelsGetMessagesRequest) (tg.MessagesMessagesClass, error) {
	m.channelCalls.Add(1)
	return m.channelMessages(req.ID)
}

func (m *mockAPI) MessagesGetMessages(_ context.Context, ids []tg.InputMessageClass) (tg.MessagesMessagesClass, error) {
	return m.channelMessages(ids)
}

func (m *mockAPI) MessagesGetHistory(_ context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
	m.historyCalls.Add(1)

	if m.history == nil {
		return &tg.MessagesMessages{}, nil
	}

	return m.history(req)
}

type staticPeers struct {
	cache *peers.Cache
	ok    bool
}

func (s staticPeers) Lookup(_ context.Context, chatID int64) (peers.Peer, bool) {
	if !s.ok {
		return peers.Peer{}, false
	}

	id, _ := tgutil.ChannelIDOf(chatID)

	return peers.Peer{ChatID: chatID, Kind: tgutil.KindChannel, Input: &tg.InputPeerChannel{ChannelID: id, AccessHash: 1}}, true
}

func (s staticPeers) Cache() *peers.Cache { return s.cache }

func newTestFetcher(t *testing.T, api API, ok bool) *Fetcher {
	t.Helper()

	cache, err := peers.NewCache(10)
	require.NoError(t, err)

	logger := zerolog.Nop()

	return New(api, staticPeers{cache: cache, ok: ok}, tgutil.FloodSleeper{
		Sleep: func(context.Context, time.Duration) error { return nil },
	}, &logger)
}

func channelMessages(msgs ...tg.MessageClass) *tg.MessagesChannelMessages {
	return &tg.MessagesChannelMessages{Messages: msgs}
}

func TestFetch_FoundByID(t *testing.T) {
	api := &mockAPI{channelMessages: func(ids []tg.InputMessageClass) (tg.MessagesMessagesClass, error) {
		require.Len(t, ids, 1)
		return channelMessages(&tg.Message{ID: 10, Message: "hi"}), nil
	}}

	res := newTestFetcher(t, api, true).Fetch(context.Background(), testChatID, 10)

	require.True(t, res.Found())
	assert.Equal(t, "hi", res.Message.Message)
	assert.Equal(t, int32(0), api.historyCalls.Load())
}

func TestFetch_EmptyFallsBackToHistory(t *testing.T) {
	api := &mockAPI{
		channelMessages: func([]tg.InputMessageClass) (tg.MessagesMessagesClass, error) {
			return channelMessages(&tg.MessageEmpty{ID: 10}), nil
		},
		history: func(req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
			assert.Equal(t, 11, req.OffsetID)
			assert.Equal(t, 1, req.Limit)

			return &tg.MessagesChannelMessages{Messages: []tg.MessageClass{&tg.Message{ID: 10}}}, nil
		},
	}

	res := newTestFetcher(t, api, true).Fetch(context.Background(), testChatID, 10)

	require.True(t, res.Found())
	assert.Equal(t, int32(1), api.historyCalls.Load())
}

func TestFetch_NotFound(t *testing.T) {
	api := &mockAPI{
		channelMessages: func([]tg.InputMessageClass) (tg.MessagesMessagesClass, error) {
			return channelMessages(&tg.MessageEmpty{ID: 10}), nil
		},
		history: func(*tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
			// nearest older message, not the requested one
			return channelMessages(&tg.Message{ID: 9}), nil
		},
	}

	res := newTestFetcher(t, api, true).Fetch(context.Background(), testChatID, 10)

	assert.Equal(t, StatusNotFound, res.Status)
	require.ErrorIs(t, res.Err, errs.ErrMessageNotFound)
}

func TestFetch_TransportErrorIsFailed(t *testing.T) {
	api := &mockAPI{
		channelMessages: func([]tg.InputMessageClass) (tg.MessagesMessagesClass, error) { return nil, errNetwork },
		history: func(*tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
			return nil, errNetwork
		},
	}

	res := newTestFetcher(t, api, true).Fetch(context.Background(), testChatID, 10)

	assert.Equal(t, StatusFailed, res.Status)
	assert.False(t, res.Found())
}

func TestFetch_FloodWaitRetried(t *testing.T) {
	calls := 0
	api := &mockAPI{channelMessages: func([]tg.InputMessageClass) (tg.MessagesMessagesClass, error) {
		calls++
		if calls == 1 {
			return nil, tgerr.New(420, "FLOOD_WAIT_1")
		}

		return channelMessages(&tg.Message{ID: 3}), nil
	}}

	res := newTestFetcher(t, api, true).Fetch(context.Background(), testChatID, 3)

	require.True(t, res.Found())
	assert.Equal(t, 2, calls)
}

func TestFetch_PeerUnresolved(t *testing.T) {
	res := newTestFetcher(t, &mockAPI{}, false).Fetch(context.Background(), testChatID, 3)

	assert.Equal(t, StatusFailed, res.Status)
	require.ErrorIs(t, res.Err, errs.ErrPeerNotResolved)
}

func TestTopicOf(t *testing.T) {
	tests := []struct {
		name   string
		msg    *tg.Message
		want   int
		wantOK bool
	}{
		{name: "nil", msg: nil},
		{name: "no reply", msg: &tg.Message{ID: 1}},
		{name: "reply in topic", msg: &tg.Message{ReplyTo: &tg.MessageReplyHeader{ReplyToMsgID: 50, ReplyToTopID: 7, ForumTopic: true}}, want: 7, wantOK: true},
		{name: "top level in topic", msg: &tg.Message{ReplyTo: &tg.MessageReplyHeader{ReplyToMsgID: 7, ForumTopic: true}}, want: 7, wantOK: true},
		{name: "plain reply", msg: &tg.Message{ReplyTo: &tg.MessageReplyHeader{ReplyToMsgID: 7}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TopicOf(tt.msg)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetcher_TopicRawFallback(t *testing.T) {
	api := &mockAPI{channelMessages: func([]tg.InputMessageClass) (tg.MessagesMessagesClass, error) {
		return channelMessages(&tg.Message{ID: 20, ReplyTo: &tg.MessageReplyHeader{ReplyToMsgID: 7, ForumTopic: true}}), nil
	}}

	topic, ok := newTestFetcher(t, api, true).Topic(context.Background(), testChatID, &tg.Message{ID: 20})

	require.True(t, ok)
	assert.Equal(t, 7, topic)
	assert.Equal(t, int32(1), api.channelCalls.Load())
}
