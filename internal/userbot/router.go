package userbot

import (
	"context"
	"sync"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/lueurxax/telegram-backup-bot/internal/commands"
	"github.com/lueurxax/telegram-backup-bot/internal/platform/worker"
	"github.com/lueurxax/telegram-backup-bot/internal/tgutil"
)

// CommandHandler runs one owner command.
type CommandHandler interface {
	Handle(ctx context.Context, msg commands.Message) bool
}

// EntityCache remembers the users and chats seen in updates so replies can
// address them.
type EntityCache interface {
	PutUsers(users []tg.UserClass)
	PutChats(chats []tg.ChatClass) int
}

// Router turns new-message updates into command calls. Each command runs
// in its own goroutine so a long bulk command never blocks update handling.
type Router struct {
	base     context.Context
	handler  CommandHandler
	entities EntityCache
	self     func() int64
	logger   *zerolog.Logger

	wg sync.WaitGroup
}

// NewRouter binds commands to base; commands still running when base is
// canceled see the cancellation.
func NewRouter(base context.Context, handler CommandHandler, entities EntityCache, self func() int64, logger *zerolog.Logger) *Router {
	return &Router{base: base, handler: handler, entities: entities, self: self, logger: logger}
}

// Register installs the router on d.
func (r *Router) Register(d *tg.UpdateDispatcher) {
	d.OnNewMessage(func(_ context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		r.route(e, u.Message)
		return nil
	})

	d.OnNewChannelMessage(func(_ context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		r.route(e, u.Message)
		return nil
	})
}

// Wait blocks until every started command returned.
func (r *Router) Wait() {
	r.wg.Wait()
}

func (r *Router) route(e tg.Entities, m tg.MessageClass) {
	r.remember(e)

	msg, ok := m.(*tg.Message)
	if !ok || msg.Message == "" || msg.Message[0] != '/' {
		return
	}

	cmd := commands.Message{
		ChatID:   tgutil.PeerChatID(msg.PeerID),
		SenderID: senderID(msg, r.self()),
		ID:       msg.ID,
		Text:     msg.Message,
	}

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer worker.RecoverPanic(r.logger, "command dispatch")

		r.handler.Handle(r.base, cmd)
	}()
}

func (r *Router) remember(e tg.Entities) {
	if r.entities == nil {
		return
	}

	users := make([]tg.UserClass, 0, len(e.Users))
	for _, u := range e.Users {
		users = append(users, u)
	}

	chats := make([]tg.ChatClass, 0, len(e.Chats)+len(e.Channels))
	for _, c := range e.Chats {
		chats = append(chats, c)
	}

	for _, c := range e.Channels {
		chats = append(chats, c)
	}

	r.entities.PutUsers(users)
	r.entities.PutChats(chats)
}

// senderID is the author of msg. Outgoing messages belong to the session
// owner; incoming private messages without from_id come from the peer.
func senderID(msg *tg.Message, self int64) int64 {
	if msg.Out {
		return self
	}

	if from, ok := msg.FromID.(*tg.PeerUser); ok {
		return from.UserID
	}

	if peer, ok := msg.PeerID.(*tg.PeerUser); ok {
		return peer.UserID
	}

	return 0
}
