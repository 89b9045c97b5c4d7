// Package commands implements the owner-only chat commands.
package commands

import (
	"context"
	"strings"
	"time"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/lueurxax/telegram-backup-bot/internal/backup"
	"github.com/lueurxax/telegram-backup-bot/internal/caption"
	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
	"github.com/lueurxax/telegram-backup-bot/internal/delivery"
	"github.com/lueurxax/telegram-backup-bot/internal/fetch"
	"github.com/lueurxax/telegram-backup-bot/internal/media"
	"github.com/lueurxax/telegram-backup-bot/internal/peers"
	"github.com/lueurxax/telegram-backup-bot/internal/platform/observability"
	"github.com/lueurxax/telegram-backup-bot/internal/platform/worker"
	"github.com/lueurxax/telegram-backup-bot/internal/state"
	"github.com/lueurxax/telegram-backup-bot/internal/textfilter"
)

// Command names.
const (
	CmdStart          = "tgprostart"
	CmdStatus         = "status"
	CmdBackup         = "tgprobackup"
	CmdStop           = "tgprostop"
	CmdChats          = "chats"
	CmdAddFilter      = "addfilter"
	CmdListFilters    = "listfilters"
	CmdClearFilters   = "clearfilters"
	CmdSetDestination = "setdestination"
	CmdPreview        = "tgprofilters"
	CmdApplyEdit      = "tgprofilters_apply"
	CmdApplyEditAlias = "tgprofilters_apply_edit"
	CmdApplyCopy      = "tgprofilters_apply_cp"
	CmdForward        = "tgproforward"
	CmdCopy           = "tgprocopy"
	CmdDebug          = "tgdebug"
	CmdWatermark      = "watermark"
)

const (
	logFieldCommand = "command"
	logFieldUserID  = "user_id"
)

// Message is an incoming chat message that may carry a command.
type Message struct {
	ChatID   int64
	SenderID int64
	ID       int
	Text     string
}

// Command splits "/name@bot args" into the lower-cased name and the
// trimmed argument string. ok is false for non-command text.
func (m Message) Command() (name, args string, ok bool) {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}

	head, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexAny(head, "\n"); i >= 0 {
		rest = head[i+1:] + " " + rest
		head = head[:i]
	}

	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}

	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// Messenger sends replies to the chat a command came from.
type Messenger interface {
	Send(ctx context.Context, chatID int64, replyTo int, text string) (int, error)
	Delete(ctx context.Context, chatID int64, ids ...int) error
}

// Queue is the backup processor as seen by commands.
type Queue interface {
	Submit(job backup.Job) (int, error)
	Status() backup.Status
	Stop() bool
}

type Resolver interface {
	Ensure(ctx context.Context, chatID int64) bool
	Lookup(ctx context.Context, chatID int64) (peers.Peer, bool)
	InputPeer(ctx context.Context, chatID int64) (tg.InputPeerClass, error)
	ResolveUsername(ctx context.Context, username string) (peers.Peer, error)
	ListChats(ctx context.Context, limit int) ([]peers.Peer, error)
}

type Messages interface {
	Fetch(ctx context.Context, chatID int64, id int) fetch.Result
	Topic(ctx context.Context, chatID int64, msg *tg.Message) (int, bool)
}

type Captions interface {
	Extract(ctx context.Context, chatID int64, msg *tg.Message) caption.Text
}

type Downloads interface {
	Fetch(ctx context.Context, chatID int64, msg *tg.Message, name string) media.Result
}

type Delivery interface {
	Deliver(ctx context.Context, dest tg.InputPeerClass, item delivery.Item) (delivery.Outcome, error)
	Copy(ctx context.Context, dest tg.InputPeerClass, topic int, msg *tg.Message, text string, entities []tg.MessageEntityClass) (delivery.Outcome, error)
	ForwardToTopic(ctx context.Context, from, dest tg.InputPeerClass, topic int, ids []int, dropAuthor bool) (delivery.Outcome, error)
	Edit(ctx context.Context, peer tg.InputPeerClass, msg *tg.Message, text string, entities []tg.MessageEntityClass) error
	SendText(ctx context.Context, dest tg.InputPeerClass, text string) (delivery.Outcome, error)
}

type Store interface {
	Filters() textfilter.Rules
	FilterKeys() []string
	AddFilter(pattern, replacement string) error
	ClearFilters() error
	Destination() int64
	SetDestination(chatID int64) error
	Watermark() bool
	SetWatermark(enabled bool) error
	SavePending(p state.PendingPreview) error
	LoadPending() (state.PendingPreview, error)
}

type Deps struct {
	Messenger Messenger
	Queue     Queue
	Resolver  Resolver
	Messages  Messages
	Captions  Captions
	Downloads Downloads
	Delivery  Delivery
	Store     Store
}

// commandHandler handles one command; args is everything after the name.
type commandHandler func(ctx context.Context, msg Message, args string)

type Handler struct {
	ownerID  int64
	deps     Deps
	handlers map[string]commandHandler
	logger   *zerolog.Logger

	// sleep paces bulk commands; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(ownerID int64, deps Deps, logger *zerolog.Logger) *Handler {
	h := &Handler{ownerID: ownerID, deps: deps, logger: logger, sleep: worker.Wait}
	h.handlers = h.newRegistry()

	return h
}

func (h *Handler) newRegistry() map[string]commandHandler {
	r := make(map[string]commandHandler)

	r[CmdStart] = h.handleStart
	r[CmdStatus] = h.handleStatus
	r[CmdBackup] = h.handleBackup
	r[CmdStop] = h.handleStop
	r[CmdChats] = h.handleChats
	r[CmdDebug] = h.handleDebug

	r[CmdAddFilter] = h.handleAddFilter
	r[CmdListFilters] = h.handleListFilters
	r[CmdClearFilters] = h.handleClearFilters
	r[CmdPreview] = h.handlePreview
	r[CmdApplyEdit] = h.handleApplyEdit
	r[CmdApplyEditAlias] = h.handleApplyEdit
	r[CmdApplyCopy] = h.handleApplyCopy

	r[CmdSetDestination] = h.handleSetDestination
	r[CmdForward] = h.handleForward
	r[CmdCopy] = h.handleCopy
	r[CmdWatermark] = h.handleWatermark

	return r
}

// Handle routes msg to its command. Messages from anyone but the owner and
// unknown commands are ignored. It reports whether a command ran.
func (h *Handler) Handle(ctx context.Context, msg Message) bool {
	name, args, ok := msg.Command()
	if !ok {
		return false
	}

	handler, known := h.handlers[name]
	if !known {
		return false
	}

	if msg.SenderID != h.ownerID {
		h.logger.Warn().Int64(logFieldUserID, msg.SenderID).Str(logFieldCommand, name).Msg("Unauthorized command attempt")
		return false
	}

	defer worker.RecoverPanic(h.logger, "command "+name)

	h.logger.Info().Str(logFieldCommand, name).Int64(logFieldUserID, msg.SenderID).Msg("Handling command")
	observability.CommandsHandled.WithLabelValues(name).Inc()

	handler(ctx, msg, args)

	return true
}

func (h *Handler) reply(ctx context.Context, msg Message, text string) {
	if _, err := h.deps.Messenger.Send(ctx, msg.ChatID, msg.ID, text); err != nil {
		h.logger.Error().Err(err).Int64("chat_id", msg.ChatID).Msg("failed to send reply")
	}
}

// replyError logs err and replies with a fixed sentence for its kind.
func (h *Handler) replyError(ctx context.Context, msg Message, op string, err error) {
	h.logger.Warn().Err(err).Str(logFieldCommand, op).Msg("command failed")
	h.reply(ctx, msg, userMessage(err))
}

func userMessage(err error) string {
	switch {
	case errs.Is(err, errs.ErrDestinationNotWritable):
		return "Cannot post to that chat. Check the id and my permissions there."
	case errs.Is(err, errs.ErrUnparseableLink):
		return "Invalid link format."
	case errs.Is(err, errs.ErrNoIDs):
		return "Could not extract message ids."
	case errs.Is(err, errs.ErrNoPendingPreview):
		return "No link/range provided and no pending preview found."
	case errs.Is(err, errs.ErrPeerNotResolved), errs.Is(err, errs.ErrChannelNotFound):
		return "Chat not found or not accessible."
	case errs.Is(err, errs.ErrInvalidID):
		return "Invalid chat id."
	case errs.Is(err, errs.ErrInvalidInput):
		return "Invalid arguments."
	case errs.Is(err, errs.ErrQueueClosed):
		return "The backup queue is shutting down."
	default:
		return "Something went wrong. Details are in the logs."
	}
}
