// Package delivery sends processed messages to the destination chat.
package delivery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
	"github.com/lueurxax/telegram-backup-bot/internal/core/fallback"
	"github.com/lueurxax/telegram-backup-bot/internal/media"
	"github.com/lueurxax/telegram-backup-bot/internal/platform/observability"
	"github.com/lueurxax/telegram-backup-bot/internal/tgutil"
)

// Route names, used as metric labels.
const (
	RoutePhoto       = "photo"
	RouteVideo       = "video"
	RouteAudio       = "audio"
	RouteDocument    = "document"
	RouteText        = "text"
	RoutePlaceholder = "placeholder"
	RouteForward     = "forward"
	RouteCopy        = "copy"
	RouteEdit        = "edit"
)

const (
	maxCaptionLen = 1024
	maxTextLen    = 4096

	// watermarkHeight matches the ffmpeg scale cap.
	watermarkHeight = 480

	defaultMIME = "application/octet-stream"
	videoMIME   = "video/mp4"
)

// API is the subset of the Telegram API used for delivery.
type API interface {
	MessagesSendMedia(ctx context.Context, request *tg.MessagesSendMediaRequest) (tg.UpdatesClass, error)
	MessagesSendMessage(ctx context.Context, request *tg.MessagesSendMessageRequest) (tg.UpdatesClass, error)
	MessagesForwardMessages(ctx context.Context, request *tg.MessagesForwardMessagesRequest) (tg.UpdatesClass, error)
	MessagesEditMessage(ctx context.Context, request *tg.MessagesEditMessageRequest) (tg.UpdatesClass, error)
}

// Uploader uploads local files. *uploader.Uploader satisfies it.
type Uploader interface {
	FromPath(ctx context.Context, path string) (tg.InputFileClass, error)
}

// Item is one message ready for delivery.
type Item struct {
	SourceChat  int64
	SourceTitle string
	SourcePeer  tg.InputPeerClass
	Message     *tg.Message

	Kind     media.Kind
	Path     string
	Thumb    string
	Filename string
	MIMEType string
	// Watermarked marks Path as re-encoded to the capped height.
	Watermarked bool

	Text     string
	Entities []tg.MessageEntityClass

	// Cleanup lists extra files removed after the attempt.
	Cleanup []string
}

// Outcome reports how an item reached the destination.
type Outcome struct {
	Route     string
	MessageID int
}

type Engine struct {
	api      API
	uploader Uploader
	flood    tgutil.FloodSleeper
	logger   *zerolog.Logger
}

func NewEngine(api API, up Uploader, flood tgutil.FloodSleeper, logger *zerolog.Logger) *Engine {
	return &Engine{api: api, uploader: up, flood: flood, logger: logger}
}

// Deliver sends item to dest. With a local file it is uploaded and sent by
// kind, audio falling back to document. Without one the text is sent, then
// a placeholder naming the source, then a plain forward. Local files are
// removed afterwards whatever the outcome.
func (e *Engine) Deliver(ctx context.Context, dest tg.InputPeerClass, item Item) (Outcome, error) {
	defer e.cleanup(item)

	if item.Path != "" {
		return e.deliverFile(ctx, dest, item)
	}

	res, err := fallback.New("deliver_text", e.logger,
		fallback.Stage[Outcome]{Name: RouteText, Run: func(ctx context.Context) (Outcome, error) {
			if isBlank(item.Text) {
				return Outcome{}, errs.ErrInvalidInput
			}

			return e.sendText(ctx, dest, 0, RouteText, item.Text, item.Entities)
		}},
		fallback.Stage[Outcome]{Name: RoutePlaceholder, Run: func(ctx context.Context) (Outcome, error) {
			return e.sendText(ctx, dest, 0, RoutePlaceholder, Placeholder(item), nil)
		}},
		fallback.Stage[Outcome]{Name: RouteForward, Run: func(ctx context.Context) (Outcome, error) {
			return e.forwardItem(ctx, dest, item)
		}},
	).Run(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", errs.ErrDeliveryFailed, err)
	}

	return res.Value, nil
}

func (e *Engine) deliverFile(ctx context.Context, dest tg.InputPeerClass, item Item) (Outcome, error) {
	file, err := e.upload(ctx, item.Path)
	if err != nil {
		observability.Deliveries.WithLabelValues("upload", observability.ResultFail).Inc()
		return Outcome{}, fmt.Errorf("%w: upload: %w", errs.ErrDeliveryFailed, err)
	}

	var thumb tg.InputFileClass

	if item.Thumb != "" && item.Kind == media.KindVideo {
		if thumb, err = e.upload(ctx, item.Thumb); err != nil {
			e.logger.Debug().Err(err).Str("thumb", item.Thumb).Msg("thumbnail upload failed")

			thumb = nil
		}
	}

	text, entities := fitCaption(item.Text, item.Entities)

	route, input := buildMedia(item, file, thumb)

	out, err := e.sendMedia(ctx, dest, 0, route, input, text, entities)
	if err == nil || route != RouteAudio {
		return out, wrapDelivery(err)
	}

	e.logger.Debug().Err(err).Int("msg_id", msgID(item)).Msg("audio send failed, sending as document")

	_, input = buildMedia(Item{Kind: media.KindDocument, Path: item.Path, Filename: item.Filename, MIMEType: item.MIMEType}, file, nil)

	out, err = e.sendMedia(ctx, dest, 0, RouteDocument, input, text, entities)

	return out, wrapDelivery(err)
}

func wrapDelivery(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", errs.ErrDeliveryFailed, err)
}

func (e *Engine) upload(ctx context.Context, path string) (tg.InputFileClass, error) {
	var file tg.InputFileClass

	err := e.flood.Retry(ctx, "upload", func(ctx context.Context) error {
		var err error

		file, err = e.uploader.FromPath(ctx, path)

		return err
	})

	return file, err
}

func (e *Engine) sendMedia(ctx context.Context, dest tg.InputPeerClass, topic int, route string, input tg.InputMediaClass, text string, entities []tg.MessageEntityClass) (Outcome, error) {
	return e.send(ctx, route, func(ctx context.Context) (tg.UpdatesClass, error) {
		return e.api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
			Peer:     dest,
			ReplyTo:  topicReply(topic),
			Media:    input,
			Message:  text,
			Entities: entities,
			RandomID: tgutil.RandomID(),
		})
	})
}

func (e *Engine) sendText(ctx context.Context, dest tg.InputPeerClass, topic int, route, text string, entities []tg.MessageEntityClass) (Outcome, error) {
	if utf8.RuneCountInString(text) > maxTextLen {
		text, entities = truncate(text, maxTextLen), nil
	}

	return e.send(ctx, route, func(ctx context.Context) (tg.UpdatesClass, error) {
		return e.api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
			Peer:     dest,
			ReplyTo:  topicReply(topic),
			Message:  text,
			Entities: entities,
			RandomID: tgutil.RandomID(),
		})
	})
}

func (e *Engine) forwardItem(ctx context.Context, dest tg.InputPeerClass, item Item) (Outcome, error) {
	if item.SourcePeer == nil || item.Message == nil {
		return Outcome{}, errs.ErrPeerNotResolved
	}

	return e.send(ctx, RouteForward, func(ctx context.Context) (tg.UpdatesClass, error) {
		return e.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
			FromPeer: item.SourcePeer,
			ToPeer:   dest,
			ID:       []int{item.Message.ID},
			RandomID: []int64{tgutil.RandomID()},
		})
	})
}

// topicReply places a message into a forum topic. Zero means the general
// chat.
func topicReply(topic int) tg.InputReplyToClass {
	if topic == 0 {
		return nil
	}

	return &tg.InputReplyToMessage{ReplyToMsgID: topic, TopMsgID: topic}
}

// send performs one call and, if the server demands a wait, sleeps it and
// retries exactly once.
func (e *Engine) send(ctx context.Context, route string, call func(ctx context.Context) (tg.UpdatesClass, error)) (Outcome, error) {
	upd, err := call(ctx)
	if err != nil {
		waited, waitErr := e.flood.WaitFor(ctx, "deliver_"+route, err)
		if waitErr != nil {
			observability.Deliveries.WithLabelValues(route, observability.ResultFail).Inc()
			return Outcome{}, waitErr
		}

		if waited {
			upd, err = call(ctx)
		}
	}

	observability.Deliveries.WithLabelValues(route, observability.ResultLabel(err)).Inc()

	if err != nil {
		e.logger.Warn().Err(err).Str("route", route).Msg("delivery attempt failed")
		return Outcome{}, err
	}

	id, _ := tgutil.SentMessageID(upd)

	return Outcome{Route: route, MessageID: id}, nil
}

func (e *Engine) cleanup(item Item) {
	paths := append([]string{item.Path, item.Thumb}, item.Cleanup...)

	for _, p := range paths {
		if p == "" {
			continue
		}

		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			e.logger.Debug().Err(err).Str("path", p).Msg("remove temp file")
		}
	}
}

func buildMedia(item Item, file, thumb tg.InputFileClass) (string, tg.InputMediaClass) {
	name := item.Filename
	if name == "" {
		name = filepath.Base(item.Path)
	}

	mime := item.MIMEType
	if mime == "" {
		mime = defaultMIME
	}

	filenameAttr := &tg.DocumentAttributeFilename{FileName: name}

	switch item.Kind {
	case media.KindPhoto:
		return RoutePhoto, &tg.InputMediaUploadedPhoto{File: file}
	case media.KindVideo:
		if item.Watermarked || mime == defaultMIME {
			mime = videoMIME
		}

		doc := &tg.InputMediaUploadedDocument{
			File:       file,
			MimeType:   mime,
			Attributes: []tg.DocumentAttributeClass{videoAttribute(item), filenameAttr},
		}

		if thumb != nil {
			doc.Thumb = thumb
		}

		return RouteVideo, doc
	case media.KindAudio:
		return RouteAudio, &tg.InputMediaUploadedDocument{
			File:       file,
			MimeType:   mime,
			Attributes: []tg.DocumentAttributeClass{audioAttribute(item), filenameAttr},
		}
	default:
		return RouteDocument, &tg.InputMediaUploadedDocument{
			File:       file,
			MimeType:   mime,
			ForceFile:  true,
			Attributes: []tg.DocumentAttributeClass{filenameAttr},
		}
	}
}

func videoAttribute(item Item) *tg.DocumentAttributeVideo {
	attr := &tg.DocumentAttributeVideo{SupportsStreaming: true}

	if doc, ok := media.Document(item.Message); ok {
		for _, a := range doc.Attributes {
			if v, ok := a.(*tg.DocumentAttributeVideo); ok {
				attr.Duration, attr.W, attr.H = v.Duration, v.W, v.H
				break
			}
		}
	}

	if item.Watermarked && attr.H > watermarkHeight {
		attr.W = attr.W * watermarkHeight / attr.H
		attr.H = watermarkHeight
	}

	return attr
}

func audioAttribute(item Item) *tg.DocumentAttributeAudio {
	if doc, ok := media.Document(item.Message); ok {
		for _, a := range doc.Attributes {
			if v, ok := a.(*tg.DocumentAttributeAudio); ok {
				return &tg.DocumentAttributeAudio{Duration: v.Duration, Title: v.Title, Performer: v.Performer}
			}
		}
	}

	return &tg.DocumentAttributeAudio{}
}

// Placeholder names the source chat and message when nothing else can be
// delivered.
func Placeholder(item Item) string {
	title := item.SourceTitle
	if title == "" {
		title = strconv.FormatInt(item.SourceChat, 10)
	}

	return fmt.Sprintf("Message %d from %s could not be copied.", msgID(item), title)
}

func msgID(item Item) int {
	if item.Message == nil {
		return 0
	}

	return item.Message.ID
}

func fitCaption(text string, entities []tg.MessageEntityClass) (string, []tg.MessageEntityClass) {
	if utf8.RuneCountInString(text) <= maxCaptionLen {
		return text, entities
	}

	return truncate(text, maxCaptionLen), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n])
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
