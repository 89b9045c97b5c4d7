// Package media classifies message attachments and downloads them through
// an ordered chain of strategies.
package media

import (
	"context"
	"fmt"
	"os"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
	"github.com/lueurxax/telegram-backup-bot/internal/core/fallback"
	"github.com/lueurxax/telegram-backup-bot/internal/fetch"
	"github.com/lueurxax/telegram-backup-bot/internal/platform/observability"
	"github.com/lueurxax/telegram-backup-bot/internal/tgutil"
)

// Download strategy names, in chain order.
const (
	StageDirect    = "direct"
	StageContentID = "content_id"
	StageSaved     = "saved_messages"
	StageRefetch   = "refetch"
	StageRaw       = "raw"
)

const downloadThreads = 4

// FileDownloader writes the file at loc to path.
type FileDownloader interface {
	Download(ctx context.Context, loc tg.InputFileLocationClass, path string, threads int) error
}

// GotdDownloader downloads through the gotd downloader.
type GotdDownloader struct {
	api *tg.Client
	d   *downloader.Downloader
}

func NewGotdDownloader(api *tg.Client) *GotdDownloader {
	return &GotdDownloader{api: api, d: downloader.NewDownloader()}
}

func (g *GotdDownloader) Download(ctx context.Context, loc tg.InputFileLocationClass, path string, threads int) error {
	b := g.d.Download(g.api, loc)
	if threads > 1 {
		b = b.WithThreads(threads)
	}

	_, err := b.ToPath(ctx, path)

	return err
}

// API is the subset of the Telegram API used by the saved-messages stage.
type API interface {
	MessagesForwardMessages(ctx context.Context, request *tg.MessagesForwardMessagesRequest) (tg.UpdatesClass, error)
	MessagesDeleteMessages(ctx context.Context, request *tg.MessagesDeleteMessagesRequest) (*tg.MessagesAffectedMessages, error)
}

// Refetcher re-reads messages for the late stages.
type Refetcher interface {
	Fetch(ctx context.Context, chatID int64, id int) fetch.Result
	Raw(ctx context.Context, chatID int64, id int) fetch.Result
}

// Peers addresses chats.
type Peers interface {
	InputPeer(ctx context.Context, chatID int64) (tg.InputPeerClass, error)
}

// Result is the outcome of Fetch. Path is empty when every strategy failed.
type Result struct {
	Path  string
	Stage string
	Err   error
}

func (r Result) OK() bool {
	return r.Path != "" && r.Err == nil
}

type Fetcher struct {
	api       API
	files     FileDownloader
	refetcher Refetcher
	peers     Peers
	flood     tgutil.FloodSleeper
	dir       string
	logger    *zerolog.Logger
}

func NewFetcher(api API, files FileDownloader, refetcher Refetcher, peers Peers, flood tgutil.FloodSleeper, dir string, logger *zerolog.Logger) *Fetcher {
	return &Fetcher{
		api:       api,
		files:     files,
		refetcher: refetcher,
		peers:     peers,
		flood:     flood,
		dir:       dir,
		logger:    logger,
	}
}

// Fetch downloads the attachment of msg into the download directory under
// a sanitized, collision-free version of name. Strategies run in order:
// the message media handle, the bare photo or document object, a copy in
// Saved Messages, a fresh read of the message, and a raw by-id read.
// Strategy failures are logged and swallowed; only exhaustion is reported.
func (f *Fetcher) Fetch(ctx context.Context, chatID int64, msg *tg.Message, name string) Result {
	if msg == nil || msg.Media == nil {
		return Result{Err: errs.ErrNoMedia}
	}

	if err := os.MkdirAll(f.dir, 0o750); err != nil {
		return Result{Err: fmt.Errorf("create download dir: %w", err)}
	}

	name = SanitizeFilename(name)

	stage := func(stageName string, run func(ctx context.Context) (string, error)) fallback.Stage[string] {
		return fallback.Stage[string]{Name: stageName, Run: run}
	}

	res, err := fallback.New("download", f.logger,
		stage(StageDirect, func(ctx context.Context) (string, error) {
			return f.direct(ctx, msg, name)
		}),
		stage(StageContentID, func(ctx context.Context) (string, error) {
			return f.contentID(ctx, msg, name)
		}),
		stage(StageSaved, func(ctx context.Context) (string, error) {
			return f.viaSaved(ctx, chatID, msg, name)
		}),
		stage(StageRefetch, func(ctx context.Context) (string, error) {
			return f.refetched(ctx, f.refetcher.Fetch(ctx, chatID, msg.ID), name)
		}),
		stage(StageRaw, func(ctx context.Context) (string, error) {
			return f.refetched(ctx, f.refetcher.Raw(ctx, chatID, msg.ID), name)
		}),
	).Observe(func(stage string, err error) {
		observability.DownloadStages.WithLabelValues(stage, observability.ResultLabel(err)).Inc()
	}).Run(ctx)
	if err != nil {
		f.logger.Warn().Err(err).Int64("chat_id", chatID).Int("msg_id", msg.ID).Msg("media undownloadable")

		return Result{Err: fmt.Errorf("%w: %w", errs.ErrUndownloadable, err)}
	}

	return Result{Path: res.Value, Stage: res.Stage}
}

func (f *Fetcher) direct(ctx context.Context, msg *tg.Message, name string) (string, error) {
	file, ok := MessageLocation(msg)
	if !ok {
		return "", errs.ErrNoMedia
	}

	return f.save(ctx, StageDirect, file, name, downloadThreads)
}

// contentID tries the bare objects of msg other than the one direct already
// tried, that is smaller photo sizes or alternative video qualities.
func (f *Fetcher) contentID(ctx context.Context, msg *tg.Message, name string) (string, error) {
	primary := ""
	if file, ok := MessageLocation(msg); ok {
		primary = locationKey(file.Location)
	}

	lastErr := errs.ErrNoMedia

	for _, file := range ContentFiles(msg) {
		if locationKey(file.Location) == primary {
			continue
		}

		path, err := f.save(ctx, StageContentID, file, name, 1)
		if err == nil {
			return path, nil
		}

		lastErr = err
	}

	return "", lastErr
}

// viaSaved forwards the message to Saved Messages and downloads the copy,
// which is deleted afterwards whatever the outcome.
func (f *Fetcher) viaSaved(ctx context.Context, chatID int64, msg *tg.Message, name string) (string, error) {
	from, err := f.peers.InputPeer(ctx, chatID)
	if err != nil {
		return "", err
	}

	var upd tg.UpdatesClass

	err = f.flood.Retry(ctx, StageSaved, func(ctx context.Context) error {
		var err error

		upd, err = f.api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
			FromPeer: from,
			ToPeer:   &tg.InputPeerSelf{},
			ID:       []int{msg.ID},
			RandomID: []int64{tgutil.RandomID()},
			Silent:   true,
		})

		return err
	})
	if err != nil {
		return "", fmt.Errorf("forward to saved messages: %w", err)
	}

	copies := tgutil.SentMessages(upd)
	if len(copies) == 0 {
		return "", fmt.Errorf("forward to saved messages: %w", errs.ErrMessageNotFound)
	}

	defer f.deleteSaved(copies)

	file, ok := MessageLocation(copies[0])
	if !ok {
		return "", errs.ErrNoMedia
	}

	return f.save(ctx, StageSaved, file, name, downloadThreads)
}

func (f *Fetcher) deleteSaved(copies []*tg.Message) {
	ids := make([]int, 0, len(copies))
	for _, m := range copies {
		ids = append(ids, m.ID)
	}

	// The caller's context may already be done; cleanup still runs.
	if _, err := f.api.MessagesDeleteMessages(context.Background(), &tg.MessagesDeleteMessagesRequest{
		Revoke: true,
		ID:     ids,
	}); err != nil {
		f.logger.Debug().Err(err).Ints("ids", ids).Msg("saved copy cleanup failed")
	}
}

func (f *Fetcher) refetched(ctx context.Context, res fetch.Result, name string) (string, error) {
	if !res.Found() {
		if res.Err != nil {
			return "", res.Err
		}

		return "", errs.ErrMessageNotFound
	}

	file, ok := MessageLocation(res.Message)
	if !ok {
		return "", errs.ErrNoMedia
	}

	return f.save(ctx, "refetched", file, name, downloadThreads)
}

func (f *Fetcher) save(ctx context.Context, stage string, file File, name string, threads int) (string, error) {
	path := UniquePath(f.dir, WithExt(name, file.Ext))

	err := f.flood.Retry(ctx, "download_"+stage, func(ctx context.Context) error {
		return f.files.Download(ctx, file.Location, path, threads)
	})
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	if info.Size() == 0 {
		_ = os.Remove(path)
		return "", fmt.Errorf("%s: %w", stage, errs.ErrEmptyDownload)
	}

	return path, nil
}
