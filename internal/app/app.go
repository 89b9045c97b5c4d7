// Package app provides the application bootstrap and runtime orchestration.
//
// The App type wires the Telegram session, the backup processor and the
// owner command surface, and exposes the two operational modes:
//
//   - Bot mode: userbot that serves owner commands and runs backup jobs
//   - Login mode: interactive MTProto login that writes the session file
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/lueurxax/telegram-backup-bot/internal/backup"
	"github.com/lueurxax/telegram-backup-bot/internal/caption"
	"github.com/lueurxax/telegram-backup-bot/internal/commands"
	"github.com/lueurxax/telegram-backup-bot/internal/delivery"
	"github.com/lueurxax/telegram-backup-bot/internal/fetch"
	"github.com/lueurxax/telegram-backup-bot/internal/media"
	"github.com/lueurxax/telegram-backup-bot/internal/peers"
	"github.com/lueurxax/telegram-backup-bot/internal/platform/config"
	"github.com/lueurxax/telegram-backup-bot/internal/platform/observability"
	"github.com/lueurxax/telegram-backup-bot/internal/state"
	"github.com/lueurxax/telegram-backup-bot/internal/tgutil"
	"github.com/lueurxax/telegram-backup-bot/internal/userbot"
	"github.com/lueurxax/telegram-backup-bot/internal/videoproc"
)

const dirPerm = 0o750

// App holds the application dependencies and provides methods to run different modes.
type App struct {
	cfg    *config.Config
	logger *zerolog.Logger
}

// New creates a new App instance with the given dependencies.
func New(cfg *config.Config, logger *zerolog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
	}
}

// StartHealthServer starts the health check and metrics server.
func (a *App) StartHealthServer(ctx context.Context, ready observability.ReadyFunc) error {
	srv := observability.NewServer(a.cfg.HealthPort, ready, a.logger)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("health server start: %w", err)
	}

	return nil
}

// Login runs the interactive login and exits.
func (a *App) Login(ctx context.Context) error {
	client, err := userbot.New(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("userbot init failed: %w", err)
	}

	return client.Login(ctx)
}

// RunBot serves owner commands and processes backup jobs until ctx is done.
func (a *App) RunBot(ctx context.Context) error {
	client, err := userbot.New(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("userbot init failed: %w", err)
	}

	go func() {
		if err := a.StartHealthServer(ctx, client.Ready); err != nil {
			a.logger.Error().Err(err).Msg("health check server error")
		}
	}()

	rt, err := a.build(ctx, client)
	if err != nil {
		return err
	}

	rt.router.Register(client.Dispatcher())

	err = client.Run(ctx, func(ctx context.Context, _ *tg.User) error {
		if n, err := rt.resolver.Warm(ctx); err != nil {
			a.logger.Warn().Err(err).Int("chats", n).Msg("dialog warm-up incomplete")
		} else {
			a.logger.Info().Int("chats", n).Msg("dialogs cached")
		}

		return rt.processor.Run(ctx)
	})

	rt.queue.Close()
	rt.router.Wait()

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// runtime is the object graph of bot mode.
type runtime struct {
	resolver  *peers.Resolver
	queue     *backup.Queue
	processor *backup.Processor
	router    *userbot.Router
}

func (a *App) build(ctx context.Context, client *userbot.Client) (*runtime, error) {
	if err := os.MkdirAll(a.cfg.DownloadDir, dirPerm); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	store, err := state.Open(a.cfg.DataDir, a.cfg.DestinationChannel, a.logger)
	if err != nil {
		return nil, fmt.Errorf("state init failed: %w", err)
	}

	cache, err := peers.NewCache(0)
	if err != nil {
		return nil, err
	}

	api := client.API()
	flood := tgutil.FloodSleeper{Fallback: a.cfg.FloodWaitFallback}

	resolver := peers.NewResolver(api, peers.NewDialogScanner(api), cache, flood, a.cfg.DialogScanLimit, a.logger)
	fetcher := fetch.New(api, resolver, flood, a.logger)
	extractor := caption.NewExtractor(fetcher, a.logger)
	downloads := media.NewFetcher(api, media.NewGotdDownloader(api), fetcher, resolver, flood, a.cfg.DownloadDir, a.logger)
	engine := delivery.NewEngine(api, uploader.NewUploader(api), flood, a.logger)
	messenger := userbot.NewMessenger(api, resolver, flood, a.logger)
	video := videoproc.New(a.cfg.FFmpegPath, a.cfg.WatermarkText, a.cfg.WatermarkTimeout, a.logger)

	queue := backup.NewQueue()
	processor := backup.NewProcessor(queue, backup.Deps{
		Peers:     resolver,
		Messages:  fetcher,
		Captions:  extractor,
		Downloads: downloads,
		Deliverer: engine,
		Video:     video,
		Settings:  store,
		Reporter:  messenger,
	}, backup.Options{
		MinDelay:           a.cfg.MinDelayDuration(),
		MaxDelay:           a.cfg.MaxDelayDuration(),
		PollInterval:       a.cfg.QueuePollInterval,
		ForwardUnprotected: a.cfg.ForwardUnprotected,
	}, a.logger)

	handler := commands.New(a.cfg.OwnerID, commands.Deps{
		Messenger: messenger,
		Queue:     processor,
		Resolver:  resolver,
		Messages:  fetcher,
		Captions:  extractor,
		Downloads: downloads,
		Delivery:  engine,
		Store:     store,
	}, a.logger)

	return &runtime{
		resolver:  resolver,
		queue:     queue,
		processor: processor,
		router:    userbot.NewRouter(ctx, handler, cache, client.SelfID, a.logger),
	}, nil
}
