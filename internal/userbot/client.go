// Package userbot owns the MTProto session: connection, login, update
// routing and the small messaging surface used for replies.
package userbot

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/updates"
	updhook "github.com/gotd/td/telegram/updates/hook"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/lueurxax/telegram-backup-bot/internal/platform/config"
	"github.com/lueurxax/telegram-backup-bot/internal/tgutil"
)

// ErrNotAuthorized means the session file holds no logged-in account.
var ErrNotAuthorized = errors.New("session is not authorized, run with -mode=login first")

// Client wraps the gotd client together with its update manager.
type Client struct {
	cfg        *config.Config
	client     *telegram.Client
	gaps       *updates.Manager
	dispatcher tg.UpdateDispatcher
	logger     *zerolog.Logger

	ready atomic.Bool
	self  atomic.Int64
}

func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*Client, error) {
	storage, err := openSession(ctx, cfg.TGSessionPath, cfg.TGSessionString, logger)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		dispatcher: tg.NewUpdateDispatcher(),
		logger:     logger,
	}

	c.gaps = updates.New(updates.Config{Handler: c.dispatcher})

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)

	c.client = telegram.NewClient(cfg.TGAPIID, cfg.TGAPIHash, telegram.Options{
		SessionStorage: storage,
		UpdateHandler:  c.gaps,
		Middlewares: []telegram.Middleware{
			updhook.UpdateHook(c.gaps.Handle),
			tgutil.RateLimit(limiter),
		},
	})

	return c, nil
}

// API returns the raw RPC client. It is usable only inside Run.
func (c *Client) API() *tg.Client {
	return c.client.API()
}

// Dispatcher is where update handlers are registered before Run.
func (c *Client) Dispatcher() *tg.UpdateDispatcher {
	return &c.dispatcher
}

// Ready reports whether the session is connected and authorized.
func (c *Client) Ready() bool {
	return c.ready.Load()
}

// SelfID is the logged-in account id, 0 before Run authorizes.
func (c *Client) SelfID() int64 {
	return c.self.Load()
}

// Run connects, checks authorization and calls fn while updates are being
// received. It returns when ctx is done or either side fails.
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context, self *tg.User) error) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		status, err := c.client.Auth().Status(ctx)
		if err != nil {
			return fmt.Errorf("auth status: %w", err)
		}

		if !status.Authorized {
			return ErrNotAuthorized
		}

		self, err := c.client.Self(ctx)
		if err != nil {
			return fmt.Errorf("get self: %w", err)
		}

		c.self.Store(self.ID)
		c.ready.Store(true)

		defer c.ready.Store(false)

		c.logger.Info().Int64("user_id", self.ID).Str("username", self.Username).Msg("Successfully authenticated as user")

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		appErr := make(chan error, 1)

		go func() {
			appErr <- fn(ctx, self)

			cancel()
		}()

		gapsErr := c.gaps.Run(ctx, c.client.API(), self.ID, updates.AuthOptions{IsBot: self.Bot})

		cancel()

		if err := <-appErr; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}

		if gapsErr != nil && !errors.Is(gapsErr, context.Canceled) {
			return fmt.Errorf("updates: %w", gapsErr)
		}

		return ctx.Err()
	})
}

// Login runs the interactive authentication flow and stores the session.
func (c *Client) Login(ctx context.Context) error {
	return c.client.Run(ctx, func(ctx context.Context) error {
		if err := c.client.Auth().IfNecessary(ctx, c.authFlow()); err != nil {
			return fmt.Errorf("auth: %w", err)
		}

		self, err := c.client.Self(ctx)
		if err != nil {
			return fmt.Errorf("get self: %w", err)
		}

		c.logger.Info().Int64("user_id", self.ID).Msg("Session saved")

		return nil
	})
}
