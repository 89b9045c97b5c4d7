package userbot

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/td/session"
	"github.com/rs/zerolog"
)

// openSession returns the file session at path. When the file holds no
// session yet and a Telethon string session is configured, the string is
// imported into it.
func openSession(ctx context.Context, path, telethon string, logger *zerolog.Logger) (*session.FileStorage, error) {
	storage := &session.FileStorage{Path: path}

	if telethon == "" {
		return storage, nil
	}

	loader := session.Loader{Storage: storage}

	_, err := loader.Load(ctx)
	switch {
	case err == nil:
		return storage, nil
	case !errors.Is(err, session.ErrNotFound):
		return nil, fmt.Errorf("load session: %w", err)
	}

	data, err := session.TelethonSession(telethon)
	if err != nil {
		return nil, fmt.Errorf("decode session string: %w", err)
	}

	if err := loader.Save(ctx, data); err != nil {
		return nil, fmt.Errorf("save imported session: %w", err)
	}

	logger.Info().Int("dc", data.DC).Str("path", path).Msg("Imported string session")

	return storage, nil
}
