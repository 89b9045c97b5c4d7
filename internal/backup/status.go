package backup

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	maxStatusLen = 4000
	startText    = "Starting backup…"

	// omittedReserve leaves room for the omitted notes line.
	omittedReserve = 32
)

// statusReport keeps one status message per job up to date. Failures to
// post or edit are logged and otherwise ignored.
type statusReport struct {
	reporter Reporter
	chatID   int64
	msgID    int
	notes    []string
	logger   *zerolog.Logger
}

func newStatusReport(r Reporter, chatID int64, logger *zerolog.Logger) *statusReport {
	return &statusReport{reporter: r, chatID: chatID, logger: logger}
}

func (s *statusReport) start(ctx context.Context) {
	if s.reporter == nil || s.chatID == 0 {
		return
	}

	id, err := s.reporter.Post(ctx, s.chatID, startText)
	if err != nil {
		s.logger.Debug().Err(err).Msg("post status message")
		return
	}

	s.msgID = id
}

func (s *statusReport) item(ctx context.Context, pr *Progress, note string) {
	if note != "" {
		s.notes = append(s.notes, note)
	}

	if pr == nil {
		return
	}

	header := fmt.Sprintf("%d/%d processed, done %d", pr.Index, pr.Total, pr.Completed)
	s.edit(ctx, renderStatus(header, s.notes))
}

func (s *statusReport) finish(ctx context.Context, text string) {
	s.edit(ctx, text)
}

func (s *statusReport) edit(ctx context.Context, text string) {
	if s.reporter == nil || s.msgID == 0 {
		return
	}

	if err := s.reporter.Edit(ctx, s.chatID, s.msgID, TruncateStatus(text)); err != nil {
		s.logger.Debug().Err(err).Msg("edit status message")
	}
}

// renderStatus lists the header and the latest notes that fit the status
// limit. Older notes are summarized in one line.
func renderStatus(header string, notes []string) string {
	if len(notes) == 0 {
		return header
	}

	budget := maxStatusLen - utf8.RuneCountInString(header) - omittedReserve
	start := len(notes)

	for start > 0 {
		n := utf8.RuneCountInString(notes[start-1]) + 1
		if n > budget {
			break
		}

		budget -= n
		start--
	}

	lines := make([]string, 0, len(notes)-start+2)
	lines = append(lines, header)

	if start > 0 {
		lines = append(lines, fmt.Sprintf("… %d earlier notes", start))
	}

	lines = append(lines, notes[start:]...)

	return strings.Join(lines, "\n")
}

// TruncateStatus cuts text to the status message limit, keeping the start.
func TruncateStatus(text string) string {
	if utf8.RuneCountInString(text) <= maxStatusLen {
		return text
	}

	r := []rune(text)

	return string(r[:maxStatusLen-1]) + "…"
}
