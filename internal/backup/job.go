// Package backup runs backup jobs one at a time from a FIFO queue.
package backup

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
	"github.com/lueurxax/telegram-backup-bot/internal/links"
)

// Job is one queued backup request. It is never mutated after creation.
type Job struct {
	ID        string
	ChatID    int64
	Title     string
	TopicID   int
	IDs       links.MessageIDSet
	ReplyChat int64
	CreatedAt time.Time
}

// NewJob validates the request and assigns an id. TopicID 0 disables the
// topic filter.
func NewJob(chatID int64, title string, topicID int, ids links.MessageIDSet, replyChat int64) (Job, error) {
	if len(ids) == 0 {
		return Job{}, errs.ErrEmptyJob
	}

	if chatID == 0 {
		return Job{}, fmt.Errorf("%w: chat 0", errs.ErrInvalidID)
	}

	return Job{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Title:     title,
		TopicID:   topicID,
		IDs:       append(links.MessageIDSet(nil), ids...),
		ReplyChat: replyChat,
		CreatedAt: time.Now(),
	}, nil
}

// Progress is a snapshot of the running job.
type Progress struct {
	Job Job
	// Index is the 1-based position of the item being processed.
	Index     int
	Total     int
	Completed int
	Missing   int
	Skipped   int
	Failed    int
	// CurrentID is the message id being processed.
	CurrentID int
}

// Status is the answer to a status query. Progress is nil when idle.
type Status struct {
	Progress   *Progress
	QueueDepth int
}

func (s Status) Idle() bool {
	return s.Progress == nil
}
