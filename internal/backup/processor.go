package backup

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/lueurxax/telegram-backup-bot/internal/caption"
	"github.com/lueurxax/telegram-backup-bot/internal/delivery"
	"github.com/lueurxax/telegram-backup-bot/internal/fetch"
	"github.com/lueurxax/telegram-backup-bot/internal/media"
	"github.com/lueurxax/telegram-backup-bot/internal/peers"
	"github.com/lueurxax/telegram-backup-bot/internal/platform/observability"
	"github.com/lueurxax/telegram-backup-bot/internal/platform/worker"
	"github.com/lueurxax/telegram-backup-bot/internal/textfilter"
)

// Item outcomes, used as metric labels.
const (
	OutcomeDelivered    = "delivered"
	OutcomeForwarded    = "forwarded"
	OutcomeMissing      = "missing"
	OutcomeSkippedTopic = "skipped_topic"
	OutcomeFailed       = "failed"
)

// Job statuses, used as metric labels.
const (
	JobQueued    = "queued"
	JobCompleted = "completed"
	JobStopped   = "stopped"
)

// Peers ensures chats are addressable.
type Peers interface {
	Ensure(ctx context.Context, chatID int64) bool
	Lookup(ctx context.Context, chatID int64) (peers.Peer, bool)
	InputPeer(ctx context.Context, chatID int64) (tg.InputPeerClass, error)
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

type Deliverer interface {
	Deliver(ctx context.Context, dest tg.InputPeerClass, item delivery.Item) (delivery.Outcome, error)
	Forward(ctx context.Context, from, dest tg.InputPeerClass, ids []int, dropAuthor bool) (delivery.Outcome, error)
}

// VideoProcessor derives the watermarked copy and thumbnail of a video.
type VideoProcessor interface {
	Watermark(ctx context.Context, in string) (string, error)
	Thumbnail(ctx context.Context, in string) (string, error)
}

// Settings exposes the persisted owner settings.
type Settings interface {
	Filters() textfilter.Rules
	Destination() int64
	Watermark() bool
}

// Reporter posts and edits the status message in the reply chat.
type Reporter interface {
	Post(ctx context.Context, chatID int64, text string) (int, error)
	Edit(ctx context.Context, chatID int64, msgID int, text string) error
}

type Deps struct {
	Peers     Peers
	Messages  Messages
	Captions  Captions
	Downloads Downloads
	Deliverer Deliverer
	Video     VideoProcessor
	Settings  Settings
	Reporter  Reporter
}

type Options struct {
	MinDelay           time.Duration
	MaxDelay           time.Duration
	PollInterval       time.Duration
	ForwardUnprotected bool
}

type Processor struct {
	queue  *Queue
	deps   Deps
	opts   Options
	logger *zerolog.Logger

	// sleep paces items; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error

	mu      sync.RWMutex
	current *Progress
}

func NewProcessor(queue *Queue, deps Deps, opts Options, logger *zerolog.Logger) *Processor {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}

	return &Processor{queue: queue, deps: deps, opts: opts, logger: logger, sleep: worker.Wait}
}

// Submit enqueues job and returns its queue position.
func (p *Processor) Submit(job Job) (int, error) {
	pos, err := p.queue.Enqueue(job)
	if err != nil {
		return 0, err
	}

	observability.BackupJobs.WithLabelValues(JobQueued).Inc()
	p.logger.Info().Str("job_id", job.ID).Int64("chat_id", job.ChatID).Int("items", len(job.IDs)).Int("position", pos).Msg("backup job queued")

	return pos, nil
}

// Status returns a copy of the current progress and the queue depth.
func (p *Processor) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()

	st := Status{QueueDepth: p.queue.Len()}

	if p.current != nil {
		snapshot := *p.current
		st.Progress = &snapshot
	}

	return st
}

// Stop clears the running job. The item in flight finishes; the job halts
// before the next one. It reports whether a job was running.
func (p *Processor) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	running := p.current != nil
	p.current = nil

	return running
}

// Run drains the queue until ctx is canceled.
func (p *Processor) Run(ctx context.Context) error {
	return worker.Loop(ctx, worker.Config{
		Name: "backup_processor",
		Process: func(ctx context.Context) error {
			job, ok := p.queue.Next(ctx, p.opts.PollInterval)
			if !ok {
				return nil
			}

			p.RunJob(ctx, job)

			return nil
		},
		Logger: p.logger,
	})
}

// RunJob processes every id of job in order.
func (p *Processor) RunJob(ctx context.Context, job Job) {
	logger := p.logger.With().Str("job_id", job.ID).Int64("chat_id", job.ChatID).Logger()

	p.setCurrent(&Progress{Job: job, Total: len(job.IDs)})

	report := newStatusReport(p.deps.Reporter, job.ReplyChat, &logger)
	report.start(ctx)

	logger.Info().Int("items", len(job.IDs)).Int("topic", job.TopicID).Msg("backup job started")

	for i, id := range job.IDs {
		if !p.active(job.ID) {
			observability.BackupJobs.WithLabelValues(JobStopped).Inc()
			logger.Info().Int("processed", i).Msg("backup job stopped")
			report.finish(ctx, "Backup stopped.")

			return
		}

		p.update(job.ID, func(pr *Progress) {
			pr.Index = i + 1
			pr.CurrentID = id
		})

		outcome, note := p.safeProcess(ctx, job, id, &logger)

		observability.BackupItems.WithLabelValues(outcome).Inc()

		p.update(job.ID, func(pr *Progress) {
			switch outcome {
			case OutcomeDelivered, OutcomeForwarded:
				pr.Completed++
			case OutcomeMissing:
				pr.Missing++
			case OutcomeSkippedTopic:
				pr.Skipped++
			default:
				pr.Failed++
			}
		})

		report.item(ctx, p.snapshot(job.ID), note)

		if i < len(job.IDs)-1 {
			if err := p.sleep(ctx, worker.Jitter(p.opts.MinDelay, p.opts.MaxDelay)); err != nil {
				logger.Info().Err(err).Msg("backup job interrupted")
				p.clear(job.ID)

				return
			}
		}
	}

	final := p.snapshot(job.ID)
	if final == nil {
		observability.BackupJobs.WithLabelValues(JobStopped).Inc()
		logger.Info().Int("processed", len(job.IDs)).Msg("backup job stopped")
		report.finish(ctx, "Backup stopped.")

		return
	}

	p.clear(job.ID)

	done := final.Completed

	observability.BackupJobs.WithLabelValues(JobCompleted).Inc()
	logger.Info().Int("done", done).Int("total", len(job.IDs)).Msg("backup job completed")
	report.finish(ctx, fmt.Sprintf("Completed, processed %d/%d", done, len(job.IDs)))
}

func (p *Processor) safeProcess(ctx context.Context, job Job, id int, logger *zerolog.Logger) (outcome, note string) {
	outcome = OutcomeFailed
	note = fmt.Sprintf("failed %d", id)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Int("msg_id", id).Msg("recovered from panic while processing item")
		}
	}()

	return p.processItem(ctx, job, id, logger)
}

func (p *Processor) processItem(ctx context.Context, job Job, id int, logger *zerolog.Logger) (string, string) {
	l := logger.With().Int("msg_id", id).Logger()

	if !p.deps.Peers.Ensure(ctx, job.ChatID) {
		l.Debug().Msg("peer not warmed, trying fetch anyway")
	}

	res := p.deps.Messages.Fetch(ctx, job.ChatID, id)
	if !res.Found() {
		l.Info().Err(res.Err).Str("status", res.Status.String()).Msg("message missing")
		return OutcomeMissing, fmt.Sprintf("missing %d", id)
	}

	msg := res.Message

	if job.TopicID != 0 {
		topic, ok := p.deps.Messages.Topic(ctx, job.ChatID, msg)
		if !ok || topic != job.TopicID {
			l.Debug().Int("topic", topic).Msg("message outside topic")
			return OutcomeSkippedTopic, fmt.Sprintf("skipped %d not in topic", id)
		}
	}

	rules := p.deps.Settings.Filters()
	text := p.deps.Captions.Extract(ctx, job.ChatID, msg)

	filtered, entities, changed := textfilter.ApplyFormatted(text.Text, text.Entities, rules)

	dest, err := p.deps.Peers.InputPeer(ctx, p.deps.Settings.Destination())
	if err != nil {
		l.Error().Err(err).Int64("destination", p.deps.Settings.Destination()).Msg("destination unresolved")
		return OutcomeFailed, fmt.Sprintf("failed %d: destination unavailable", id)
	}

	source, _ := p.deps.Peers.Lookup(ctx, job.ChatID)

	if p.canForward(msg, source, changed) {
		if _, err := p.deps.Deliverer.Forward(ctx, source.Input, dest, []int{id}, true); err == nil {
			return OutcomeForwarded, ""
		}

		l.Debug().Msg("forward failed, downloading")
	}

	item := delivery.Item{
		SourceChat:  job.ChatID,
		SourceTitle: job.Title,
		SourcePeer:  source.Input,
		Message:     msg,
		Text:        filtered,
		Entities:    entities,
	}

	if media.HasMedia(msg) {
		p.download(ctx, job.ChatID, msg, rules, &item, &l)
	}

	out, err := p.deps.Deliverer.Deliver(ctx, dest, item)
	if err != nil {
		l.Warn().Err(err).Msg("delivery failed")
		return OutcomeFailed, fmt.Sprintf("failed %d", id)
	}

	l.Debug().Str("route", out.Route).Int("dest_msg_id", out.MessageID).Msg("item delivered")

	return OutcomeDelivered, ""
}

// canForward reports whether the message can go out as a forward with the
// author hidden. Forwards keep the original caption, so a caption the
// filters would change is never forwarded.
func (p *Processor) canForward(msg *tg.Message, source peers.Peer, captionChanged bool) bool {
	return p.opts.ForwardUnprotected &&
		source.Input != nil &&
		!msg.Noforwards &&
		!source.Protected &&
		!captionChanged
}

func (p *Processor) download(ctx context.Context, chatID int64, msg *tg.Message, rules textfilter.Rules, item *delivery.Item, l *zerolog.Logger) {
	hint := textfilter.Apply(media.FilenameHint(msg, chatID), rules)

	res := p.deps.Downloads.Fetch(ctx, chatID, msg, hint)
	if !res.OK() {
		l.Info().Err(res.Err).Msg("media undownloadable, delivering text")
		return
	}

	cls := media.Classify(msg, res.Path)

	item.Path = res.Path
	item.Kind = cls.Kind
	item.MIMEType = cls.MIMEType

	if cls.Filename != "" {
		item.Filename = media.SanitizeFilename(textfilter.Apply(cls.Filename, rules))
	}

	l.Debug().Str("stage", res.Stage).Str("kind", cls.Kind.String()).Str("source", cls.Source).Msg("media downloaded")

	if cls.Kind == media.KindVideo && p.deps.Video != nil && p.deps.Settings.Watermark() {
		p.watermark(ctx, item, l)
	}
}

func (p *Processor) watermark(ctx context.Context, item *delivery.Item, l *zerolog.Logger) {
	wm, err := p.deps.Video.Watermark(ctx, item.Path)
	if err != nil {
		l.Warn().Err(err).Msg("watermark failed, sending original")
		return
	}

	item.Cleanup = append(item.Cleanup, item.Path)
	item.Path = wm
	item.Watermarked = true

	thumb, err := p.deps.Video.Thumbnail(ctx, wm)
	if err != nil {
		l.Debug().Err(err).Msg("thumbnail failed")
		return
	}

	item.Thumb = thumb
}

func (p *Processor) setCurrent(pr *Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = pr
}

func (p *Processor) active(jobID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.current != nil && p.current.Job.ID == jobID
}

func (p *Processor) update(jobID string, fn func(*Progress)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && p.current.Job.ID == jobID {
		fn(p.current)
	}
}

func (p *Processor) snapshot(jobID string) *Progress {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.current == nil || p.current.Job.ID != jobID {
		return nil
	}

	s := *p.current

	return &s
}

func (p *Processor) clear(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil && p.current.Job.ID == jobID {
		p.current = nil
	}
}

// Describe renders a status answer for chat.
func Describe(st Status) string {
	if st.Idle() {
		return fmt.Sprintf("Idle. Queue: %d", st.QueueDepth)
	}

	pr := st.Progress

	var b strings.Builder

	title := pr.Job.Title
	if title == "" {
		title = strconv.FormatInt(pr.Job.ChatID, 10)
	}

	fmt.Fprintf(&b, "Running: %s\n", title)
	fmt.Fprintf(&b, "Item %d/%d (id %d), done %d", pr.Index, pr.Total, pr.CurrentID, pr.Completed)

	if pr.Job.TopicID != 0 {
		fmt.Fprintf(&b, ", topic %d", pr.Job.TopicID)
	}

	fmt.Fprintf(&b, "\nQueue: %d", st.QueueDepth)

	return b.String()
}
