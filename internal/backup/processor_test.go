package backup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/telegram-backup-bot/internal/caption"
	errs "github.com/lueurxax/telegram-backup-bot/internal/core/errors"
	"github.com/lueurxax/telegram-backup-bot/internal/delivery"
	"github.com/lueurxax/telegram-backup-bot/internal/fetch"
	"github.com/lueurxax/telegram-backup-bot/internal/links"
	"github.com/lueurxax/telegram-backup-bot/internal/media"
	"github.com/lueurxax/telegram-backup-bot/internal/peers"
	"github.com/lueurxax/telegram-backup-bot/internal/textfilter"
)

const (
	chatA = int64(-1001000000001)
	chatB = int64(-1001000000002)
)

type fakePeers struct{ protected bool }

func (fakePeers) Ensure(context.Context, int64) bool { return true }

func (f fakePeers) Lookup(_ context.Context, chatID int64) (peers.Peer, bool) {
	return peers.Peer{ChatID: chatID, Protected: f.protected, Input: &tg.InputPeerChannel{ChannelID: -chatID}}, true
}

func (fakePeers) InputPeer(context.Context, int64) (tg.InputPeerClass, error) {
	return &tg.InputPeerChannel{ChannelID: 99}, nil
}

type fakeMessages struct {
	missing  map[int]bool
	topics   map[int]int
	media    bool
	entities []tg.MessageEntityClass
}

func (m fakeMessages) Fetch(_ context.Context, _ int64, id int) fetch.Result {
	if m.missing[id] {
		return fetch.Result{Status: fetch.StatusNotFound, Err: errs.ErrMessageNotFound}
	}

	msg := &tg.Message{ID: id, Message: "post about @old", Entities: m.entities}
	if m.media {
		msg.Media = &tg.MessageMediaDocument{Document: &tg.Document{ID: int64(id), MimeType: "video/mp4"}}
	}

	return fetch.Result{Status: fetch.StatusFound, Message: msg}
}

func (m fakeMessages) Topic(_ context.Context, _ int64, msg *tg.Message) (int, bool) {
	t, ok := m.topics[msg.ID]
	return t, ok
}

type plainCaptions struct{}

func (plainCaptions) Extract(_ context.Context, _ int64, msg *tg.Message) caption.Text {
	return caption.Text{Text: msg.Message, Entities: msg.Entities}
}

type fakeDownloads struct{ path string }

func (d fakeDownloads) Fetch(context.Context, int64, *tg.Message, string) media.Result {
	if d.path == "" {
		return media.Result{Err: errs.ErrUndownloadable}
	}

	return media.Result{Path: d.path, Stage: media.StageDirect}
}

type delivered struct {
	chat int64
	id   int
	item delivery.Item
}

type fakeDeliverer struct {
	mu        sync.Mutex
	items     []delivered
	forwards  [][]int
	forwardOK bool
	// block, when set, is called inside Deliver before it returns.
	block func()
}

func (d *fakeDeliverer) Deliver(_ context.Context, _ tg.InputPeerClass, item delivery.Item) (delivery.Outcome, error) {
	if d.block != nil {
		d.block()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.items = append(d.items, delivered{chat: item.SourceChat, id: item.Message.ID, item: item})

	return delivery.Outcome{Route: delivery.RouteText}, nil
}

func (d *fakeDeliverer) Forward(_ context.Context, _, _ tg.InputPeerClass, ids []int, _ bool) (delivery.Outcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.forwards = append(d.forwards, ids)

	if !d.forwardOK {
		return delivery.Outcome{}, errs.ErrProtectedContent
	}

	return delivery.Outcome{Route: delivery.RouteForward}, nil
}

func (d *fakeDeliverer) snapshot() []delivered {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]delivered(nil), d.items...)
}

type fakeSettings struct {
	rules     textfilter.Rules
	watermark bool
}

func (s fakeSettings) Filters() textfilter.Rules { return s.rules }
func (fakeSettings) Destination() int64          { return -1009999999999 }
func (s fakeSettings) Watermark() bool           { return s.watermark }

type fakeReporter struct {
	mu    sync.Mutex
	edits []string
}

func (r *fakeReporter) Post(context.Context, int64, string) (int, error) { return 1, nil }

func (r *fakeReporter) Edit(_ context.Context, _ int64, _ int, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.edits = append(r.edits, text)

	return nil
}

func (r *fakeReporter) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.edits) == 0 {
		return ""
	}

	return r.edits[len(r.edits)-1]
}

type fakeVideo struct{}

func (fakeVideo) Watermark(_ context.Context, in string) (string, error) { return in + ".wm", nil }
func (fakeVideo) Thumbnail(_ context.Context, in string) (string, error) { return in + ".jpg", nil }

func newTestProcessor(deps Deps, opts Options) *Processor {
	logger := zerolog.Nop()

	if deps.Peers == nil {
		deps.Peers = fakePeers{}
	}

	if deps.Messages == nil {
		deps.Messages = fakeMessages{}
	}

	if deps.Captions == nil {
		deps.Captions = plainCaptions{}
	}

	if deps.Downloads == nil {
		deps.Downloads = fakeDownloads{}
	}

	if deps.Settings == nil {
		deps.Settings = fakeSettings{}
	}

	if opts.PollInterval == 0 {
		opts.PollInterval = 10 * time.Millisecond
	}

	p := NewProcessor(NewQueue(), deps, opts, &logger)
	p.sleep = func(context.Context, time.Duration) error { return nil }

	return p
}

func mustJob(t *testing.T, chatID int64, topic int, ids ...int) Job {
	t.Helper()

	job, err := NewJob(chatID, "", topic, links.MessageIDSet(ids), 777)
	require.NoError(t, err)

	return job
}

func TestNewJob_Empty(t *testing.T) {
	_, err := NewJob(chatA, "", 0, nil, 1)
	require.ErrorIs(t, err, errs.ErrEmptyJob)
}

func TestProcessor_JobsInSubmissionOrder(t *testing.T) {
	d := &fakeDeliverer{}
	p := newTestProcessor(Deps{Deliverer: d}, Options{})

	_, err := p.Submit(mustJob(t, chatA, 0, 1, 2, 3))
	require.NoError(t, err)

	pos, err := p.Submit(mustJob(t, chatB, 0, 10, 11))
	require.NoError(t, err)
	assert.Equal(t, 2, pos)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(d.snapshot()) == 5 }, 2*time.Second, 5*time.Millisecond)

	var order []int
	for _, it := range d.snapshot() {
		order = append(order, it.id)
	}

	assert.Equal(t, []int{1, 2, 3, 10, 11}, order)
	assert.Equal(t, chatB, d.snapshot()[4].chat)
	require.Eventually(t, func() bool { return p.Status().Idle() }, time.Second, 5*time.Millisecond)
}

func TestProcessor_StatusDuringProcessing(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once

	d := &fakeDeliverer{block: func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}}
	p := newTestProcessor(Deps{Deliverer: d}, Options{})

	_, err := p.Submit(mustJob(t, chatA, 0, 5, 6))
	require.NoError(t, err)
	_, err = p.Submit(mustJob(t, chatB, 0, 7))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = p.Run(ctx) }()

	<-entered

	st := p.Status()
	require.False(t, st.Idle())
	assert.Equal(t, 1, st.Progress.Index)
	assert.Equal(t, 2, st.Progress.Total)
	assert.Equal(t, 5, st.Progress.CurrentID)
	assert.Equal(t, 1, st.QueueDepth)
	assert.Contains(t, Describe(st), "Item 1/2")

	close(release)

	require.Eventually(t, func() bool { return len(d.snapshot()) == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestProcessor_StopHaltsAfterInFlightItem(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once

	d := &fakeDeliverer{block: func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}}
	rep := &fakeReporter{}
	p := newTestProcessor(Deps{Deliverer: d, Reporter: rep}, Options{})

	job := mustJob(t, chatA, 0, 1, 2, 3)
	done := make(chan struct{})

	go func() {
		p.RunJob(context.Background(), job)
		close(done)
	}()

	<-entered
	assert.True(t, p.Stop())
	close(release)
	<-done

	items := d.snapshot()
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].id)
	assert.True(t, p.Status().Idle())
	assert.Equal(t, "Backup stopped.", rep.last())
	assert.False(t, p.Stop())
}

func TestProcessor_MissingAndTopicSkip(t *testing.T) {
	d := &fakeDeliverer{}
	rep := &fakeReporter{}
	msgs := fakeMessages{
		missing: map[int]bool{2: true},
		topics:  map[int]int{1: 7, 3: 8, 4: 7},
	}
	p := newTestProcessor(Deps{Deliverer: d, Messages: msgs, Reporter: rep}, Options{})

	p.RunJob(context.Background(), mustJob(t, chatA, 7, 1, 2, 3, 4))

	var ids []int
	for _, it := range d.snapshot() {
		ids = append(ids, it.id)
	}

	assert.Equal(t, []int{1, 4}, ids)
	assert.Equal(t, "Completed, processed 2/4", rep.last())

	require.GreaterOrEqual(t, len(rep.edits), 4)
	progress := rep.edits[len(rep.edits)-2]
	assert.Contains(t, progress, "4/4 processed, done 2")
	assert.Contains(t, progress, "missing 2")
	assert.Contains(t, progress, "skipped 3 not in topic")
}

func TestProcessor_FiltersApplied(t *testing.T) {
	d := &fakeDeliverer{}
	msgs := fakeMessages{entities: []tg.MessageEntityClass{
		&tg.MessageEntityBold{Offset: 0, Length: 4},
		&tg.MessageEntityTextURL{Offset: 11, Length: 4, URL: "https://t.me/old"},
	}}
	p := newTestProcessor(Deps{
		Deliverer: d,
		Messages:  msgs,
		Settings:  fakeSettings{rules: textfilter.Rules{"@old": "@fresh"}},
	}, Options{})

	p.RunJob(context.Background(), mustJob(t, chatA, 0, 1))

	items := d.snapshot()
	require.Len(t, items, 1)
	assert.Equal(t, "post about @fresh", items[0].item.Text)
	assert.Equal(t, []tg.MessageEntityClass{
		&tg.MessageEntityBold{Offset: 0, Length: 4},
		&tg.MessageEntityTextURL{Offset: 11, Length: 6, URL: "https://t.me/old"},
	}, items[0].item.Entities)
}

func TestProcessor_ForwardUnprotected(t *testing.T) {
	t.Run("forwarded when allowed", func(t *testing.T) {
		d := &fakeDeliverer{forwardOK: true}
		p := newTestProcessor(Deps{Deliverer: d}, Options{ForwardUnprotected: true})

		p.RunJob(context.Background(), mustJob(t, chatA, 0, 1, 2))

		assert.Equal(t, [][]int{{1}, {2}}, d.forwards)
		assert.Empty(t, d.snapshot())
	})

	t.Run("protected chat goes through delivery", func(t *testing.T) {
		d := &fakeDeliverer{forwardOK: true}
		p := newTestProcessor(Deps{Deliverer: d, Peers: fakePeers{protected: true}}, Options{ForwardUnprotected: true})

		p.RunJob(context.Background(), mustJob(t, chatA, 0, 1))

		assert.Empty(t, d.forwards)
		assert.Len(t, d.snapshot(), 1)
	})

	t.Run("changed caption is not forwarded", func(t *testing.T) {
		d := &fakeDeliverer{forwardOK: true}
		p := newTestProcessor(Deps{Deliverer: d, Settings: fakeSettings{rules: textfilter.Rules{"@old": ""}}}, Options{ForwardUnprotected: true})

		p.RunJob(context.Background(), mustJob(t, chatA, 0, 1))

		assert.Empty(t, d.forwards)
		assert.Len(t, d.snapshot(), 1)
	})

	t.Run("failed forward falls back", func(t *testing.T) {
		d := &fakeDeliverer{}
		p := newTestProcessor(Deps{Deliverer: d}, Options{ForwardUnprotected: true})

		p.RunJob(context.Background(), mustJob(t, chatA, 0, 1))

		assert.Len(t, d.forwards, 1)
		assert.Len(t, d.snapshot(), 1)
	})
}

func TestProcessor_VideoWatermarked(t *testing.T) {
	d := &fakeDeliverer{}
	p := newTestProcessor(Deps{
		Deliverer: d,
		Messages:  fakeMessages{media: true},
		Downloads: fakeDownloads{path: "/tmp/dl/clip.mp4"},
		Video:     fakeVideo{},
		Settings:  fakeSettings{watermark: true},
	}, Options{})

	p.RunJob(context.Background(), mustJob(t, chatA, 0, 3))

	items := d.snapshot()
	require.Len(t, items, 1)

	item := items[0].item
	assert.Equal(t, media.KindVideo, item.Kind)
	assert.Equal(t, "/tmp/dl/clip.mp4.wm", item.Path)
	assert.Equal(t, "/tmp/dl/clip.mp4.wm.jpg", item.Thumb)
	assert.Equal(t, []string{"/tmp/dl/clip.mp4"}, item.Cleanup)
	assert.True(t, item.Watermarked)
}

func TestProcessor_UndownloadableDeliversText(t *testing.T) {
	d := &fakeDeliverer{}
	p := newTestProcessor(Deps{Deliverer: d, Messages: fakeMessages{media: true}}, Options{})

	p.RunJob(context.Background(), mustJob(t, chatA, 0, 3))

	items := d.snapshot()
	require.Len(t, items, 1)
	assert.Empty(t, items[0].item.Path)
	assert.Equal(t, "post about @old", items[0].item.Text)
}

func TestProcessor_PanicInItemDoesNotAbortJob(t *testing.T) {
	calls := 0
	d := &fakeDeliverer{block: func() {
		calls++
		if calls == 1 {
			panic("boom")
		}
	}}
	rep := &fakeReporter{}
	p := newTestProcessor(Deps{Deliverer: d, Reporter: rep}, Options{})

	p.RunJob(context.Background(), mustJob(t, chatA, 0, 1, 2))

	assert.Len(t, d.snapshot(), 1)
	assert.Equal(t, "Completed, processed 1/2", rep.last())
}

func TestQueue_NextTimesOut(t *testing.T) {
	q := NewQueue()

	start := time.Now()
	_, ok := q.Next(context.Background(), 20*time.Millisecond)

	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestQueue_Closed(t *testing.T) {
	q := NewQueue()
	q.Close()

	_, err := q.Enqueue(Job{IDs: links.MessageIDSet{1}})
	require.ErrorIs(t, err, errs.ErrQueueClosed)
}

func TestTruncateStatus(t *testing.T) {
	short := "1/2 processed"
	assert.Equal(t, short, TruncateStatus(short))

	long := make([]rune, 5000)
	for i := range long {
		long[i] = 'x'
	}

	got := TruncateStatus(string(long))
	assert.Equal(t, maxStatusLen, len([]rune(got)))
}

func TestRenderStatus_KeepsLatestNotes(t *testing.T) {
	header := "400/400 processed, done 0"

	notes := make([]string, 0, 400)
	for id := 1000; id < 1400; id++ {
		notes = append(notes, fmt.Sprintf("missing %d", id))
	}

	got := renderStatus(header, notes)

	assert.LessOrEqual(t, utf8.RuneCountInString(got), maxStatusLen)
	assert.True(t, strings.HasPrefix(got, header+"\n… "))
	assert.True(t, strings.HasSuffix(got, "\nmissing 1399"))
	assert.NotContains(t, got, "missing 1000\n")
	assert.Contains(t, got, "earlier notes")
	assert.Equal(t, got, TruncateStatus(got))
}

func TestRenderStatus_AllNotesFit(t *testing.T) {
	got := renderStatus("2/2 processed, done 1", []string{"missing 4"})

	assert.Equal(t, "2/2 processed, done 1\nmissing 4", got)
}
