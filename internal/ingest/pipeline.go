package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/MrWong99/sonichunter/internal/catalog"
	"github.com/MrWong99/sonichunter/internal/observe"
)

// Defaults applied by [New].
const (
	DefaultQueueSize           = 64
	DefaultBackfillLimit       = 500
	DefaultBackfillInterval    = 500 * time.Millisecond
	DefaultBackfillConcurrency = 4
)

// ErrNotRunning is returned by [Pipeline.Dispatch] before [Pipeline.Run]
// starts or after it returns.
var ErrNotRunning = errors.New("ingest pipeline not running")

// ErrQueueFull is returned by [Pipeline.Dispatch] when the channel's queue
// has no free slot.
var ErrQueueFull = errors.New("ingest queue full")

// errWindowDone stops a history walk once the backfill window is exhausted.
var errWindowDone = errors.New("backfill window exhausted")

// Catalog is the part of the catalog store the pipeline writes to.
type Catalog interface {
	UpsertTrackIfAbsent(ctx context.Context, t catalog.Track) (catalog.InsertResult, error)
	HasSource(ctx context.Context, channelID, messageID string) (bool, error)
}

// Report summarises one channel's backfill.
type Report struct {
	ChannelID string
	Visited   int
	Outcomes  map[Outcome]int

	// Err is the enumeration error that ended the scan early, if any.
	// Per-message failures are counted as [Dropped] instead.
	Err error
}

// Pipeline runs the ingestion state machine. Construct it with [New] and
// start the live workers with [Pipeline.Run].
type Pipeline struct {
	resolver Resolver
	catalog  Catalog
	metrics  *observe.Metrics
	pacer    *pacer

	queueSize   int
	concurrency int

	inflight singleflight.Group

	mu      sync.Mutex
	runCtx  context.Context
	queues  map[string]chan Message
	workers sync.WaitGroup
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithQueueSize sets the per-channel live queue capacity.
func WithQueueSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

// WithBackfillInterval sets the per-channel minimum spacing between
// resolutions during backfill. Zero disables pacing.
func WithBackfillInterval(d time.Duration) Option {
	return func(p *Pipeline) { p.pacer = newPacer(d) }
}

// WithBackfillConcurrency bounds how many channels [Pipeline.BackfillAll]
// scans at once.
func WithBackfillConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithMetrics records pipeline metrics on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a [Pipeline].
func New(r Resolver, c Catalog, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver:    r,
		catalog:     c,
		pacer:       newPacer(DefaultBackfillInterval),
		queueSize:   DefaultQueueSize,
		concurrency: DefaultBackfillConcurrency,
		queues:      make(map[string]chan Message),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// HandleLive processes one live message synchronously.
func (p *Pipeline) HandleLive(ctx context.Context, msg Message) Outcome {
	return p.process(ctx, msg, "live", nil)
}

// process runs the state machine for msg. When lim is non-nil it is waited
// on before the resolver is invoked.
func (p *Pipeline) process(ctx context.Context, msg Message, source string, lim *rate.Limiter) Outcome {
	out := p.step(ctx, msg, lim)
	p.metrics.RecordIngest(ctx, out.String(), source)
	return out
}

func (p *Pipeline) step(ctx context.Context, msg Message, lim *rate.Limiter) Outcome {
	if msg.Audio == nil {
		return Ignored
	}
	log := observe.Logger(ctx).With(
		"channel_id", msg.ChannelID,
		"message_id", msg.MessageID,
	)

	// Concurrent events for one source message share a single relay: only
	// the first runs, the others wait and report Skipped.
	ran := false
	v, _, _ := p.inflight.Do(msg.ChannelID+"/"+msg.MessageID, func() (any, error) {
		ran = true
		return p.ingest(ctx, msg, lim, log), nil
	})
	out := v.(Outcome)
	if !ran && (out == Inserted || out == Duplicate) {
		log.Debug("source catalogued by a concurrent event")
		return Skipped
	}
	return out
}

// ingest checks the source, resolves and persists msg.
func (p *Pipeline) ingest(ctx context.Context, msg Message, lim *rate.Limiter, log *slog.Logger) Outcome {
	seen, err := p.catalog.HasSource(ctx, msg.ChannelID, msg.MessageID)
	if err != nil {
		log.Warn("dropping audio: source lookup failed", "err", err)
		return Dropped
	}
	if seen {
		log.Debug("source already catalogued")
		return Skipped
	}

	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			log.Debug("dropping audio: pacing wait aborted", "err", err)
			return Dropped
		}
	}

	ref, err := p.resolve(ctx, msg)
	if err != nil {
		log.Warn("dropping audio: resolution failed", "attachment", msg.Audio.Filename, "err", err)
		return Dropped
	}

	track := extract(msg, ref)
	res, err := p.catalog.UpsertTrackIfAbsent(ctx, track)
	if err != nil {
		log.Error("dropping audio: persist failed", "ref", ref, "err", err)
		return Dropped
	}
	if res == catalog.AlreadyPresent {
		log.Debug("track already catalogued", "ref", ref)
		return Duplicate
	}
	log.Info("track catalogued", "ref", ref, "artist", track.Artist, "title", track.Title)
	return Inserted
}

func (p *Pipeline) resolve(ctx context.Context, msg Message) (string, error) {
	ctx, span := observe.StartSpan(ctx, "ingest.Resolve")
	start := time.Now()
	ref, err := p.resolver.Resolve(ctx, msg)
	p.metrics.RecordResolve(ctx, time.Since(start), err)
	observe.EndSpan(span, err)
	return ref, err
}

// Run starts accepting [Pipeline.Dispatch] calls and blocks until ctx is
// cancelled. On return every per-channel worker has exited; events still
// queued at that point are discarded.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.runCtx != nil {
		p.mu.Unlock()
		return errors.New("ingest: pipeline already running")
	}
	p.runCtx = ctx
	p.mu.Unlock()

	<-ctx.Done()

	p.mu.Lock()
	queues := make([]chan Message, 0, len(p.queues))
	for id, q := range p.queues {
		close(q)
		delete(p.queues, id)
		queues = append(queues, q)
	}
	p.mu.Unlock()

	p.workers.Wait()

	var discarded int
	for _, q := range queues {
		discarded += len(q)
	}
	if discarded > 0 {
		p.metrics.QueueDepth.Add(context.WithoutCancel(ctx), -int64(discarded))
		slog.Info("ingest pipeline stopped, discarding queued events", "count", discarded)
	}
	return nil
}

// Dispatch enqueues msg on its channel's serial worker, starting the worker
// on first use. It never blocks: a full queue drops the event and returns
// [ErrQueueFull].
func (p *Pipeline) Dispatch(msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.runCtx == nil || p.runCtx.Err() != nil {
		return ErrNotRunning
	}

	q, ok := p.queues[msg.ChannelID]
	if !ok {
		q = make(chan Message, p.queueSize)
		p.queues[msg.ChannelID] = q
		p.workers.Add(1)
		go p.work(p.runCtx, q)
	}

	select {
	case q <- msg:
		p.metrics.QueueDepth.Add(p.runCtx, 1)
		return nil
	default:
		slog.Warn("ingest queue full, dropping event",
			"channel_id", msg.ChannelID,
			"message_id", msg.MessageID,
			"capacity", p.queueSize,
		)
		p.metrics.RecordIngest(p.runCtx, Dropped.String(), "live")
		return ErrQueueFull
	}
}

func (p *Pipeline) work(ctx context.Context, q <-chan Message) {
	defer p.workers.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-q:
			if !ok {
				return
			}
			p.metrics.QueueDepth.Add(ctx, -1)
			p.process(ctx, msg, "live", nil)
		}
	}
}

// Backfill walks at most limit (default [DefaultBackfillLimit]) historical
// messages of channelID, newest first, applying the same state machine as
// live events. A failing message is counted and the scan continues; an
// enumeration failure ends the scan and is returned in [Report.Err].
func (p *Pipeline) Backfill(ctx context.Context, h History, channelID string, limit int) Report {
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}
	rep := Report{ChannelID: channelID, Outcomes: make(map[Outcome]int)}
	lim := p.pacer.limiter(channelID)
	log := slog.With("channel_id", channelID)
	log.Info("backfill started", "limit", limit)

	err := h.Walk(ctx, channelID, limit, func(ctx context.Context, msg Message) error {
		if rep.Visited >= limit {
			return errWindowDone
		}
		rep.Visited++
		p.metrics.BackfillMessages.Add(ctx, 1)
		rep.Outcomes[p.process(ctx, msg, "backfill", lim)]++
		return ctx.Err()
	})
	if err != nil && !errors.Is(err, errWindowDone) {
		rep.Err = err
		if errors.Is(err, context.Canceled) {
			log.Info("backfill cancelled", "visited", rep.Visited)
		} else {
			log.Error("backfill aborted", "visited", rep.Visited, "err", err)
		}
		return rep
	}

	log.Info("backfill finished",
		"visited", rep.Visited,
		"inserted", rep.Outcomes[Inserted],
		"duplicate", rep.Outcomes[Duplicate],
		"skipped", rep.Outcomes[Skipped],
		"dropped", rep.Outcomes[Dropped],
	)
	return rep
}

// BackfillAll backfills every channel with bounded concurrency and returns
// one report per channel in input order. A failing channel never stops the
// others.
func (p *Pipeline) BackfillAll(ctx context.Context, h History, channels []string, limit int) []Report {
	reports := make([]Report, len(channels))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, id := range channels {
		g.Go(func() error {
			reports[i] = p.Backfill(ctx, h, id, limit)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}
