// Package feed drives incremental loading and viewport playback of a single
// video feed view.
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/reelfeed/reelfeed/internal/metrics"
	"github.com/reelfeed/reelfeed/internal/visibility"
)

// DefaultPageSize is the number of videos requested per fetch.
const DefaultPageSize = 5

var tracer = otel.Tracer("github.com/reelfeed/reelfeed/internal/feed")

var (
	ErrAuthRequired = errors.New("feed: sign in required for this category")
	ErrClosed       = errors.New("feed: controller closed")
)

// State is the pagination state of a controller.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateExhausted:
		return "exhausted"
	default:
		return "idle"
	}
}

// Outcome describes what a single LoadNextPage call did.
type Outcome int

const (
	OutcomeSkipped   Outcome = iota // busy, exhausted, closed or no category yet
	OutcomeAppended                 // non-empty batch merged into the sequence
	OutcomeExhausted                // empty batch, no more pages
	OutcomeStale                    // response dropped after a reset or close
	OutcomeFailed                   // fetch failed, controller stays retryable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAppended:
		return "appended"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeStale:
		return "stale"
	case OutcomeFailed:
		return "failed"
	default:
		return "skipped"
	}
}

type Config struct {
	Fetcher  Fetcher
	Tokens   TokenSource // may be nil when signed out
	PageSize int         // defaults to DefaultPageSize
	Reporter Reporter    // optional
	Logger   *zerolog.Logger
}

// Snapshot is a point-in-time copy of the controller state for rendering.
type Snapshot struct {
	Category  Category
	Videos    []Video
	State     State
	HasMore   bool
	IsLoading bool
	Epoch     uint64
	LastError string
}

// Controller owns one feed instance. All methods are safe for concurrent
// use; at most one fetch is in flight at any time.
type Controller struct {
	fetcher  Fetcher
	tokens   TokenSource
	pageSize int
	reporter Reporter
	logger   zerolog.Logger

	mu       sync.Mutex
	category Category
	videos   []Video
	seen     map[int64]struct{}
	hasMore  bool
	loading  bool
	epoch    uint64
	closed   bool
	lastErr  error
	cancel   context.CancelFunc
}

func New(cfg Config) *Controller {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "feed").Logger()
	}
	return &Controller{
		fetcher:  cfg.Fetcher,
		tokens:   cfg.Tokens,
		pageSize: pageSize,
		reporter: cfg.Reporter,
		logger:   logger,
		seen:     make(map[int64]struct{}),
		hasMore:  true,
	}
}

// Reset discards the loaded sequence, switches to category and loads its
// first page. Any response still in flight for the previous state is
// dropped when it arrives.
func (c *Controller) Reset(ctx context.Context, category Category) (Outcome, error) {
	if !category.Valid() {
		return OutcomeSkipped, ErrUnknownCategory
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return OutcomeSkipped, ErrClosed
	}
	c.epoch++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.category = category
	c.videos = nil
	c.seen = make(map[int64]struct{})
	c.hasMore = true
	c.loading = false
	c.lastErr = nil
	epoch := c.epoch
	c.mu.Unlock()

	c.logger.Debug().Str("category", category.String()).Uint64("epoch", epoch).Msg("feed reset")
	return c.LoadNextPage(ctx)
}

// LoadNextPage requests the page following the loaded sequence. It is a
// no-op while a fetch is in flight or once the category is exhausted.
func (c *Controller) LoadNextPage(ctx context.Context) (Outcome, error) {
	c.mu.Lock()
	if c.closed || c.loading || !c.hasMore || c.category == "" {
		c.mu.Unlock()
		return OutcomeSkipped, nil
	}

	category := c.category
	page := Page{Category: category, Skip: len(c.videos), Limit: c.pageSize}
	if category.RequiresAuth() {
		if c.tokens != nil {
			page.Token = c.tokens.Token()
		}
		if page.Token == "" {
			c.lastErr = ErrAuthRequired
			c.mu.Unlock()
			c.fail(category, ErrAuthRequired)
			return OutcomeFailed, ErrAuthRequired
		}
	}

	epoch := c.epoch
	fetchCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.loading = true
	c.mu.Unlock()

	fetchCtx, span := tracer.Start(fetchCtx, "reelfeed.feed.load_page",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("feed.category", category.String()),
			attribute.Int("feed.skip", page.Skip),
			attribute.Int("feed.limit", page.Limit),
		))
	batch, err := c.fetcher.FetchPage(fetchCtx, page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(attribute.Int("feed.batch", len(batch)))
	}
	span.End()
	cancel()

	c.mu.Lock()
	if c.closed || epoch != c.epoch {
		c.mu.Unlock()
		metrics.ObserveFeedLoad(category.String(), OutcomeStale.String())
		c.logger.Debug().Str("category", category.String()).Uint64("epoch", epoch).Msg("dropping stale feed response")
		return OutcomeStale, nil
	}
	c.cancel = nil
	c.loading = false

	if err != nil {
		c.lastErr = err
		c.mu.Unlock()
		c.fail(category, err)
		return OutcomeFailed, err
	}
	c.lastErr = nil

	if len(batch) == 0 {
		c.hasMore = false
		c.mu.Unlock()
		metrics.ObserveFeedLoad(category.String(), OutcomeExhausted.String())
		c.logger.Debug().Str("category", category.String()).Int("loaded", page.Skip).Msg("feed exhausted")
		return OutcomeExhausted, nil
	}

	added := 0
	for _, v := range batch {
		if _, dup := c.seen[v.ID]; dup {
			continue
		}
		c.seen[v.ID] = struct{}{}
		c.videos = append(c.videos, v)
		added++
	}
	total := len(c.videos)
	c.mu.Unlock()

	metrics.ObserveFeedLoad(category.String(), OutcomeAppended.String())
	if added < len(batch) {
		c.logger.Warn().
			Str("category", category.String()).
			Int("batch", len(batch)).
			Int("duplicates", len(batch)-added).
			Msg("backend returned overlapping page")
	}
	c.logger.Debug().Str("category", category.String()).Int("added", added).Int("total", total).Msg("feed page appended")
	return OutcomeAppended, nil
}

// OnNearEnd is called by the presentation layer with index, the last item on
// screen. It loads the next page once index is within one item of the end of
// the loaded sequence and is skipped otherwise.
func (c *Controller) OnNearEnd(ctx context.Context, index int) (Outcome, error) {
	c.mu.Lock()
	loaded := len(c.videos)
	c.mu.Unlock()
	if !NearEnd(index, loaded) {
		return OutcomeSkipped, nil
	}
	return c.LoadNextPage(ctx)
}

// NearEnd reports whether index, the last item on screen, is within one item
// of the end of a sequence of the given length.
func NearEnd(index, length int) bool {
	return index >= length-2
}

// SetLikes updates the like counter of a loaded video. It reports false when
// the video is not in the current sequence.
func (c *Controller) SetLikes(id int64, likes int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.videos {
		if c.videos[i].ID == id {
			c.videos[i].Likes = likes
			return true
		}
	}
	return false
}

// OnVisibilityChange plays media when it becomes visible and pauses it
// otherwise. Calls after Close are ignored.
func (c *Controller) OnVisibilityChange(media visibility.Media, visible bool) error {
	if media == nil {
		return nil
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}
	if visible {
		return media.Play()
	}
	return media.Pause()
}

// Watch consumes visibility events until the channel closes or ctx ends.
// Media errors are logged and do not stop the loop.
func (c *Controller) Watch(ctx context.Context, events <-chan visibility.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.OnVisibilityChange(ev.Media, ev.Visible); err != nil {
				c.logger.Debug().Err(err).Str("element", ev.ID).Bool("visible", ev.Visible).Msg("media call failed")
			}
		}
	}
}

// Close unmounts the feed. An in-flight fetch is cancelled and its result
// is never applied.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.epoch++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.loading = false
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() State {
	switch {
	case c.loading:
		return StateLoading
	case !c.hasMore:
		return StateExhausted
	default:
		return StateIdle
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Category:  c.category,
		Videos:    append([]Video(nil), c.videos...),
		State:     c.stateLocked(),
		HasMore:   c.hasMore,
		IsLoading: c.loading,
		Epoch:     c.epoch,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *Controller) fail(category Category, err error) {
	metrics.ObserveFeedLoad(category.String(), OutcomeFailed.String())
	c.logger.Warn().Err(err).Str("category", category.String()).Msg("feed page failed")
	if c.reporter != nil {
		c.reporter.ReportFailure(category, err)
	}
}
