package server

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reelfeed/reelfeed/internal/api"
	"github.com/reelfeed/reelfeed/internal/feed"
	"github.com/reelfeed/reelfeed/internal/history"
	"github.com/reelfeed/reelfeed/internal/httputil"
	"github.com/reelfeed/reelfeed/internal/metrics"
	"github.com/reelfeed/reelfeed/internal/ratelimit"
	"github.com/reelfeed/reelfeed/internal/visibility"
)

var errTooManySessions = errors.New("too many open feed sessions")

type sessionKey struct{}

// element stands in for one rendered video. Play and Pause record the
// desired playback state, which the browser polls and applies.
type element struct {
	id       string
	videoID  int64
	category feed.Category
	session  *session
}

func (e *element) Play() error {
	e.session.setPlaying(e, true)
	return nil
}

func (e *element) Pause() error {
	e.session.setPlaying(e, false)
	return nil
}

// session is one mounted feed view: a controller, its visibility observer and
// the goroutine routing observer events back into the controller.
type session struct {
	id        string
	userAgent string
	country   string
	created   time.Time
	lastSeen  atomic.Int64 // unix nanoseconds
	ctrl      *feed.Controller
	obs       *visibility.Observer
	journal   PlayJournal
	logger    zerolog.Logger

	mu       sync.Mutex
	elements map[string]*element
	playing  map[string]bool
	failure  string

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (s *Server) openSession(r *http.Request) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) >= s.maxSessions {
		return nil, errTooManySessions
	}

	id := uuid.NewString()
	sess := &session{
		id:        id,
		userAgent: r.UserAgent(),
		created:   time.Now(),
		obs:       s.newObserver(),
		journal:   s.journal,
		logger:    s.logger.With().Str("session", id).Logger(),
		elements:  make(map[string]*element),
		playing:   make(map[string]bool),
		done:      make(chan struct{}),
	}
	sess.touch()
	if s.journal != nil && s.locator != nil {
		sess.country = s.locator.Country(ratelimit.ClientIP(r))
	}
	var tokens feed.TokenSource
	if s.credentials != nil {
		tokens = s.credentials
	}
	sess.ctrl = feed.New(feed.Config{
		Fetcher:  s.backend,
		Tokens:   tokens,
		PageSize: s.pageSize,
		Reporter: sess,
		Logger:   &sess.logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	go func() {
		defer close(sess.done)
		sess.ctrl.Watch(ctx, sess.obs.Events())
	}()

	s.sessions[id] = sess
	metrics.SessionMounted()
	sess.logger.Info().Msg("feed session opened")
	return sess, nil
}

func (s *Server) closeSession(id string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.close()
	}
	return ok
}

func (s *Server) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s.mu.Lock()
		sess, ok := s.sessions[id]
		s.mu.Unlock()
		if !ok {
			httputil.WriteError(w, http.StatusNotFound, "feed session not found")
			return
		}
		sess.touch()
		ctx := context.WithValue(r.Context(), sessionKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(ctx context.Context) *session {
	sess, _ := ctx.Value(sessionKey{}).(*session)
	return sess
}

func (sess *session) touch() {
	sess.lastSeen.Store(time.Now().UnixNano())
}

func (sess *session) seen() time.Time {
	return time.Unix(0, sess.lastSeen.Load())
}

// ReportFailure keeps the latest load failure for the next feed view.
func (sess *session) ReportFailure(_ feed.Category, err error) {
	sess.mu.Lock()
	sess.failure = userMessage(err)
	sess.mu.Unlock()
}

func (sess *session) notice() string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.failure
}

func (sess *session) clearNotice() {
	sess.mu.Lock()
	sess.failure = ""
	sess.mu.Unlock()
}

// sync rebuilds the element set from the loaded videos and re-subscribes the
// observer. After a reset every element is replaced so that playback and
// visibility state from the previous category cannot leak.
func (sess *session) sync(reset bool) {
	snap := sess.ctrl.Snapshot()

	sess.mu.Lock()
	if reset {
		sess.elements = make(map[string]*element)
		sess.playing = make(map[string]bool)
	}
	next := make(map[string]*element, len(snap.Videos))
	media := make(map[string]visibility.Media, len(snap.Videos))
	for _, v := range snap.Videos {
		id := strconv.FormatInt(v.ID, 10)
		el, ok := sess.elements[id]
		if !ok {
			el = &element{id: id, videoID: v.ID, category: snap.Category, session: sess}
		}
		next[id] = el
		media[id] = el
	}
	for id := range sess.playing {
		if _, ok := next[id]; !ok {
			delete(sess.playing, id)
		}
	}
	sess.elements = next
	sess.mu.Unlock()

	sess.obs.Sync(media)
}

func (sess *session) setPlaying(el *element, on bool) {
	sess.mu.Lock()
	if sess.elements[el.id] != el {
		sess.mu.Unlock()
		return
	}
	was := sess.playing[el.id]
	sess.playing[el.id] = on
	sess.mu.Unlock()

	if on {
		metrics.ObservePlayback("play")
	} else {
		metrics.ObservePlayback("pause")
	}
	if on && !was {
		sess.recordPlay(el)
	}
}

func (sess *session) recordPlay(el *element) {
	if sess.journal == nil {
		return
	}
	browser, platform := history.DescribeAgent(sess.userAgent)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := sess.journal.Record(ctx, history.Play{
		VideoID:   el.videoID,
		Category:  el.category.String(),
		SessionID: sess.id,
		Browser:   browser,
		Platform:  platform,
		Country:   sess.country,
	})
	if err != nil {
		sess.logger.Warn().Err(err).Int64("video", el.videoID).Msg("failed to record play")
	}
}

// playingIDs returns the elements that should currently be playing, sorted.
func (sess *session) playingIDs() []string {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	ids := make([]string, 0, len(sess.playing))
	for id, on := range sess.playing {
		if on {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (sess *session) close() {
	sess.once.Do(func() {
		sess.ctrl.Close()
		sess.obs.Close()
		sess.cancel()
		<-sess.done
		metrics.SessionUnmounted()
		sess.logger.Info().Dur("age", time.Since(sess.created)).Msg("feed session closed")
	})
}

// userMessage maps a load failure to the text shown above the feed.
func userMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, feed.ErrAuthRequired):
		return "Sign in to see videos from accounts you follow."
	default:
		return api.Message(err)
	}
}
