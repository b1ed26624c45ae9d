package server

import (
	"context"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/reelfeed/reelfeed/internal/api"
	"github.com/reelfeed/reelfeed/internal/credential"
	"github.com/reelfeed/reelfeed/internal/feed"
	"github.com/reelfeed/reelfeed/internal/history"
	"github.com/reelfeed/reelfeed/internal/ratelimit"
	"github.com/reelfeed/reelfeed/internal/visibility"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend is the video API the feed sessions and sign-in forms talk to.
type Backend interface {
	feed.Fetcher
	Login(ctx context.Context, email, password string) (string, error)
	Register(ctx context.Context, reg api.Registration) (string, error)
	MediaURL(ref string) string
	Profile(ctx context.Context, token string) (api.Profile, error)
	ToggleLike(ctx context.Context, token string, videoID int64) (int, error)
}

// Credentials is the bearer token store shared by every session. Sessions
// only read from it.
type Credentials interface {
	feed.TokenSource
	Save(token string) error
	Clear() error
	Claims() (credential.Claims, bool)
}

type PlayJournal interface {
	Record(ctx context.Context, p history.Play) error
	Recent(ctx context.Context, limit int) ([]history.Play, error)
}

// Locator resolves a client address to a country code for the play journal.
type Locator interface {
	Country(ip string) string
}

type Config struct {
	Backend         Backend
	Credentials     Credentials
	Journal         PlayJournal // optional
	Locator         Locator     // optional
	Pinger          Pinger      // optional
	WebFS           fs.FS       // optional browser UI
	BaseURL         string
	MediaOrigin     string
	DefaultCategory feed.Category
	PageSize        int
	Threshold       float64
	MaxSessions     int
	SessionTTL      time.Duration // idle sessions are closed after this long
	RateLimit       float64
	RateBurst       int
	Logger          *zerolog.Logger
}

type Server struct {
	router      chi.Router
	pinger      Pinger
	backend     Backend
	credentials Credentials
	journal     PlayJournal
	locator     Locator
	webFS       fs.FS
	logger      zerolog.Logger

	defaultCategory feed.Category
	pageSize        int
	threshold       float64
	maxSessions     int
	sessionTTL      time.Duration

	apiLimiter  *ratelimit.Limiter
	authLimiter *ratelimit.Limiter

	mu       sync.Mutex
	sessions map[string]*session
}

func New(cfg Config) *Server {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "server").Logger()
	}

	defaultCategory := cfg.DefaultCategory
	if !defaultCategory.Valid() {
		defaultCategory = feed.ForYou
	}
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = 64
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = 30 * time.Minute
	}
	rateLimit, rateBurst := cfg.RateLimit, cfg.RateBurst
	if rateLimit <= 0 || rateBurst <= 0 {
		rateLimit, rateBurst = 20, 40
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders(SecurityConfig{
		BaseURL:     cfg.BaseURL,
		MediaOrigin: cfg.MediaOrigin,
	}))

	s := &Server{
		router:          r,
		pinger:          cfg.Pinger,
		backend:         cfg.Backend,
		credentials:     cfg.Credentials,
		journal:         cfg.Journal,
		locator:         cfg.Locator,
		webFS:           cfg.WebFS,
		logger:          logger,
		defaultCategory: defaultCategory,
		pageSize:        cfg.PageSize,
		threshold:       cfg.Threshold,
		maxSessions:     maxSessions,
		sessionTTL:      sessionTTL,
		apiLimiter:      ratelimit.NewLimiter(rateLimit, rateBurst),
		authLimiter:     ratelimit.NewLimiter(0.5, 5),
		sessions:        make(map[string]*session),
	}

	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	if s.backend != nil && s.credentials != nil {
		s.router.Route("/api/auth", func(r chi.Router) {
			r.Use(s.authLimiter.Middleware)
			r.Post("/login", s.handleLogin)
			r.Post("/register", s.handleRegister)
			r.Post("/logout", s.handleLogout)
			r.Get("/status", s.handleAuthStatus)
		})
		s.router.With(s.apiLimiter.Middleware).Get("/api/profile", s.handleProfile)
	}

	if s.backend != nil {
		s.router.Route("/api/sessions", func(r chi.Router) {
			r.Use(s.apiLimiter.Middleware)
			r.Post("/", s.handleCreateSession)
			r.Route("/{id}", func(r chi.Router) {
				r.Use(s.sessionCtx)
				r.Delete("/", s.handleDeleteSession)
				r.Get("/feed", s.handleGetFeed)
				r.Put("/category", s.handleSetCategory)
				r.Post("/near-end", s.handleNearEnd)
				r.Post("/retry", s.handleRetry)
				r.Post("/visibility", s.handleVisibility)
				r.Get("/playback", s.handlePlayback)
				r.Post("/videos/{videoID}/like", s.handleLike)
			})
		})
	}

	if s.journal != nil {
		s.router.With(s.apiLimiter.Middleware).Get("/api/history", s.handleHistory)
	}

	if s.webFS != nil {
		spa := newSPAFileServer(s.webFS)
		s.router.NotFound(spa.ServeHTTP)
	}
}

// Run prunes idle rate-limit visitors and closes feed sessions nobody has
// touched for the session TTL, until ctx is done.
func (s *Server) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.reapSessions(ctx)
	}()
	for _, l := range []*ratelimit.Limiter{s.apiLimiter, s.authLimiter} {
		wg.Add(1)
		go func(l *ratelimit.Limiter) {
			defer wg.Done()
			l.Run(ctx, 5*time.Minute)
		}(l)
	}
	wg.Wait()
}

func (s *Server) reapSessions(ctx context.Context) {
	interval := 5 * time.Minute
	if half := s.sessionTTL / 2; half < interval {
		interval = half
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := s.closeIdle(now); n > 0 {
				s.logger.Info().Int("closed", n).Msg("closed idle feed sessions")
			}
		}
	}
}

// closeIdle unmounts sessions whose last request is older than the session
// TTL. A browser tab that goes away without unmounting ends up here.
func (s *Server) closeIdle(now time.Time) int {
	s.mu.Lock()
	var idle []*session
	for id, sess := range s.sessions {
		if now.Sub(sess.seen()) > s.sessionTTL {
			idle = append(idle, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, sess := range idle {
		sess.close()
	}
	return len(idle)
}

// Close unmounts every open feed session.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		sessions = append(sessions, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","error":"database unreachable"}`))
			return
		}
	}
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) newObserver() *visibility.Observer {
	return visibility.New(s.threshold, 16)
}
