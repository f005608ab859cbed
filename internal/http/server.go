package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"wheresmymoney/internal/cache"
	"wheresmymoney/internal/log"
	"wheresmymoney/internal/middleware/ratelimit"
	"wheresmymoney/internal/middleware/security"
	"wheresmymoney/internal/middleware/trace"
	"wheresmymoney/internal/services"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Deps struct {
	Users *services.UserService
	Sync  services.Syncer
	// Checks are run by /readyz, keyed by dependency name.
	Checks map[string]HealthCheck
	// GuardCache is reported on /metrics when set.
	GuardCache   *cache.LRUCache[services.Report]
	Logger       *log.Logger
	RateLimit    ratelimit.Config
	MaxBodyBytes int64
}

type Server struct {
	http.Server
	users        *services.UserService
	syncer       services.Syncer
	checks       map[string]HealthCheck
	guardCache   *cache.LRUCache[services.Report]
	maxBodyBytes int64

	securityDetector *security.Detector
	rateLimiter      *ratelimit.Limiter
	traceMiddleware  *trace.Middleware
	appMetrics       *appMetrics
}

type appMetrics struct {
	syncRuns        int64
	syncFailures    int64
	syncDuplicates  int64
	webhooks        int64
	webhooksIgnored int64
	uptime          time.Time
}

func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.New(log.Config{Handler: slog.Default().Handler(), Component: log.ComponentHTTP})
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	s := &Server{
		users:            deps.Users,
		syncer:           deps.Sync,
		checks:           deps.Checks,
		guardCache:       deps.GuardCache,
		maxBodyBytes:     deps.MaxBodyBytes,
		securityDetector: security.NewDetector(),
		rateLimiter:      ratelimit.NewLimiter(deps.RateLimit),
		appMetrics:       &appMetrics{uptime: time.Now()},
	}
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ExtractClientIP, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	syncRoute := log.ComponentMiddleware(log.ComponentSync)
	bankingRoute := log.ComponentMiddleware(log.ComponentBanking)

	mux.Handle("POST /api/sync", syncRoute(http.HandlerFunc(s.handleSync)))
	mux.Handle("POST /webhooks/plaid", bankingRoute(http.HandlerFunc(s.handleWebhook)))

	mux.HandleFunc("POST /api/users", s.handleCreateUser)
	mux.Handle("POST /api/users/{id}/items", bankingRoute(http.HandlerFunc(s.handleLinkItem)))
	mux.Handle("GET /api/users/{id}/institutions", bankingRoute(http.HandlerFunc(s.handleInstitutions)))
	mux.HandleFunc("DELETE /api/users/{id}", s.handleDeleteUser)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	limitWrites := func(r *http.Request) bool { return r.Method != http.MethodGet }

	var handler http.Handler = mux
	handler = s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, limitWrites)(handler)
	handler = log.RequestIDMiddleware(func(r *http.Request) string {
		return trace.GetRequestID(r.Context())
	})(handler)
	handler = log.Middleware(logger)(handler)
	handler = s.traceMiddleware.Middleware(handler)
	handler = headers.Middleware(handler)
	handler = s.securityDetector.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Synchronous syncs talk to two providers.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Shutdown stops the rate limiter cleanup and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.rateLimiter.Stop()
	return s.Server.Shutdown(ctx)
}

func (m *appMetrics) recordSync(r services.Report, err error) {
	atomic.AddInt64(&m.syncRuns, 1)
	if err != nil {
		atomic.AddInt64(&m.syncFailures, 1)
	}
	if r.Duplicate {
		atomic.AddInt64(&m.syncDuplicates, 1)
	}
}
