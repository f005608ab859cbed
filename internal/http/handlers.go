package http

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"
	"time"

	"wheresmymoney/internal/core"
	"wheresmymoney/internal/log"
	"wheresmymoney/internal/middleware/trace"
	"wheresmymoney/internal/services"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type userResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	CalendarID string `json:"calendar_id"`
}

type itemResponse struct {
	ItemID        string `json:"item_id"`
	UserID        string `json:"user_id"`
	InstitutionID string `json:"institution_id,omitempty"`
}

type statusResponse struct {
	Status    string            `json:"status"`
	UserID    string            `json:"user_id,omitempty"`
	TriggerID string            `json:"trigger_id,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	logger := log.FromContext(ctx)
	if StatusForError(err) >= http.StatusInternalServerError {
		log.NewStructuredLogger(logger).LogError(ctx, "Request failed", err, logger.Component(), op, nil)
	} else {
		logger.WarnContext(ctx, "Request rejected",
			log.FieldOperation, op,
			log.FieldErrorKind, core.KindOf(err),
			log.FieldError, err)
	}
	ErrorResponse(err, trace.GetRequestID(ctx)).Write(w)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(statusResponse{Status: "ok"}).Write(w)
}

// handleReady runs every dependency check concurrently.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]string, len(names))
	var g errgroup.Group
	for i, name := range names {
		check := s.checks[name]
		g.Go(func() error {
			if err := check(ctx); err != nil {
				results[i] = err.Error()
				return err
			}
			results[i] = "ok"
			return nil
		})
	}
	failed := g.Wait() != nil

	body := statusResponse{Status: "ready", Checks: make(map[string]string, len(names))}
	for i, name := range names {
		body.Checks[name] = results[i]
	}
	resp := NewJSONResponse()
	if failed {
		body.Status = "unavailable"
		resp.Status(http.StatusServiceUnavailable)
	}
	resp.Body(body).Write(w)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := DecodeJSON(w, r, s.maxBodyBytes, &req); err != nil {
		s.writeError(w, r, log.OpSync, err)
		return
	}
	if err := req.normalize(); err != nil {
		s.writeError(w, r, log.OpSync, err)
		return
	}
	if req.TriggerID == "" {
		req.TriggerID = "api-" + uuid.NewString()
	}

	trigger := core.SyncTrigger{
		UserID:              req.UserID,
		TriggerID:           req.TriggerID,
		NewTransactionDates: req.Dates,
		Source:              "api",
	}

	if req.Async {
		if err := s.users.Dispatch(r.Context(), trigger); err != nil {
			s.writeError(w, r, log.OpSync, err)
			return
		}
		NewJSONResponse().
			Status(http.StatusAccepted).
			Body(statusResponse{Status: "accepted", UserID: trigger.UserID, TriggerID: trigger.TriggerID}).
			Write(w)
		return
	}

	report, err := s.syncer.Sync(r.Context(), trigger)
	s.appMetrics.recordSync(report, err)
	if err != nil {
		// A run that started reports its own outcome, including the error.
		if report.RunID != "" && StatusForError(err) != http.StatusInternalServerError {
			NewJSONResponse().Status(StatusForError(err)).Body(report).Write(w)
			return
		}
		s.writeError(w, r, log.OpSync, err)
		return
	}
	NewJSONResponse().Body(report).Write(w)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := ReadBody(w, r, s.maxBodyBytes)
	if err != nil {
		s.writeError(w, r, log.OpWebhook, err)
		return
	}

	atomic.AddInt64(&s.appMetrics.webhooks, 1)
	dispatched, err := s.users.HandleWebhook(r.Context(), body)
	if err != nil {
		s.writeError(w, r, log.OpWebhook, err)
		return
	}
	if !dispatched {
		atomic.AddInt64(&s.appMetrics.webhooksIgnored, 1)
		NewJSONResponse().Body(statusResponse{Status: "ignored"}).Write(w)
		return
	}
	NewJSONResponse().Status(http.StatusAccepted).Body(statusResponse{Status: "accepted"}).Write(w)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := DecodeJSON(w, r, s.maxBodyBytes, &req); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	if err := req.normalize(); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	user, err := s.users.CreateUser(r.Context(), req.Email, req.OAuthToken)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/users/"+user.ID).
		Body(userResponse{ID: user.ID, Email: user.Email, CalendarID: user.CalendarID}).
		Write(w)
}

func (s *Server) handleLinkItem(w http.ResponseWriter, r *http.Request) {
	var req LinkItemRequest
	if err := DecodeJSON(w, r, s.maxBodyBytes, &req); err != nil {
		s.writeError(w, r, log.OpExchange, err)
		return
	}
	if err := req.normalize(); err != nil {
		s.writeError(w, r, log.OpExchange, err)
		return
	}

	item, err := s.users.LinkItem(r.Context(), r.PathValue("id"), req.PublicToken, req.InstitutionID)
	if err != nil {
		s.writeError(w, r, log.OpExchange, err)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Body(itemResponse{ItemID: item.ItemID, UserID: item.UserID, InstitutionID: item.InstitutionID}).
		Write(w)
}

func (s *Server) handleInstitutions(w http.ResponseWriter, r *http.Request) {
	institutions, err := s.users.Institutions(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	if institutions == nil {
		institutions = []services.Institution{}
	}
	NewJSONResponse().Body(map[string]any{"institutions": institutions}).Write(w)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := s.users.DeleteUser(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// handleMetrics writes application and middleware counters in a
// Prometheus-like text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	securityMetrics := s.securityDetector.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	traceMetrics := s.traceMiddleware.GetMetrics()
	uptime := time.Since(s.appMetrics.uptime)

	w.WriteHeader(http.StatusOK)

	counter := func(name, help string, v int64) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n\n", name, help, name, name, v)
	}
	gauge := func(name, help string, v int64) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n\n", name, help, name, name, v)
	}

	counter("http_requests_total", "Total number of HTTP requests", traceMetrics.TotalRequests)
	counter("http_server_errors_total", "Responses with a 5xx status", traceMetrics.ServerErrors)
	gauge("http_response_time_microseconds", "Moving average response time", traceMetrics.AverageResponseTime)

	counter("sync_runs_total", "Synchronous sync runs", atomic.LoadInt64(&s.appMetrics.syncRuns))
	counter("sync_failures_total", "Synchronous sync runs that failed", atomic.LoadInt64(&s.appMetrics.syncFailures))
	counter("sync_duplicates_total", "Triggers answered from the idempotency guard", atomic.LoadInt64(&s.appMetrics.syncDuplicates))
	counter("webhooks_total", "Provider webhooks received", atomic.LoadInt64(&s.appMetrics.webhooks))
	counter("webhooks_ignored_total", "Provider webhooks that did not trigger a sync", atomic.LoadInt64(&s.appMetrics.webhooksIgnored))

	if s.guardCache != nil {
		stats := s.guardCache.Stats()
		counter("guard_cache_hits_total", "Idempotency cache hits", int64(stats.Hits))
		counter("guard_cache_misses_total", "Idempotency cache misses", int64(stats.Misses))
		gauge("guard_cache_entries", "Idempotency cache entries", int64(stats.Size))
	}

	counter("rate_limit_hits_total", "Total rate limit hits", rateLimitMetrics.TotalHits)
	gauge("active_rate_limit_clients", "Currently tracked rate limit clients", rateLimitMetrics.ClientCount)
	counter("suspicious_requests_total", "Total suspicious requests detected", securityMetrics.SuspiciousRequests)
	counter("blocked_requests_total", "Total suspicious requests blocked", securityMetrics.BlockedRequests)

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n", uptime.Seconds())
}
