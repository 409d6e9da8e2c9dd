// Package httpapi exposes the core over HTTP: intent endpoints that enqueue
// actions, queue inspection, a WebSocket event stream, health and metrics.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/AakashB275/BrandModel/internal/engine"
	"github.com/AakashB275/BrandModel/internal/lifecycle"
	"github.com/AakashB275/BrandModel/internal/metrics"
	"github.com/AakashB275/BrandModel/internal/model"
)

// Core is the part of app.Core the API drives.
type Core interface {
	EnqueueSwipe(ctx context.Context, actorID, targetID string, dir model.SwipeDirection) (model.PendingAction, error)
	EnqueueProfileUpdate(ctx context.Context, userID string, fields map[string]any) (model.PendingAction, error)
	EnqueueMessage(ctx context.Context, matchID, senderID, text string) (model.PendingAction, error)
	EnqueueReport(ctx context.Context, reporterID, reportedID, reason, details string) (model.PendingAction, error)
	RequestUnmatch(ctx context.Context, matchID, byUserID string) (model.PendingAction, error)
	RequestBlock(ctx context.Context, byUserID, targetID string) (model.PendingAction, error)
	Matches(ctx context.Context, userID string) ([]lifecycle.View, error)
	MatchView(ctx context.Context, matchID, userID string) (lifecycle.View, error)
	Pending(ctx context.Context) ([]model.PendingAction, error)
	DeadLetters(ctx context.Context) ([]model.DeadLetter, error)
	Requeue(ctx context.Context, id string) (model.PendingAction, error)
	Drain(ctx context.Context) (engine.DrainReport, error)
	Subscribe(ctx context.Context) <-chan engine.Event
	Online() bool
}

type Deps struct {
	Core     Core
	Tokens   *Tokens
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter builds the API handler. /healthz and /metrics are public; every
// /v1 route requires a bearer token.
func NewRouter(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{core: deps.Core, logger: log}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", h.health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(authenticate(deps.Tokens, log))

		r.Get("/events", h.events)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(30 * time.Second))

			r.Post("/swipes", h.swipe)
			r.Patch("/profile", h.updateProfile)
			r.Get("/matches", h.listMatches)
			r.Get("/matches/{id}", h.matchView)
			r.Post("/matches/{id}/messages", h.sendMessage)
			r.Post("/matches/{id}/unmatch", h.unmatch)
			r.Post("/reports", h.report)
			r.Post("/blocks", h.block)

			r.Get("/queue", h.listQueue)
			r.Get("/deadletters", h.listDeadLetters)
			r.Post("/deadletters/{id}/requeue", h.requeue)
			r.Post("/drain", h.drain)
		})
	})
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())),
				zap.Duration("duration", time.Since(start)))
		})
	}
}
