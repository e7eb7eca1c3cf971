// Package httpapi exposes the referral network over HTTP and a gRPC health service.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"tiernet.org/internal/auth"
	"tiernet.org/internal/network"
	"tiernet.org/internal/obs"
	"tiernet.org/internal/stream"
)

const serviceName = "tiernet-api"

// Network is the core surface served over HTTP. *network.Service implements it.
type Network interface {
	Register(ctx context.Context, in network.Registration) (network.Member, error)
	Member(ctx context.Context, id string) (network.Member, error)
	Downlines(ctx context.Context, id string) ([]network.Profile, error)
	Activate(ctx context.Context, accountID string) (network.Activation, error)
	InitiatePayment(ctx context.Context, accountID string) (network.PairRef, error)
	ApprovePayment(ctx context.Context, approverID, entryID string) (network.Approval, error)
	InitiateSubscription(ctx context.Context, accountID string) (network.PairRef, error)
	ApproveSubscription(ctx context.Context, approverID, entryID string) (network.SubscriptionApproval, error)
	Entries(ctx context.Context, ownerID string, f network.EntryFilter) ([]network.Entry, error)
	Entry(ctx context.Context, ownerID, id string) (network.Entry, error)
	Wallet(ctx context.Context, id string) (network.Wallet, error)
	UpdatePayout(ctx context.Context, id string, p network.Payout) (network.Wallet, error)
	Notifications(ctx context.Context, id string, limit int) ([]network.Notification, error)
	MarkNotificationRead(ctx context.Context, id, notificationID string) error
	Tiers(ctx context.Context) ([]network.Tier, error)
	UpsertTier(ctx context.Context, t network.Tier) (network.Tier, error)
	Sweep(ctx context.Context, kind network.SweepKind) (network.Report, error)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the database when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	svc       Network
	verifier  Verifier
	stream    *stream.Stream
	readiness readinessChecker
	version   string
	logger    *zap.Logger
	burst     int
	perSecond float64
	keepalive time.Duration
}

// Option configures an API.
type Option func(*API)

// WithStream enables the notification SSE endpoint.
func WithStream(s *stream.Stream) Option {
	return func(a *API) { a.stream = s }
}

// WithReadyProbe sets the readiness check behind /readyz.
func WithReadyProbe(r readinessChecker) Option {
	return func(a *API) {
		if r != nil {
			a.readiness = r
		}
	}
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(a *API) { a.version = v }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithRateLimit sets the per client token bucket for /v1.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		a.burst = burst
		a.perSecond = perSecond
	}
}

// New builds the HTTP layer over svc.
func New(svc Network, verifier Verifier, opts ...Option) *API {
	a := &API{
		svc:       svc,
		verifier:  verifier,
		readiness: ReadyProbe{},
		version:   "dev",
		logger:    zap.NewNop(),
		burst:     20,
		perSecond: 10,
		keepalive: 25 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the routed and instrumented handler.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestID)
	r.Use(AccessLog(a.logger))
	r.Use(SecurityHeaders)
	r.Use(CORS)
	r.Use(obs.Instrument)

	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.ready)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return RateLimit(next, a.burst, a.perSecond)
		})
		r.Use(a.authenticate)

		r.Get("/tiers", a.listTiers)
		r.With(requireRole(auth.RoleAdmin)).Put("/tiers/{rank}", a.upsertTier)
		r.With(requireRole(auth.RoleService)).Post("/accounts", a.register)

		r.Get("/me", a.me)
		r.Get("/members", a.downlines)
		r.Post("/activate", a.activate)

		r.Post("/payments", a.initiatePayment)
		r.Post("/payments/{entryID}/approve", a.approvePayment)
		r.Post("/subscriptions", a.initiateSubscription)
		r.Post("/subscriptions/{entryID}/approve", a.approveSubscription)

		r.Get("/entries", a.listEntries)
		r.Get("/entries/{entryID}", a.getEntry)

		r.Get("/wallet", a.wallet)
		r.Put("/wallet", a.updatePayout)

		r.Get("/notifications", a.listNotifications)
		r.Get("/notifications/stream", a.streamNotifications)
		r.Post("/notifications/{id}/read", a.markNotificationRead)

		r.With(requireRole(auth.RoleService)).Post("/admin/sweeps/{kind}", a.sweep)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
