package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/pillbox/internal/auth"
	"github.com/dukerupert/pillbox/internal/config"
	"github.com/dukerupert/pillbox/internal/email"
	"github.com/dukerupert/pillbox/internal/handler"
	"github.com/dukerupert/pillbox/internal/middleware"
	"github.com/dukerupert/pillbox/internal/model"
	"github.com/dukerupert/pillbox/internal/notify"
	"github.com/dukerupert/pillbox/internal/push"
	"github.com/dukerupert/pillbox/internal/schedule"
	"github.com/dukerupert/pillbox/internal/store"
	ws "github.com/dukerupert/pillbox/internal/websocket"
)

const (
	apiRateLimit  = 60
	apiRateWindow = time.Minute
)

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	medH        *handler.MedicationHandler
	pushH       *handler.PushHandler
	keyStore    *store.APIKeyStore
	allowlist   *auth.Allowlist
	rateLimiter *middleware.RateLimiter
	lifecycle   *schedule.Lifecycle
	scheduler   *schedule.Scheduler
	wsOrigins   []string
	logger      *slog.Logger
}

// Options holds the pieces of Server that tests replace.
type Options struct {
	// Channels overrides the delivery channels built from configuration.
	Channels []notify.Channel
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, opts Options, logger *slog.Logger) (*Server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(logger.With("component", "websocket"))
	medStore := store.NewMedicationStore(db)
	pushStore := store.NewPushStore(db)
	allow := auth.NewAllowlist(cfg.AuthorizedUsers)

	pushSvc := push.NewService(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, push.WithSubscriber(subscriber(cfg)))
	channels := opts.Channels
	if channels == nil {
		channels = append(channels, push.NewNotifier(pushSvc, pushStore, cfg.BaseURL, logger.With("component", "push")))
		if cfg.EmailEnabled() {
			client := email.NewClient(cfg.PostmarkToken, cfg.FromEmail)
			channels = append(channels, email.NewNotifier(client, cfg.RecipientEmails, cfg.BaseURL))
		}
	}

	schedCfg := schedule.Config{
		Location:        loc,
		Recipients:      allow.IDs(),
		FollowUpDelay:   cfg.FollowUpDelay,
		DeliveryTimeout: cfg.DeliveryTimeout,
		Now:             opts.Now,
		OnEvent: func(e schedule.Event) {
			hub.Broadcast(ws.NewMessage("medication", e.Action, e.MedicationID, nil))
		},
	}
	notifier := notify.NewFanout(logger.With("component", "notify"), channels...)
	lifecycle := schedule.NewLifecycle(medStore, notifier, schedCfg, logger.With("component", "lifecycle"))
	scheduler := schedule.NewScheduler(medStore, lifecycle, schedCfg, logger.With("component", "scheduler"))

	return &Server{
		db:          db,
		hub:         hub,
		medH:        handler.NewMedicationHandler(medStore, lifecycle, hub, logger.With("component", "medication")),
		pushH:       handler.NewPushHandler(pushStore, pushSvc, logger.With("component", "push_handler")),
		keyStore:    store.NewAPIKeyStore(db),
		allowlist:   allow,
		rateLimiter: middleware.NewRateLimiter(),
		lifecycle:   lifecycle,
		scheduler:   scheduler,
		wsOrigins:   cfg.WebSocketOrigins,
		logger:      logger,
	}, nil
}

func subscriber(cfg *config.Config) string {
	if cfg.FromEmail != "" {
		return "mailto:" + cfg.FromEmail
	}
	return cfg.BaseURL
}

// Start begins the reminder scheduler.
func (s *Server) Start(ctx context.Context) {
	s.scheduler.Start(ctx)
}

// Stop halts the scheduler, then disarms every follow-up timer and waits for
// in-flight deliveries.
func (s *Server) Stop() {
	s.scheduler.Stop()
	s.lifecycle.Stop()
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Lifecycle returns the reminder lifecycle.
func (s *Server) Lifecycle() *schedule.Lifecycle {
	return s.lifecycle
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAPIKey(s.keyStore, s.allowlist, s.logger.With("component", "auth"))
	rateLimit := middleware.RateLimit(s.rateLimiter, middleware.ByUserOrIP(requestUser), apiRateLimit, apiRateWindow)
	outerMux.Handle("/", authMiddleware(rateLimit(protectedMux)))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.wsOrigins, s.logger.With("component", "websocket")))

	// Medication API routes
	mux.HandleFunc("GET /api/medications", s.medH.List)
	mux.HandleFunc("POST /api/medications", s.medH.Create)
	mux.HandleFunc("GET /api/medications/{id}", s.medH.Get)
	mux.HandleFunc("DELETE /api/medications/{name}", s.medH.Remove)
	mux.HandleFunc("POST /api/medications/{id}/taken", s.medH.Respond(model.ActionTaken))
	mux.HandleFunc("POST /api/medications/{id}/skip", s.medH.Respond(model.ActionSkip))

	// Push notification API routes
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
	mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
	mux.HandleFunc("POST /api/push/test", s.pushH.TestNotification)
}

func requestUser(r *http.Request) string {
	return auth.UserID(r.Context())
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Error("health check: database", "error", err)
		status, code = "degraded", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":  status,
		"clients": s.hub.ClientCount(),
	})
}
