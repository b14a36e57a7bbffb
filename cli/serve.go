package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/campushub/campushub/auth"
	"github.com/campushub/campushub/config"
	"github.com/campushub/campushub/middleware"
	"github.com/campushub/campushub/notify"
	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the notification API and push channel",
	Long: `Serves the notification REST API, the WebSocket push channel on /ws
and Prometheus metrics on /metrics.

With push.bus=redis every instance subscribes to push.redis_channel, so
notifications emitted by any instance or by the worker reach users
connected anywhere.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := notify.NewRegistry()
	bus, closeBus := newBus(cfg, registry)
	defer closeBus()

	busErr := make(chan error, 1)
	go func() {
		busErr <- bus.Run(ctx)
	}()

	service := notify.NewService(db, bus)
	tokens := newTokenIssuer(cfg)

	store := sessions.NewCookieStore([]byte(cfg.Session.AuthenticationKey), []byte(cfg.Session.EncryptionKey))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.Session.CookieExpiry.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	sessionMiddleware := auth.NewSessionMiddleware(store, cfg.Session.CookieName, db, tokens)

	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.AllowedOrigins

	router := mux.NewRouter()
	router.Use(
		middleware.Recovery(),
		middleware.Logging(log.Logger),
		middleware.Metrics(),
		middleware.CORS(cors),
	)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	notify.RegisterRoutes(router, sessionMiddleware,
		notify.NewHandlers(service, tokens, cfg.Push.FetchWindow),
		notify.NewHandler(service, registry, sessionMiddleware, notify.HandlerConfig{
			KeepAlive:   cfg.Push.KeepAlive,
			SendQueue:   cfg.Push.SendQueue,
			FetchWindow: cfg.Push.FetchWindow,
			CheckOrigin: cors.CheckOrigin,
		}),
	)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.ListenAddr).
			Str("bus", cfg.Push.Bus).
			Msg("Starting campushub server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		cancel()
		return fmt.Errorf("http server: %w", err)
	case err := <-busErr:
		if err != nil {
			cancel()
			return fmt.Errorf("push bus: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}

// newBus returns the configured push bus and a function releasing it.
func newBus(cfg *config.Config, registry *notify.Registry) (notify.Bus, func()) {
	if cfg.Push.Bus != config.BusRedis {
		return notify.NewLocalBus(registry), func() {}
	}

	client := newRedisClient(cfg)
	return notify.NewRedisBus(client, cfg.Push.RedisChannel, registry), func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing redis client")
		}
	}
}
