// Command sessiond serves the account and session API.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/httpapi"
	"github.com/MrEthical07/goSession/internal/db"
	"github.com/MrEthical07/goSession/internal/envconfig"
	"github.com/MrEthical07/goSession/mailer"
	"github.com/MrEthical07/goSession/middleware"
	"github.com/MrEthical07/goSession/oauth"
	"github.com/MrEthical07/goSession/token"
	"github.com/MrEthical07/goSession/userstore"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found")
	}

	settings, err := envconfig.Load("")
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	configureLogger(log, settings)

	if err := run(log, settings); err != nil {
		log.WithError(err).Fatal("sessiond stopped")
	}
}

func configureLogger(log *logrus.Logger, s *envconfig.Settings) {
	if s.LogFormat == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
}

func run(log *logrus.Logger, s *envconfig.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.MigrateOnStart {
		log.Info("applying database migrations")
		if err := db.Migrate(s.DatabaseURL, "up"); err != nil {
			return err
		}
	}
	conn, err := db.Open(ctx, s.DatabaseURL, db.Pool{MaxOpen: s.DBMaxOpen, MaxIdle: s.DBMaxOpen / 2, MaxLifetime: 30 * time.Minute})
	if err != nil {
		return err
	}
	defer conn.Close()

	rdb := redis.NewClient(&redis.Options{Addr: s.RedisAddr, Password: s.RedisPassword, DB: s.RedisDB})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	cfg := goSession.DefaultConfig()
	s.Apply(&cfg)
	engine, err := goSession.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithTokenStore(tokenStore(s, conn, rdb, cfg)).
		WithUserStore(userstore.NewPostgres(conn)).
		WithEmailSender(emailSender(s, log)).
		WithLogger(log).
		WithAuditSink(goSession.LogrusSink{Logger: log.WithField("component", "audit")}).
		WithLatencyHistograms(true).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	if cfg.Cleanup.Enabled {
		sched, err := goSession.NewCleanupScheduler(engine)
		if err != nil {
			return err
		}
		sched.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
			defer cancel()
			if err := sched.Stop(stopCtx); err != nil {
				log.WithError(err).Warn("cleanup scheduler did not stop in time")
			}
		}()
	}

	var oauthClient *oauth.Client
	if providers := s.OAuthProviders(); len(providers) > 0 {
		if oauthClient, err = oauth.NewClient(providers); err != nil {
			return err
		}
	}

	router := mux.NewRouter()
	httpapi.NewHandlers(engine, httpapi.Options{
		Middleware:      middleware.Options{TrustProxyHeaders: s.TrustProxyHeaders},
		OAuth:           oauthClient,
		OAuthSuccessURL: cfg.Email.FrontendURL + "/oauth2/redirect",
		Logger:          log,
	}).RegisterRoutes(router)
	router.HandleFunc("/healthz", health(conn, rdb)).Methods(http.MethodGet)

	shutdownMetrics, err := mountMetrics(ctx, router, engine, s)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
		defer cancel()
		_ = shutdownMetrics(stopCtx)
	}()

	srv := &http.Server{
		Addr:              s.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.HTTPAddr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func tokenStore(s *envconfig.Settings, conn *sql.DB, rdb redis.UniversalClient, cfg goSession.Config) token.Store {
	if s.TokenBackend == "postgres" {
		return token.NewPostgresStore(conn)
	}
	return token.NewRedisStore(rdb, cfg.Tokens.RedisPrefix)
}

func emailSender(s *envconfig.Settings, log logrus.FieldLogger) goSession.EmailSender {
	if s.SMTPAddr == "" {
		log.Warn("SMTP_ADDR not set; emails are logged instead of sent")
		return mailer.LogSender{Logger: log}
	}
	return &mailer.SMTPSender{
		Addr:     s.SMTPAddr,
		From:     s.MailFrom,
		FromName: s.MailFromName,
		Username: s.SMTPUsername,
		Password: s.SMTPPassword,
	}
}

func health(conn *sql.DB, rdb redis.UniversalClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := conn.PingContext(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
