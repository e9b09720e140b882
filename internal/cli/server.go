package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"quizzana/internal/app"
	"quizzana/internal/config"
	"quizzana/internal/infra/memory"
	"quizzana/internal/infra/postgres"
	infraredis "quizzana/internal/infra/redis"
	"quizzana/internal/metrics"
	"quizzana/internal/security"
	transport "quizzana/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// backends is what the services run on. Without postgres everything lives in
// memory; without redis the broker, presence and caches are process-local.
type backends struct {
	store    app.Store
	quizzes  app.QuizRepository
	broker   app.Broker
	presence app.Presence
	denylist app.TokenDenylist
	health   []func(context.Context) error
	closers  []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func (b *backends) Health(ctx context.Context) error {
	for _, check := range b.health {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if portFlag != "" {
		cfg.Server.Port = portFlag
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return err
		}
	}

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	m := metrics.New()
	auth := app.NewAuthService(
		b.store,
		security.NewBcryptHasher(),
		security.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, config.Duration(cfg.Auth.TokenTTL, 12*time.Hour)),
		b.denylist,
		log.WithField("component", "auth"),
	)
	authoring := app.NewAuthoringService(app.AuthoringDeps{
		Quizzes:    b.store,
		Questions:  b.store,
		Categories: b.store,
		Rooms:      b.store,
		Cache:      b.quizzes,
		Log:        log.WithField("component", "authoring"),
		PublicURL:  cfg.Server.PublicURL,
	})
	rooms := app.NewRoomService(app.RoomDeps{
		Rooms:    b.store,
		Players:  b.store,
		Answers:  b.store,
		Results:  b.store,
		Quizzes:  b.quizzes,
		Broker:   b.broker,
		Presence: b.presence,
		Log:      log.WithField("component", "rooms"),
		Metrics:  m,
	}, app.RoomSettings{
		DefaultQuestionBudget: time.Duration(cfg.Session.DefaultQuestionSeconds) * time.Second,
		AnswerGrace:           config.Duration(cfg.Session.AnswerGrace, 2*time.Second),
		OpTimeout:             config.Duration(cfg.Session.OpTimeout, 5*time.Second),
		CodeAttempts:          cfg.Session.CodeAttempts,
		AutoAdvance:           cfg.AutoAdvance(),
		Tick:                  config.Duration(cfg.Session.Tick, 0),
	})
	defer rooms.Close()
	results := app.NewResultsService(app.ResultsDeps{
		Rooms:   b.store,
		Players: b.store,
		Answers: b.store,
		Results: b.store,
		Quizzes: b.quizzes,
		Log:     log.WithField("component", "results"),
	})

	if err := rooms.Restore(ctx); err != nil {
		log.WithError(err).Warn("restore rooms in progress")
	}

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: transport.NewRouter(transport.RouterConfig{
			Auth:           auth,
			Authoring:      authoring,
			Rooms:          rooms,
			Results:        results,
			Metrics:        m,
			Log:            log,
			Health:         b.Health,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		}),
		ReadTimeout:  config.Duration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout: config.Duration(cfg.Server.WriteTimeout, 15*time.Second),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("starting quizzana")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case sig := <-stop:
		log.WithField("signal", sig.String()).Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownWait, 10*time.Second))
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openBackends(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*backends, error) {
	b := &backends{}
	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)

	var loader memory.QuizLoader
	if cfg.Postgres.URL != "" {
		pool, err := postgres.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		store := postgres.NewStore(pool)
		b.store = store
		b.health = append(b.health, store.Ping)
		b.closers = append(b.closers, pool.Close)
		loader = store
	} else {
		log.Warn("postgres url not configured, using in-memory store")
		store := memory.NewStore()
		b.store = store
		loader = store
	}

	if cfg.Redis.Addr == "" {
		b.quizzes = memory.NewQuizRepository(loader, quizTTL)
		b.broker = memory.NewBroker()
		b.presence = memory.NewPresence()
		b.denylist = memory.NewDenylist()
		return b, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		b.Close()
		_ = client.Close()
		return nil, err
	}
	b.closers = append(b.closers, func() { _ = client.Close() })
	b.health = append(b.health, func(ctx context.Context) error { return client.Ping(ctx).Err() })

	redisLog := log.WithField("component", "redis")
	b.quizzes = infraredis.NewQuizRepository(client, loader, quizTTL, redisLog)
	b.broker = infraredis.NewBroker(client, redisLog)
	b.presence = infraredis.NewPresence(client, config.Duration(cfg.Redis.TTL, 2*time.Hour))
	b.denylist = infraredis.NewDenylist(client)
	return b, nil
}
