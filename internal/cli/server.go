package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attempt-runner/internal/app"
	"attempt-runner/internal/config"
	"attempt-runner/internal/infra/memory"
	pgjournal "attempt-runner/internal/infra/postgres"
	rediscache "attempt-runner/internal/infra/redis"
	"attempt-runner/internal/infra/rest"
	"attempt-runner/internal/logger"
	transport "attempt-runner/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the attempt server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

// stack is the wired service together with what must be closed on shutdown.
type stack struct {
	service *app.AttemptService
	backend *rest.Client
	closers []func()
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func buildStack(ctx context.Context, cfg config.Config, log zerolog.Logger) (*stack, error) {
	st := &stack{}
	st.backend = rest.NewClient(cfg.Backend.URL,
		rest.WithTimeout(config.TTLDuration(cfg.Backend.Timeout, rest.DefaultTimeout)))

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		st.closers = append(st.closers, func() { _ = redisClient.Close() })
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)
	cacheTTL := config.TTLDuration(cfg.Exam.CacheTTL, 5*time.Minute)

	var exams app.ExamRepository
	var store app.SessionRepository
	if redisClient != nil {
		exams = rediscache.NewExamRepository(redisClient, st.backend, cacheTTL)
		store = rediscache.NewSessionStore(redisClient, redisTTL)
	} else {
		exams = memory.NewExamRepository(st.backend, cacheTTL)
		store = memory.NewSessionStore()
	}

	var journal app.OutcomeJournal = memory.NewJournal()
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.closers = append(st.closers, pool.Close)
		journal = pgjournal.NewJournal(pool)
	}

	st.service = app.NewAttemptService(exams, st.backend, store, journal, log,
		app.WithTickInterval(config.TTLDuration(cfg.Exam.TickInterval, app.DefaultTickInterval)))
	return st, nil
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := logger.Setup(cfg.Log.Level, cfg.Log.Format)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	st, err := buildStack(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	wsHandler := transport.NewWSHandler(st.service, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Str("backend", cfg.Backend.URL).Msg("starting attempt service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down server...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
