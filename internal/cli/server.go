package cli

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"horoquiz/internal/app"
	"horoquiz/internal/config"
	"horoquiz/internal/domain"
	"horoquiz/internal/infra/memory"
	pgstore "horoquiz/internal/infra/postgres"
	redisinfra "horoquiz/internal/infra/redis"
	transport "horoquiz/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)
	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)

	roomCfg := app.DefaultRoomConfig()
	roomCfg.StudentGrace = config.TTLDuration(cfg.Room.StudentGrace, roomCfg.StudentGrace)
	roomCfg.TeacherGrace = config.TTLDuration(cfg.Room.TeacherGrace, roomCfg.TeacherGrace)
	roomCfg.ReservationTTL = config.TTLDuration(cfg.Room.ReservationTTL, roomCfg.ReservationTTL)
	roomCfg.StatsWindow = config.TTLDuration(cfg.Room.StatsWindow, roomCfg.StatsWindow)
	roomCfg.WaitingWindow = config.TTLDuration(cfg.Room.WaitingWindow, roomCfg.WaitingWindow)
	roomCfg.StoreDeadline = config.TTLDuration(cfg.Room.StoreDeadline, roomCfg.StoreDeadline)

	wsCfg := transport.DefaultWSConfig()
	wsCfg.HeartbeatInterval = config.TTLDuration(cfg.Room.HeartbeatInterval, wsCfg.HeartbeatInterval)
	wsCfg.PongTimeout = config.TTLDuration(cfg.Room.PongTimeout, wsCfg.PongTimeout)
	wsCfg.EndDrain = config.TTLDuration(cfg.Room.EndDrain, wsCfg.EndDrain)

	var gateway app.SessionGateway
	var loader memory.QuizLoader
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = pgstore.NewQuizLoader(pool)

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		defer db.Close()
		gateway = pgstore.NewGateway(db)
	} else {
		// Demo mode: everything in memory, one ready-to-join session.
		memGateway := memory.NewGateway()
		loader = memory.NewStaticQuizLoader(sampleQuizzes())
		session := memGateway.CreateSession("quiz-1", 1, domain.ModeClassic)
		log.Info("demo session ready",
			"roomCode", session.RoomCode,
			"teacherCsrf", session.CSRFToken)
		gateway = memGateway
	}

	var quizRepo app.QuizRepository
	var presence app.RoomPresence
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
		presence = redisinfra.NewPresence(redisClient, redisTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	registry := app.NewRegistry(gateway, quizRepo, presence, roomCfg, log)
	wsHandler := transport.NewWSHandler(registry, wsCfg, log)
	resultsHandler := transport.NewResultsHandler(gateway, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /ws/sessions/{roomCode}", wsHandler.ServeWS)
	mux.HandleFunc("GET /sessions/{roomCode}/results", resultsHandler.ServeResults)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: websocket sessions outlive any sane value.
	}

	go func() {
		log.Info("starting live session server", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes backs demo mode; production loads quizzes from Postgres.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up",
			Questions: []domain.Question{
				{
					ID:     "q1",
					Type:   domain.QuestionSingle,
					Prompt: "What is 2 + 2?",
					Options: []domain.Option{
						{ID: "o1", Text: "3"},
						{ID: "o2", Text: "4"},
						{ID: "o3", Text: "5"},
					},
					Answer: domain.AnswerKey{OptionID: "o2"},
				},
				{
					ID:     "q2",
					Type:   domain.QuestionMulti,
					Prompt: "Which numbers are even?",
					Options: []domain.Option{
						{ID: "o1", Text: "1"},
						{ID: "o2", Text: "2"},
						{ID: "o3", Text: "3"},
						{ID: "o4", Text: "4"},
					},
					Answer: domain.AnswerKey{OptionIDs: []string{"o2", "o4"}},
				},
				{
					ID:     "q3",
					Type:   domain.QuestionOpen,
					Prompt: "Capital of France?",
					Answer: domain.AnswerKey{Text: "Paris"},
				},
			},
		},
	}
}
