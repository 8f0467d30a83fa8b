package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"taskTracker/internal/config"
	"taskTracker/internal/handlers"
	"taskTracker/internal/logger"
	"taskTracker/internal/middleware"
	"taskTracker/internal/migrations"
	"taskTracker/internal/repository/task/inmemory"
	"taskTracker/internal/repository/task/postgres"
	"taskTracker/internal/service"
	"taskTracker/internal/tracing"
	"taskTracker/internal/worker"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type App struct {
	config     *config.Config
	server     *http.Server
	router     *chi.Mux
	repository service.TaskRepository // интерфейс!
	service    *service.TaskService
	worker     *worker.CompactionWorker
	shutdowns  []func() // функции для graceful shutdown
}

func New(cfg *config.Config) *App {
	return &App{
		config:    cfg,
		shutdowns: make([]func(), 0),
	}
}

func (a *App) Init(ctx context.Context) (*App, error) {
	if a.config.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret не задан")
	}

	a.shutdowns = append(a.shutdowns, func() {
		logger.Info("Завершение работы логгирования...")
		logger.Sync()
	})

	shutdownTracing, err := tracing.Init(ctx, a.config.Tracing)
	if err != nil {
		return nil, fmt.Errorf("инициализация трассировки: %w", err)
	}
	a.shutdowns = append(a.shutdowns, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("App: Ошибка остановки экспорта трейсов", zap.Error(err))
		}
	})

	if err := a.initRepository(ctx); err != nil {
		return nil, fmt.Errorf("инициализация хранилища: %w", err)
	}

	a.service = service.NewTaskService(a.repository)

	limiter, err := a.initLimiter(ctx)
	if err != nil {
		return nil, fmt.Errorf("инициализация лимитера: %w", err)
	}

	verifier := middleware.NewTokenVerifier(a.config.Auth.JWTSecret, a.config.Auth.Issuer)
	a.router = NewRouter(handlers.NewTaskHandler(a.service), verifier, limiter, a.config.RateLimit.RequestsPerMinute)

	a.server = &http.Server{
		Addr:         a.config.GetServerAddr(),
		Handler:      otelhttp.NewHandler(a.router, "taskTracker"),
		ReadTimeout:  a.config.Server.ReadTimeout,
		WriteTimeout: a.config.Server.WriteTimeout,
	}

	if a.config.Worker.Compaction.Enabled {
		a.worker = worker.NewCompactionWorker(a.service, &a.config.Worker.Compaction.Interval)
	}

	return a, nil
}

func (a *App) initRepository(ctx context.Context) error {
	switch a.config.Repository.Type {
	case "postgres":
		if err := migrations.Up(a.config.Database.URL); err != nil {
			return err
		}

		storage, err := postgres.New(ctx, a.config.Database.URL, postgres.Options{
			MaxConns:        int32(a.config.Database.MaxConnections),
			MinConns:        int32(a.config.Database.MinConnections),
			MaxConnIdleTime: a.config.Database.IdleTimeout,
			LockTimeout:     a.config.Database.LockTimeout,
		})
		if err != nil {
			return err
		}
		a.repository = storage
		a.shutdowns = append(a.shutdowns, storage.Close)
	default:
		logger.Warn("App: Используется хранилище в памяти, данные не сохраняются между запусками")
		a.repository = inmemory.NewTaskStorage(inmemory.WithLockTimeout(a.config.Database.LockTimeout))
	}
	return nil
}

func (a *App) initLimiter(ctx context.Context) (middleware.Limiter, error) {
	cfg := a.config.RateLimit
	if cfg.RedisAddr == "" {
		return middleware.NewMemoryLimiter(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("подключение к redis: %w", err)
	}

	a.shutdowns = append(a.shutdowns, func() {
		if err := client.Close(); err != nil {
			logger.Warn("App: Ошибка закрытия redis", zap.Error(err))
		}
	})
	logger.Info("App: Лимит запросов хранится в redis", zap.String("addr", cfg.RedisAddr))
	return middleware.NewRedisLimiter(client, "taskTracker:ratelimit:"), nil
}

func NewRouter(h *handlers.TaskHandler, verifier *middleware.TokenVerifier, limiter middleware.Limiter, rpm int) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RateLimit(limiter, rpm))

	r.Get("/health", h.HealthCheck)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(verifier))

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.GetTasks) // GET /tasks
			r.Post("/", h.PostTask) // POST /tasks

			r.Get("/completed", h.GetCompletedTasks) // GET /tasks/completed
			r.Get("/pending", h.GetPendingTasks)     // GET /tasks/pending
			r.Get("/stats", h.GetStats)              // GET /tasks/stats

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetTaskByID)          // GET /tasks/{id}
				r.Put("/", h.UpdateTaskByID)       // PUT /tasks/{id}
				r.Delete("/", h.DeleteTaskByID)    // DELETE /tasks/{id}
				r.Get("/history", h.GetTaskHistory) // GET /tasks/{id}/history
			})
		})
	})

	return r
}

// Run блокируется до отмены ctx или ошибки сервера, затем корректно останавливается
func (a *App) Run(ctx context.Context) error {
	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()

	if a.worker != nil {
		go a.worker.Start(workerCtx)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Получен сигнал остановки")
	case err := <-serverErr:
		if err != nil {
			logger.Error("Ошибка HTTP сервера", err)
			runErr = fmt.Errorf("http сервер: %w", err)
		}
	}

	stopWorker()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Ошибка остановки HTTP сервера", err)
	}

	for i := len(a.shutdowns) - 1; i >= 0; i-- {
		a.shutdowns[i]()
	}
	return runErr
}
