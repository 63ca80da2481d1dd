// Command mfa-demo serves the goMFA engine over HTTP for local experiments.
//
// Configuration comes from GOMFA_* environment variables (a .env file in the
// working directory is loaded first) and the optional file named by
// GOMFA_CONFIG_FILE. With -miniredis the demo runs without a Redis server.
// Emailed codes are written to the log instead of being sent.
//
// Run:
//
//	cp cmd/mfa-demo/.env.example .env
//	go run ./cmd/mfa-demo -miniredis
//
// Then:
//
//	curl -X POST localhost:8080/register -d '{"username":"alice","email":"alice@example.com","password":"correct-horse-battery"}'
//	curl -X POST localhost:8080/login -d '{"identifier":"alice","password":"correct-horse-battery"}'
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/MrEthical07/goMFA/userstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		listen      = flag.String("listen", ":8080", "http listen address")
		dbPath      = flag.String("db", "file:mfa-demo.db", "sqlite database for users")
		postgresDSN = flag.String("postgres", "", "postgres dsn; overrides -db when set")
		useMini     = flag.Bool("miniredis", false, "use an in-process miniredis instead of Config.Redis.Addr")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("could not read .env", "error", err)
	}

	cfg, err := goMFA.LoadConfig(os.Getenv("GOMFA_CONFIG_FILE"))
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------- users ----------
	var users *userstore.Repository
	if *postgresDSN != "" {
		db, closeDB, err := userstore.OpenPostgres(ctx, *postgresDSN)
		if err != nil {
			logger.Error("postgres", "error", err)
			os.Exit(1)
		}
		defer closeDB()
		users = userstore.New(db)
	} else {
		db, err := userstore.OpenSQLite(*dbPath)
		if err != nil {
			logger.Error("sqlite", "error", err)
			os.Exit(1)
		}
		users = userstore.New(db)
	}
	if err := users.AutoMigrate(ctx); err != nil {
		logger.Error("migrate users", "error", err)
		os.Exit(1)
	}

	// ---------- engine ----------
	builder := goMFA.New().
		WithConfig(cfg).
		WithUserRepository(users).
		WithEmailSender(logSender{logger: logger}).
		WithAuditSink(goMFA.MultiSink{goMFA.NewSlogSink(logger), goMFA.NewJSONWriterSink(os.Stderr)}).
		WithLogger(logger)
	if *useMini {
		mr, err := miniredis.Run()
		if err != nil {
			logger.Error("miniredis", "error", err)
			os.Exit(1)
		}
		defer mr.Close()
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		defer rdb.Close()
		builder = builder.WithRedis(rdb)
	}
	engine, err := builder.Build()
	if err != nil {
		logger.Error("build engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	srv := &http.Server{
		Addr:              *listen,
		Handler:           newRouter(&api{engine: engine, users: users, logger: logger}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	for _, w := range engine.SecurityReport().Warnings {
		logger.Warn("security posture", "warning", w)
	}
	logger.Info("mfa-demo listening", "addr", *listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
}

// logSender writes codes to the log. Never use it outside local demos.
type logSender struct {
	logger *slog.Logger
}

func (s logSender) SendTwoFactorCode(ctx context.Context, to, code string, expiresAt time.Time) error {
	s.logger.InfoContext(ctx, "demo email", "to", to, "code", code, "expires_at", expiresAt)
	return nil
}
