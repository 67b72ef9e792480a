package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-campuschat/internal/api"
	"github.com/npezzotti/go-campuschat/internal/config"
	"github.com/npezzotti/go-campuschat/internal/database"
	"github.com/npezzotti/go-campuschat/internal/server"
	"github.com/npezzotti/go-campuschat/internal/stats"
	"golang.org/x/sync/errgroup"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

var (
	addr             string
	dsn              string
	signingKey       string
	allowedOrigins   stringSliceFlag
	handshakeTimeout time.Duration
	messageRate      float64
	messageBurst     int
	migrate          bool
)

func main() {
	logger := log.New(os.Stderr, "[go-campuschat] ", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Fatal("load .env:", err)
	}

	if origins := os.Getenv("CHAT_ALLOWED_ORIGINS"); origins != "" {
		allowedOrigins.Set(origins)
	}

	flag.StringVar(&addr, "addr", envOr("CHAT_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&dsn, "dsn", envOr("CHAT_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&signingKey, "signing-key", envOr("CHAT_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS and websocket upgrades")
	flag.DurationVar(&handshakeTimeout, "handshake-timeout", config.DefaultHandshakeTimeout, "time a new socket has to authenticate")
	flag.Float64Var(&messageRate, "message-rate", config.DefaultMessageRate, "chat frames per second allowed per socket")
	flag.IntVar(&messageBurst, "message-burst", config.DefaultMessageBurst, "burst size of the per socket rate limit")
	flag.BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	flag.Parse()

	cfg, err := config.NewConfig(addr, dsn, signingKey, allowedOrigins)
	if err != nil {
		logger.Fatal("config:", err)
	}
	if err := cfg.WithHandshakeTimeout(handshakeTimeout); err != nil {
		logger.Fatal("config:", err)
	}
	if err := cfg.WithMessageLimit(messageRate, messageBurst); err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgGoChatRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	if migrate {
		logger.Println("applying migrations...")
		if err := dbConn.Migrate(); err != nil {
			logger.Fatal("migrate:", err)
		}
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, dbConn, statsUpdater, cfg)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewGoChatApp(mux, logger, chatServer, dbConn, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Printf("listening on %s", cfg.ServerAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Println("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return chatServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Println("server:", err)
	}

	logger.Println("shutdown complete")
}
