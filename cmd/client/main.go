package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/parques-online/client-go/internal/config"
	"github.com/parques-online/client-go/internal/game"
	"github.com/parques-online/client-go/internal/httpapi"
	"github.com/parques-online/client-go/internal/playback"
	"github.com/parques-online/client-go/internal/session"
	"github.com/parques-online/client-go/internal/transport"
	"github.com/parques-online/client-go/pkg/protocol"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}

	log, err := buildLogger(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	link := transport.New(transport.Config{
		URL:                  cfg.ServerURL,
		PingInterval:         cfg.PingInterval,
		RequestTimeout:       cfg.RequestTimeout,
		ReconnectBase:        cfg.ReconnectBase,
		ReconnectMax:         cfg.ReconnectMax,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}, nil, log.Named("transport"))

	sess := session.New(context.Background(), session.Config{
		Credentials: transport.Credentials{Token: cfg.Token, RoomCode: cfg.RoomCode},
		Game:        game.Config{HomestretchExclusive: cfg.HomestretchExclusive},
		OnGameError: func(p protocol.ErrorPayload) {
			log.Warn("action rejected",
				zap.String("error_code", p.ErrorCode), zap.String("message", p.Message))
		},
	}, link, loggingPlayer(log.Named("playback")), log.Named("session"))

	if cfg.StatusAddr != "" {
		go func() {
			log.Info("status server listening", zap.String("addr", cfg.StatusAddr))
			if err := http.ListenAndServe(cfg.StatusAddr, httpapi.SetupRoutes(sess)); err != nil {
				log.Error("status server stopped", zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := sess.Connect(ctx); err != nil {
		log.Warn("initial connect failed, reconnecting in background", zap.Error(err))
	}
	cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info("shutting down", zap.String("signal", s.String()))

	sess.Close()
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loggingPlayer stands in for a rendering frontend: it sleeps through each
// animation's duration and logs what a UI would draw.
func loggingPlayer(log *zap.Logger) playback.Player {
	return playback.PlayerFunc(func(ctx context.Context, task playback.Task) error {
		log.Info("playing",
			zap.String("task", task.Type),
			zap.Int64("seq", task.Event.Seq),
			zap.Duration("duration", task.Duration))
		select {
		case <-time.After(task.Duration):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}
