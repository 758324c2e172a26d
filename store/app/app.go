package app

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/avdeyev/bookstore-service/pkg/kafka"
	"github.com/avdeyev/bookstore-service/pkg/logger"
	"github.com/avdeyev/bookstore-service/pkg/postgres"
	"github.com/avdeyev/bookstore-service/store/config"
	"github.com/avdeyev/bookstore-service/store/internal/handler"
	"github.com/avdeyev/bookstore-service/store/internal/repository"
	"github.com/avdeyev/bookstore-service/store/internal/server"
	"github.com/avdeyev/bookstore-service/store/internal/service"
	"github.com/avdeyev/bookstore-service/store/migrations"
)

func Run(cfg *config.Config) {
	log := logger.NewLogger(cfg.Log, "store")
	db, err := postgres.NewPostgresDB(context.Background(), &cfg.Database, migrations.MigrationFiles)
	if err != nil {
		log.Fatal("db init", zap.Error(err))
	}
	repo, err := repository.NewRepository(db, log)
	if err != nil {
		log.Fatal("repo", zap.Error(err))
	}

	var enqueuer service.Enqueuer
	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		log.Warn("kafka producer disabled", zap.Error(err))
	} else {
		enqueuer = service.NewEnqueuer(producer)
	}

	svc := service.NewService(repo, enqueuer, log)

	h := handler.New(svc, []byte(cfg.JWT.Secret), log)
	srv := server.NewServer(cfg.Server, h.NewRouter())
	log.Info("http server start ON: ",
		zap.String("addr",
			net.JoinHostPort(cfg.Server.Host, cfg.Server.Port)))
	go func() {
		if err := srv.Run(); err != nil {
			log.Error("server run", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	termSig := <-sig

	log.Debug("Graceful shutdown", zap.Any("signal", termSig))

	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err = srv.Stop(closeCtx); err != nil {
		log.DPanic("srv.Stop", zap.Error(err))
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Warn("producer.Close", zap.Error(err))
		}
	}
	db.Close()
	log.Info("Graceful shutdown finished")
}
