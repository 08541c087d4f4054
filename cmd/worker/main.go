// Package main runs the background job worker: notification fan-out, email delivery,
// snapshot archive and the expired-account sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pulsecheck/backend/config"
	"github.com/pulsecheck/backend/internal/assessments"
	"github.com/pulsecheck/backend/internal/auth"
	"github.com/pulsecheck/backend/internal/emaillogs"
	"github.com/pulsecheck/backend/internal/invitations"
	"github.com/pulsecheck/backend/internal/notifications"
	"github.com/pulsecheck/backend/internal/realtime"
	"github.com/pulsecheck/backend/internal/worker"
	"github.com/pulsecheck/backend/pkg/database"
	"github.com/pulsecheck/backend/pkg/mailer"
	"github.com/pulsecheck/backend/pkg/queue"
	"github.com/pulsecheck/backend/pkg/redis"
	"github.com/pulsecheck/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	jobQueue := queue.NewQueue(rdb.Client, logger)
	w := worker.New(jobQueue, logger)

	// Notification fan-out: in-app rows, realtime push through redis, optional email.
	dispatcher := notifications.NewDispatcher(notifications.NewRepository(pool), realtime.NewRedisPubSub(rdb.Client, logger),
		jobQueue, realtime.EventNotification, logger)
	w.Handle(queue.JobTypeNotification, worker.NewNotificationProcessor(dispatcher, logger))

	// Email delivery
	smtp := mailer.New(mailer.Config{
		Host:        cfg.Email.SMTPHost,
		Port:        cfg.Email.SMTPPort,
		Username:    cfg.Email.SMTPUser,
		Password:    cfg.Email.SMTPPass,
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
	}, logger)
	if !smtp.Enabled() {
		logger.Warn("SMTP_HOST not set, emails are logged only")
	}
	w.Handle(queue.JobTypeEmail, worker.NewEmailProcessor(emaillogs.NewRepository(pool), smtp, logger))

	// Snapshot archive
	if cfg.AWS.Region != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			SnapshotBucket:  cfg.AWS.SnapshotBucket,
		}, logger)
		if err != nil {
			logger.Fatal("s3", zap.Error(err))
		}
		w.Handle(queue.JobTypeSnapshotArchive, worker.NewArchiveProcessor(assessments.NewRepository(pool), s3Client, logger))
	} else {
		logger.Warn("AWS_REGION not set, archive jobs will retry until they reach the DLQ")
	}

	// Expired-account sweep. Only SweepExpired is used, so the unused collaborators stay nil.
	sweeper := auth.NewService(auth.NewRepository(pool), invitations.NewRepository(pool), nil, nil, nil, nil,
		auth.ServiceConfig{}, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.Run(workerCtx)
	}()
	go func() {
		defer wg.Done()
		worker.RunSweep(workerCtx, sweeper, cfg.Worker.SweepInterval, logger)
	}()
	logger.Info("worker started", zap.Duration("sweep_interval", cfg.Worker.SweepInterval))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	wg.Wait()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
