package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chunkdrop/internal/api"
	"chunkdrop/internal/config"
	"chunkdrop/internal/database"
	"chunkdrop/internal/events"
	natsevents "chunkdrop/internal/events/nats"
	"chunkdrop/internal/logging"
	"chunkdrop/internal/middleware"
	"chunkdrop/internal/migrations"
	"chunkdrop/internal/repository/postgres"
	"chunkdrop/internal/service"
	"chunkdrop/internal/session"
	"chunkdrop/internal/storage"
	"chunkdrop/internal/storage/local"
	s3storage "chunkdrop/internal/storage/s3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("配置加载完成，开始启动服务", "env", cfg.Env, "storage_dir", cfg.Upload.StorageDir)

	if err := run(cfg, logger); err != nil {
		logger.Error("服务异常退出", "error", err)
		os.Exit(1)
	}
	logger.Info("服务已停止")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Database.AutoMigrate {
		if err := migrations.Apply(ctx, cfg.PostgresDSN()); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
	}

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	repo := postgres.NewUploadRepository(db)
	files := local.New(cfg.Upload.StorageDir)

	// 上一个进程遗留的未完成上传已经没有 worker 能完成，启动前统一回收
	if _, err := session.Reclaim(ctx, repo, files, logger); err != nil {
		return fmt.Errorf("reclaim incomplete uploads: %w", err)
	}

	var archive storage.Writer
	if cfg.Archive.Driver == config.ArchiveDriverS3 {
		store, err := s3storage.New(ctx, s3storage.Config{
			Endpoint:  cfg.Archive.S3Endpoint,
			AccessKey: cfg.Archive.S3AccessKey,
			SecretKey: cfg.Archive.S3SecretKey,
			Bucket:    cfg.Archive.S3Bucket,
			Region:    cfg.Archive.S3Region,
			UseSSL:    cfg.Archive.S3UseSSL,
		})
		if err != nil {
			return fmt.Errorf("init archive storage: %w", err)
		}
		archive = store
		logger.Info("archive enabled", "driver", cfg.Archive.Driver, "bucket", cfg.Archive.S3Bucket)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		p, err := natsevents.NewPublisher(ctx, cfg.NATS, logger)
		if err != nil {
			return fmt.Errorf("init event publisher: %w", err)
		}
		defer p.Close()
		publisher = p
	}

	handle, err := session.Start(session.Options{
		Repo:        repo,
		Files:       files,
		Archive:     archive,
		Events:      publisher,
		Logger:      logger.With("component", "session"),
		IdleTimeout: cfg.Upload.IdleTimeout,
		QueueSize:   cfg.Upload.QueueSize,
	})
	if err != nil {
		return fmt.Errorf("start session handle: %w", err)
	}
	defer handle.Close()

	auth, stopAuth, err := middleware.Authenticator(cfg.Auth, logger)
	if err != nil {
		return fmt.Errorf("init auth: %w", err)
	}
	defer stopAuth()

	httpLogger := logger.With("component", "http")
	router := api.NewRouter(api.RouterDeps{
		Config:  cfg,
		Logger:  httpLogger,
		Auth:    auth,
		Health:  db.PingContext,
		Uploads: api.NewUploadHandler(handle, service.NewUploadService(repo, files), httpLogger, cfg.Upload.MaxChunkBytes),
		Stream:  api.NewStreamHandler(handle, httpLogger, cfg.Upload.MaxChunkBytes, cfg.CORSAllowedOrigins),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(httpLogger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("服务监听端口", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		logger.Info("收到退出信号，开始优雅关闭")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("优雅关闭失败", "error", err)
	}

	// 关闭后所有进行中的上传按未完成处理并清理
	handle.Close()
	return nil
}
