package main

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gorm.io/gorm"

	"github.com/example/face-attendance/internal/config"
	"github.com/example/face-attendance/internal/extractor"
	"github.com/example/face-attendance/internal/face"
	"github.com/example/face-attendance/internal/grpcclient"
	"github.com/example/face-attendance/internal/index"
	"github.com/example/face-attendance/internal/logging"
	"github.com/example/face-attendance/internal/metrics"
	"github.com/example/face-attendance/internal/repository"
	"github.com/example/face-attendance/internal/usecase"
)

// app holds the shared dependencies of every command.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	db      *gorm.DB
	closers []func()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	dbCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	db, err := repository.Open(dbCtx, repository.OpenOptions{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		LogSQL:          cfg.Database.LogSQL,
	}, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db}
	a.closers = append(a.closers, func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

// recognition bundles the use case with the optional HNSW index backing it.
type recognition struct {
	useCase *usecase.RecognitionUseCase
	people  *repository.PeopleRepository
	gallery *repository.GalleryRepository
	index   *index.HNSWFinder
}

func (a *app) buildRecognition(ctx context.Context, strategy string) (*recognition, error) {
	cfg := a.cfg

	policy, err := extractor.ParseMultiFacePolicy(cfg.Extractor.MultiFacePolicy)
	if err != nil {
		return nil, err
	}
	matcher, err := face.NewMatcher(cfg.Matcher.Threshold)
	if err != nil {
		return nil, err
	}

	client, conn, err := grpcclient.DialExtractor(ctx, cfg.Extractor.Addr, cfg.Extractor.Timeout, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to embedding service: %w", err)
	}
	a.closers = append(a.closers, func() { closeConn(conn, a.logger) })

	var ext extractor.Extractor = extractor.NewFaceExtractor(client, extractor.Options{
		Policy:    policy,
		Dimension: cfg.Extractor.Dimension,
		MaxSide:   cfg.Extractor.MaxImageSide,
		MaxPixels: cfg.Extractor.MaxImagePixels,
	})
	if redisClient := a.connectRedis(ctx); redisClient != nil {
		scope := extractor.CacheScope{
			Model:     cfg.Extractor.Model,
			Dimension: cfg.Extractor.Dimension,
			Policy:    policy,
		}
		ext = extractor.NewCachedExtractor(ext, extractor.NewRedisCache(redisClient), scope, cfg.Redis.CacheTTL,
			metrics.EmbeddingCacheTotal, a.logger)
	}
	ext = extractor.NewInstrumentedExtractor(ext, metrics.ExtractionDuration, a.logger)

	if cfg.Extractor.Dimension == 0 {
		a.logger.Warn("extractor.dimension is not set, the first stored face fixes the gallery dimension")
	}
	people := repository.NewPeopleRepository(a.db, a.logger)
	gallery := repository.NewGalleryRepository(a.db, a.logger, repository.GalleryOptions{
		Dimension: cfg.Extractor.Dimension,
		Model:     cfg.Extractor.Model,
	})
	attendance := repository.NewAttendanceRepository(a.db, a.logger)

	opts := usecase.Options{
		Location:      cfg.Location(),
		Recognitions:  metrics.RecognitionsTotal,
		Registrations: metrics.RegistrationsTotal,
		MatchDistance: metrics.MatchDistance,
	}

	var (
		finder face.Finder
		hnsw   *index.HNSWFinder
	)
	switch strategy {
	case config.StrategyHNSW:
		hnsw = index.NewHNSWFinder(gallery, index.Options{
			Candidates:   cfg.Matcher.Candidates,
			MaxNeighbors: cfg.Matcher.HNSWM,
			EfSearch:     cfg.Matcher.HNSWEfSearch,
			ConfirmBelow: cfg.Matcher.Threshold,
			Size:         metrics.GallerySize,
		}, a.logger)
		finder = hnsw
		opts.Invalidator = hnsw
	default:
		finder = face.NewLinearFinder(gallery)
	}

	uc := usecase.NewRecognitionUseCase(people, gallery, attendance, ext, finder, matcher, opts, a.logger)
	return &recognition{useCase: uc, people: people, gallery: gallery, index: hnsw}, nil
}

// connectRedis returns nil when the cache is disabled or unreachable; extraction works without it.
func (a *app) connectRedis(ctx context.Context) *redis.Client {
	if a.cfg.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.logger.Warn("redis unavailable, embedding cache disabled", zap.String("addr", a.cfg.Redis.Addr), zap.Error(err))
		_ = client.Close()
		return nil
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	return client
}

func closeConn(conn *grpc.ClientConn, logger *zap.Logger) {
	if err := conn.Close(); err != nil {
		logger.Warn("failed to close extractor connection", zap.Error(err))
	}
}
