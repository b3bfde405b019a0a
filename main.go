package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/IliaW/recipe-box/config"
	"github.com/IliaW/recipe-box/internal/api"
	"github.com/IliaW/recipe-box/internal/aws_s3"
	"github.com/IliaW/recipe-box/internal/broker"
	cacheClient "github.com/IliaW/recipe-box/internal/cache"
	"github.com/IliaW/recipe-box/internal/extractor"
	"github.com/IliaW/recipe-box/internal/model"
	"github.com/IliaW/recipe-box/internal/persistence"
	"github.com/IliaW/recipe-box/internal/service"
	"github.com/IliaW/recipe-box/internal/worker"
	"github.com/go-sql-driver/mysql"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
)

var (
	cfg        *config.Config
	log        *slog.Logger
	db         *sql.DB
	rdb        *redis.Client
	s3         aws_s3.BucketClient
	cache      cacheClient.CachedClient
	recipeRepo persistence.RecipeStorage
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg = config.MustLoad()
	log = setupLogger()
	if cfg.AuthSettings.SharedSecret == "" {
		log.Error("auth.shared_secret is required.")
		os.Exit(1)
	}
	recipeRepo = setupStorage(ctx)
	defer closeStorage()
	s3 = aws_s3.NewS3BucketClient(cfg.S3Settings, log)
	cache = cacheClient.NewMemcachedClient(cfg.CacheSettings, log)
	defer cache.Close()
	metaExtractor := extractor.New(extractorPolicy(), log)

	taskChan := make(chan *model.EnrichTask, cfg.WorkerSettings.QueueSize)
	msgChan := make(chan *model.Message, cfg.WorkerSettings.QueueSize)
	panicChan := make(chan struct{}, cfg.WorkerSettings.MaxWorkers)

	recipeService := service.NewRecipeService(cfg, recipeRepo, cache, s3, metaExtractor, msgChan, log)

	kafkaWg := &sync.WaitGroup{}
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	kafkaWg.Add(1)
	go broker.NewKafkaConsumer(taskChan, cfg.KafkaSettings.Consumer, log, kafkaWg).Run(consumerCtx)

	workerWg := &sync.WaitGroup{}
	enrichWorker := &worker.EnrichWorker{
		InputChan: taskChan,
		PanicChan: panicChan,
		Enricher:  recipeService,
		Timeout:   cfg.WorkerSettings.EnrichTimeout,
		Log:       log,
		Wg:        workerWg,
	}
	worker.StartPool(enrichWorker, cfg.WorkerSettings.MaxWorkers)

	producerWg := &sync.WaitGroup{}
	producerWg.Add(1)
	go broker.NewKafkaProducer(msgChan, cfg.KafkaSettings.Producer, log, producerWg).Run()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(recipeService, cfg, log),
		ReadTimeout:  cfg.HttpSettings.ReadTimeout,
		WriteTimeout: cfg.HttpSettings.WriteTimeout,
		IdleTimeout:  cfg.HttpSettings.IdleTimeout,
	}
	go func() {
		log.Info("starting application on port "+cfg.Port, slog.String("env", cfg.Env),
			slog.String("storage", cfg.StorageSettings.Driver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed.", slog.String("err", err.Error()))
			stop()
		}
	}()

	// Graceful shutdown.
	// 1. Stop the HTTP server so no new recipes or events are produced
	// 2. Stop Kafka Consumer. Close taskChan
	// 3. Wait till all Workers processed all tasks from taskChan. Close msgChan
	// 4. Wait till Producer writes all messages from msgChan to kafka
	// 5. Close storage and memcached connections
	<-ctx.Done()
	log.Info("stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HttpSettings.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop http server.", slog.String("err", err.Error()))
	}
	stopConsumer()
	kafkaWg.Wait()
	workerWg.Wait()
	close(msgChan)
	log.Info("close msgChan.")
	close(panicChan)
	log.Info("close panicChan.")
	producerWg.Wait()
}

func extractorPolicy() extractor.Policy {
	policy := extractor.DefaultPolicy()
	if s := cfg.ExtractorSettings; s != nil {
		if s.Timeout > 0 {
			policy.Timeout = s.Timeout
		}
		if s.MaxBytes > 0 {
			policy.MaxBytes = s.MaxBytes
		}
		if s.MaxRedirects > 0 {
			policy.MaxRedirects = s.MaxRedirects
		}
		if s.UserAgent != "" {
			policy.UserAgent = s.UserAgent
		}
	}
	return policy
}

func setupLogger() *slog.Logger {
	resolvedLogLevel := func() slog.Level {
		envLogLevel := strings.ToLower(cfg.LogLevel)
		switch envLogLevel {
		case "info":
			return slog.LevelInfo
		case "warn":
			return slog.LevelWarn
		case "error":
			return slog.LevelError
		default:
			return slog.LevelDebug
		}
	}

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       resolvedLogLevel(),
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       resolvedLogLevel(),
			ReplaceAttr: replaceAttrs,
			NoColor:     false}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}

func setupStorage(ctx context.Context) persistence.RecipeStorage {
	switch strings.ToLower(cfg.StorageSettings.Driver) {
	case "redis":
		rdb = setupRedis(ctx)
		return persistence.NewRedisRecipeRepository(rdb, cfg.RedisSettings.KeyPrefix, log)
	case "mysql", "":
		db = setupDatabase()
		repo := persistence.NewMySQLRecipeRepository(db, log)
		if err := repo.Migrate(ctx); err != nil {
			log.Error("failed to migrate database.", slog.String("err", err.Error()))
			os.Exit(1)
		}
		return repo
	default:
		log.Error("unknown storage driver.", slog.String("driver", cfg.StorageSettings.Driver))
		os.Exit(1)
	}
	return nil
}

func setupRedis(ctx context.Context) *redis.Client {
	log.Info("connecting to redis...")
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisSettings.Addr,
		Password: cfg.RedisSettings.Password,
		DB:       cfg.RedisSettings.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Error("connection to redis is failed.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("connected to redis!")

	return client
}

func setupDatabase() *sql.DB {
	log.Info("connecting to the database...")
	sqlCfg := mysql.Config{
		User:                 cfg.DbSettings.User,
		Passwd:               cfg.DbSettings.Password,
		Net:                  "tcp",
		Addr:                 fmt.Sprintf("%s:%s", cfg.DbSettings.Host, cfg.DbSettings.Port),
		DBName:               cfg.DbSettings.Name,
		AllowNativePasswords: true,
		ParseTime:            true,
		ClientFoundRows:      true,
		Loc:                  time.UTC,
	}
	database, err := sql.Open("mysql", sqlCfg.FormatDSN())
	if err != nil {
		log.Error("failed to establish database connection.", slog.String("err", err.Error()))
		os.Exit(1)
	}
	database.SetConnMaxLifetime(cfg.DbSettings.ConnMaxLifetime)
	database.SetMaxOpenConns(cfg.DbSettings.MaxOpenConns)
	database.SetMaxIdleConns(cfg.DbSettings.MaxIdleConns)

	maxRetry := 6
	for i := 1; i <= maxRetry; i++ {
		log.Info("ping the database.", slog.String("attempt", fmt.Sprintf("%d/%d", i, maxRetry)))
		pingErr := database.Ping()
		if pingErr != nil {
			log.Error("not responding.", slog.String("err", pingErr.Error()))
			if i == maxRetry {
				log.Error("failed to establish database connection.")
				os.Exit(1)
			}
			log.Info(fmt.Sprintf("wait %d seconds", 5*i))
			time.Sleep(time.Duration(5*i) * time.Second)
		} else {
			break
		}
	}
	log.Info("connected to the database!")

	return database
}

func closeStorage() {
	if db != nil {
		log.Info("closing database connection.")
		if err := db.Close(); err != nil {
			log.Error("failed to close database connection.", slog.String("err", err.Error()))
		}
	}
	if rdb != nil {
		log.Info("closing redis connection.")
		if err := rdb.Close(); err != nil {
			log.Error("failed to close redis connection.", slog.String("err", err.Error()))
		}
	}
}
