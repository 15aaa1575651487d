package main

import (
	// Go Internal Packages
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	// Local Packages
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/config"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/deadletter"
	httpd "github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/delivery/http"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/mpesa"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/repository"
	"github.com/scottmaphuma022-wq/nova-lifeguard-portal/internal/usecase"

	// External Packages
	"github.com/alecthomas/kingpin/v2"
	_ "github.com/jsternberg/zap-logfmt"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newLogger(appKonf *config.Config) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "logfmt"
	_ = cfg.Level.UnmarshalText([]byte(appKonf.Logger.Level))
	cfg.InitialFields = make(map[string]any)
	cfg.InitialFields["host"], _ = os.Hostname()
	cfg.InitialFields["service"] = appKonf.Application
	cfg.OutputPaths = []string{"stdout"}
	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("cannot build logger: %v", err)
	}
	return logger
}

func main() {
	app := kingpin.New("premium-payments", "M-Pesa premium collection service.")
	configPath := app.Flag("config", "Path to the application config file").Short('c').Default("config.yml").String()

	serveCmd := app.Command("serve", "Run the HTTP API.").Default()
	replayCmd := app.Command("replay-dead-letters", "Re-apply payment updates that failed during reconciliation.")
	replayLimit := replayCmd.Flag("limit", "Maximum number of updates to replay").Default("100").Int()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	appKonf, k, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	// Validate the config loaded
	if err = appKonf.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	if !appKonf.IsProdMode {
		k.Print()
	}

	logger := newLogger(appKonf)
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewSQLiteRepo(appKonf.SQLite.DSN)
	if err != nil {
		logger.Fatal("cannot open sqlite store", zap.Error(err))
	}
	defer repo.Close()

	var redisClient *redis.Client
	if appKonf.Redis.Enabled {
		redisClient, err = deadletter.Connect(ctx, appKonf.Redis.URI, appKonf.Redis.Password)
		if err != nil {
			logger.Fatal("cannot create redis client", zap.Error(err))
		}
		defer redisClient.Close()
	}

	switch command {
	case serveCmd.FullCommand():
		serve(ctx, appKonf, logger, repo, redisClient)
	case replayCmd.FullCommand():
		replay(ctx, appKonf, logger, repo, redisClient, *replayLimit)
	}
}

func serve(ctx context.Context, appKonf *config.Config, logger *zap.Logger, repo *repository.SQLiteRepo, redisClient *redis.Client) {
	var (
		locker     usecase.Locker
		deadLetter usecase.DeadLetter
	)
	if redisClient != nil {
		locker = deadletter.NewLocker(redisClient, appKonf.Redis.LockTTL)
		deadLetter = deadletter.NewQueue(redisClient, logger, appKonf.Redis.DeadLetterList)
	} else {
		logger.Warn("redis disabled; failed payment updates are only logged")
	}

	opts := appKonf.UsecaseOptions()
	gateway := mpesa.NewClient(appKonf.MpesaConfig(), nil)
	initiator := usecase.NewInitiateUsecase(repo, gateway, locker, opts, logger.Named("initiate"))
	reconciler := usecase.NewReconcileUsecase(repo, deadLetter, opts, logger.Named("reconcile"))

	h := httpd.NewHandler(initiator, reconciler, repo, logger.Named("http"))
	server := &http.Server{
		Addr: ":" + appKonf.HTTP.Port,
		Handler: h.Routes(httpd.RouteConfig{
			AllowedOrigins: appKonf.HTTP.AllowedOrigins,
			Sig: httpd.SigConfig{
				Secret:        appKonf.HTTP.HMACSecret,
				MaxAgeSeconds: appKonf.HTTP.SigMaxAgeSeconds,
			},
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", zap.String("addr", server.Addr), zap.String("flow", string(opts.Flow)))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
}

func replay(ctx context.Context, appKonf *config.Config, logger *zap.Logger, repo *repository.SQLiteRepo, redisClient *redis.Client, limit int) {
	if redisClient == nil {
		logger.Fatal("replay-dead-letters needs redis.enabled")
	}

	queue := deadletter.NewQueue(redisClient, logger, appKonf.Redis.DeadLetterList)
	reconciler := usecase.NewReconcileUsecase(repo, queue, appKonf.UsecaseOptions(), logger.Named("replay"))

	replayed, failed, err := reconciler.ReplayPaymentUpdates(ctx, limit)
	if err != nil {
		logger.Fatal("replay aborted", zap.Int("replayed", replayed), zap.Int("failed", failed), zap.Error(err))
	}

	remaining, err := queue.Len(ctx)
	if err != nil {
		logger.Warn("cannot read dead letter length", zap.Error(err))
	}
	logger.Info("replay finished", zap.Int("replayed", replayed), zap.Int("failed", failed), zap.Int64("remaining", remaining))
}
