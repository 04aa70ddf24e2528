package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sinkobela/ecmr-backend-sub000/internal/api"
	"github.com/sinkobela/ecmr-backend-sub000/internal/api/middleware"
	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/config"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/sinkobela/ecmr-backend-sub000/internal/lifecycle"
	"github.com/sinkobela/ecmr-backend-sub000/internal/repository"
	"github.com/sinkobela/ecmr-backend-sub000/internal/services"
	"github.com/sinkobela/ecmr-backend-sub000/internal/utils"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/logger"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/metrics"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("ECMR_CONFIG"), "path to a JSON or TOML config file")
	flag.Parse()

	cfg := config.InitializeDefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	zapLogger, err := logger.NewLogger(cfg.Logging.Environment, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	config.LogConfig(zapLogger)

	var repo repository.Repository
	switch cfg.Database.Driver {
	case "memory":
		zapLogger.Warn("Using in-memory repository; data is lost on restart")
		repo = repository.NewMemoryRepository()
	default:
		database, err := db.Initialize(cfg, zapLogger)
		if err != nil {
			zapLogger.Fatal("Failed to initialize database", zap.Error(err))
		}
		repo = repository.NewGormRepository(database)
	}

	metricsCollector := metrics.NewMetricsCollector()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Seed.Enabled {
		if err := seedDatabase(ctx, repo, cfg.Seed.Password, zapLogger); err != nil {
			zapLogger.Fatal("Failed to seed database", zap.Error(err))
		}
	}

	notifier := lifecycle.NewNotifier(zapLogger)
	notifier.Register("log", lifecycle.LogCallback(zapLogger))
	notifier.Register("metrics", lifecycle.MetricsCallback(metricsCollector))

	resolver := services.NewRoleResolver(repo, zapLogger)
	keyService := services.NewKeyService(repo, zapLogger, metricsCollector, cfg.Key.KeyBits)
	sessionService := services.NewSessionService(repo, zapLogger, metricsCollector,
		cfg.Security.SessionTimeout.Duration, cfg.Security.MaxFailedAttempts)
	documentService := services.NewDocumentService(repo, resolver, services.NewMutationGuard(), notifier, zapLogger, metricsCollector)
	sealingService := services.NewSealingService(repo, resolver, keyService, notifier, zapLogger, metricsCollector)
	fetcher := services.NewHTTPBundleFetcher(cfg.Federation.RequestTimeout.Duration, cfg.Federation.MaxBundleBytes)
	federationService := services.NewFederationService(repo, resolver, fetcher, notifier, zapLogger, metricsCollector)
	partyService := services.NewExternalPartyService(repo, services.LogTANDelivery(zapLogger), zapLogger, metricsCollector,
		cfg.Security.TANLength, cfg.Security.TANTTL.Duration)

	sessionService.StartCleanup(ctx, time.Hour)
	defer sessionService.Stop()

	var scheduler *services.ArchiveScheduler
	if cfg.Archive.Enabled {
		scheduler = services.NewArchiveScheduler(repo, documentService, zapLogger, metricsCollector, cfg.Archive.AgeThreshold.Duration)
		scheduler.Start(ctx, cfg.Archive.SweepInterval.Duration)
	}

	tracker := middleware.NewIPAttemptTracker(cfg.Security.MaxFailedAttempts, cfg.Security.AttemptWindow.Duration)
	defer tracker.Stop()

	router := api.NewRouter(zapLogger, metricsCollector, tracker, api.Services{
		Repo:       repo,
		Resolver:   resolver,
		Sessions:   sessionService,
		Documents:  documentService,
		Sealing:    sealingService,
		Federation: federationService,
		Parties:    partyService,
	}, api.Options{
		SessionMaxAge: int(cfg.Security.SessionTimeout.Seconds()),
		SecureCookie:  cfg.Logging.Environment == "production",
		ReleaseMode:   cfg.Logging.Environment == "production",
	})
	router.SetupRoutes()

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	zapLogger.Info("Server started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		zapLogger.Error("Server forced to shutdown", zap.Error(err))
	}

	cancel()
	if scheduler != nil {
		scheduler.Stop()
	}
	if err := db.Close(); err != nil {
		zapLogger.Error("Failed to close database", zap.Error(err))
	}
	zapLogger.Info("Server gracefully stopped")
}

type seedUser struct {
	username, email, firstName, lastName, group string
}

// seedDatabase creates one group per CMR party and a user in each, skipping
// anything that already exists.
func seedDatabase(ctx context.Context, repo repository.Repository, password string, logger *zap.Logger) error {
	groups := []models.Group{
		{ID: "sender-co", Name: "Sender Co"},
		{ID: "carrier-co", Name: "Carrier Co"},
		{ID: "relay-co", Name: "Relay Carrier Co"},
		{ID: "consignee-co", Name: "Consignee Co"},
	}
	users := []seedUser{
		{"sender", "sender@example.com", "Sandra", "Sender", "sender-co"},
		{"carrier", "carrier@example.com", "Carl", "Carrier", "carrier-co"},
		{"relay", "relay@example.com", "Rita", "Relay", "relay-co"},
		{"consignee", "consignee@example.com", "Conrad", "Consignee", "consignee-co"},
	}

	if _, err := repo.GetUserByUsername(ctx, users[0].username); err == nil {
		logger.Info("Database already seeded, skipping")
		return nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	logger.Info("Seeding database with initial data")

	for i := range groups {
		if err := repo.SaveGroup(ctx, &groups[i]); err != nil {
			return err
		}
	}

	hash, err := utils.EncryptPassword(password)
	if err != nil {
		return err
	}
	for _, su := range users {
		u := &models.User{
			Username:     su.username,
			Email:        su.email,
			PasswordHash: hash,
			FirstName:    su.firstName,
			LastName:     su.lastName,
			ActiveStatus: true,
		}
		if err := repo.SaveUser(ctx, u); err != nil {
			return err
		}
		if err := repo.AddGroupMember(ctx, su.group, u.ID); err != nil {
			return err
		}
		logger.Info("Created user", zap.String("username", u.Username), zap.String("group", su.group))
	}

	logger.Info("Database seeding completed successfully")
	return nil
}
