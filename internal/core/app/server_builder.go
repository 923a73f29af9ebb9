package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/sentinelmesh/fedagg/internal/api"
	"github.com/sentinelmesh/fedagg/internal/api/handlers"
	"github.com/sentinelmesh/fedagg/internal/core/config"
	"github.com/sentinelmesh/fedagg/internal/core/models"
	"github.com/sentinelmesh/fedagg/internal/core/ports"
	"github.com/sentinelmesh/fedagg/internal/core/services"
	"github.com/sentinelmesh/fedagg/internal/database/repositories"
	"github.com/sentinelmesh/fedagg/internal/utils"
	"github.com/sentinelmesh/fedagg/pkg/database"
	"github.com/sentinelmesh/fedagg/pkg/gologger"
)

type Server struct {
	Config         *config.Config
	HttpServer     *http.Server
	DB             *gorm.DB
	RoundService   *services.FederatedRoundService
	VersionService *services.ModelVersionService
	CleanupService *services.CleanupService
	StopChannel    chan struct{}
}

func (s *Server) Shutdown(ctx context.Context) {
	log := gologger.Get()

	serverShutdownCtx, serverShutdownCancel := context.WithTimeout(ctx, 15*time.Second)
	defer serverShutdownCancel()

	close(s.StopChannel)

	if s.CleanupService != nil {
		s.CleanupService.Stop()
		log.Info().Msg("Stopped version cleanup service")
	}

	log.Info().Int("shutdown_timeout_seconds", 15).Msg("Initiating server shutdown sequence")
	shutdownStart := time.Now()

	if err := s.HttpServer.Shutdown(serverShutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
		if err == context.DeadlineExceeded {
			log.Warn().Msg("Server shutdown deadline exceeded, forcing immediate shutdown")
		}
	} else {
		log.Info().Dur("duration_ms", time.Since(shutdownStart)).Msg("Server HTTP connections gracefully closed")
	}

	if s.DB != nil {
		if sqlDB, err := s.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing database connection")
			} else {
				log.Info().Msg("Database connection closed successfully")
			}
		}
	}

	log.Info().Msg("Shutdown complete")
}

type ServerBuilder struct {
	config             *config.Config
	db                 *gorm.DB
	roundRepo          ports.AggregationRoundRepository
	aggregationService *services.AggregationService
	secureAggService   *services.SecureAggregationService
	privacyService     *services.DifferentialPrivacyService
	versionService     *services.ModelVersionService
	roundService       *services.FederatedRoundService
	cleanupService     *services.CleanupService
	federationHandler  *handlers.FederationHandler
	versionHandler     *handlers.VersionHandler
	httpServer         *http.Server
	stopChannel        chan struct{}
	err                error
}

func NewServerBuilder(cfg *config.Config) *ServerBuilder {
	return &ServerBuilder{
		config:      cfg,
		stopChannel: make(chan struct{}),
	}
}

func (sb *ServerBuilder) InitDatabase() *ServerBuilder {
	if sb.err != nil {
		return sb
	}

	log := gologger.Get()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := database.Connect(ctx, sb.config.Database.GetConnectionURL())
	if err != nil {
		sb.err = fmt.Errorf("failed to connect to database: %w", err)
		return sb
	}
	sb.db = db

	log.Info().Msg("Successfully connected to database")
	return sb
}

func (sb *ServerBuilder) InitRepositories() *ServerBuilder {
	if sb.err != nil {
		return sb
	}

	sb.roundRepo = repositories.NewAggregationRoundRepository(sb.db)
	return sb
}

func (sb *ServerBuilder) InitServices() *ServerBuilder {
	if sb.err != nil {
		return sb
	}

	fedCfg := sb.config.Federation

	strategy, err := services.StrategyForMethod(models.AggregationMethod(fedCfg.AggregationMethod))
	if err != nil {
		sb.err = fmt.Errorf("failed to resolve aggregation strategy: %w", err)
		return sb
	}
	sb.aggregationService = services.NewAggregationService(strategy)

	if fedCfg.SecureAggregation {
		sb.secureAggService = services.NewSecureAggregationService()
	}

	if fedCfg.DifferentialPrivacy {
		privacyService, err := services.NewDifferentialPrivacyService(fedCfg.Epsilon, fedCfg.Delta)
		if err != nil {
			sb.err = fmt.Errorf("failed to initialize differential privacy: %w", err)
			return sb
		}
		sb.privacyService = privacyService
	}

	versionService, err := services.NewModelVersionService(fedCfg.CheckpointDir)
	if err != nil {
		sb.err = fmt.Errorf("failed to initialize version store: %w", err)
		return sb
	}
	sb.versionService = versionService

	mirror, err := services.NewCheckpointStore(sb.config)
	if err != nil {
		sb.err = fmt.Errorf("failed to initialize checkpoint mirror: %w", err)
		return sb
	}
	if mirror != nil {
		sb.versionService.SetMirror(mirror)
	}

	sb.roundService = services.NewFederatedRoundService(
		fedCfg,
		sb.aggregationService,
		sb.secureAggService,
		sb.privacyService,
		sb.versionService,
	)
	sb.roundService.SetRoundRepository(sb.roundRepo)

	if sb.config.Notary.WebhookURL != "" {
		sb.roundService.SetNotarySink(services.NewWebhookNotaryService(sb.config.Notary.WebhookURL))
	}

	return sb
}

func (sb *ServerBuilder) InitCleanupService() *ServerBuilder {
	if sb.err != nil {
		return sb
	}

	interval := time.Duration(sb.config.Federation.CleanupInterval) * time.Minute
	sb.cleanupService = services.NewCleanupService(sb.versionService, interval, sb.config.Federation.KeepLastVersions)

	if err := sb.cleanupService.Start(); err != nil {
		sb.err = fmt.Errorf("failed to start version cleanup service: %w", err)
		return sb
	}

	return sb
}

func (sb *ServerBuilder) InitRouter() *ServerBuilder {
	if sb.err != nil {
		return sb
	}

	sb.federationHandler = handlers.NewFederationHandler(sb.roundService)
	sb.versionHandler = handlers.NewVersionHandler(sb.versionService)

	router := api.NewRouter(
		sb.federationHandler,
		sb.versionHandler,
		sb.config.Server.Endpoint,
	)

	if err := utils.VerifyPortAvailable(sb.config.Server.Host, sb.config.Server.Port); err != nil {
		sb.err = fmt.Errorf("server port is not available: %w", err)
		return sb
	}

	sb.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%s", sb.config.Server.Host, sb.config.Server.Port),
		Handler: router,
	}

	return sb
}

func (sb *ServerBuilder) Build() (*Server, error) {
	if sb.err != nil {
		return nil, sb.err
	}

	return &Server{
		Config:         sb.config,
		HttpServer:     sb.httpServer,
		DB:             sb.db,
		RoundService:   sb.roundService,
		VersionService: sb.versionService,
		CleanupService: sb.cleanupService,
		StopChannel:    sb.stopChannel,
	}, nil
}
