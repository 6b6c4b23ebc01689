package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/mcqkit/correction-service/internal/cache"
	"github.com/mcqkit/correction-service/internal/events"
	"github.com/mcqkit/correction-service/internal/repositories"
	"github.com/mcqkit/correction-service/internal/validator"
)

// ServiceManagerConfig holds configuration for the service manager
type ServiceManagerConfig struct {
	// Logging configuration
	EnableDebugLogging bool
	LogLevel           slog.Level

	// Reconciliation engine defaults; requests may override thresholds
	Reconcile ReconcileConfig

	// Global settings
	DefaultTimeout time.Duration
}

// serviceManager implements ServiceManager interface
type serviceManager struct {
	// Dependencies
	db             *gorm.DB
	repo           repositories.Repository
	logger         *slog.Logger
	validator      *validator.Validator
	eventPublisher events.EventPublisher
	cacheManager   *cache.CacheManager
	config         ServiceManagerConfig

	// Service instances
	answerKeyService AnswerKeyService
	ingestService    IngestService
	reconcileService ReconcileService
	ledgerService    LedgerService
	reportService    ReportService

	// Lifecycle management
	initialized bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewServiceManager creates a new service manager with all dependencies
func NewServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher, cacheManager *cache.CacheManager, config ServiceManagerConfig) ServiceManager {
	return &serviceManager{
		db:             db,
		repo:           repo,
		logger:         logger,
		validator:      validator,
		eventPublisher: publisher,
		cacheManager:   cacheManager,
		config:         config,
	}
}

// NewDefaultServiceManager creates a service manager with default configuration
func NewDefaultServiceManager(db *gorm.DB, repo repositories.Repository, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher, cacheManager *cache.CacheManager) ServiceManager {
	config := ServiceManagerConfig{
		EnableDebugLogging: false,
		LogLevel:           slog.LevelInfo,
		Reconcile:          DefaultReconcileConfig(),
		DefaultTimeout:     30 * time.Second,
	}
	return NewServiceManager(db, repo, logger, validator, publisher, cacheManager, config)
}

// Initialize sets up all services and their dependencies
func (sm *serviceManager) Initialize(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.initialized {
		return nil
	}

	sm.logger.Info("Initializing service manager")

	sm.answerKeyService = NewAnswerKeyService(sm.repo, sm.db, sm.logger, sm.validator, sm.eventPublisher)
	sm.logger.Info("Answer key service initialized")

	sm.ingestService = NewIngestService(sm.repo, sm.db, sm.logger, sm.validator)
	sm.logger.Info("Ingest service initialized")

	sm.reconcileService = NewReconcileService(sm.repo, sm.db, sm.logger, sm.validator, sm.eventPublisher, sm.cacheManager, sm.config.Reconcile)
	sm.logger.Info("Reconcile service initialized",
		"accept_threshold", sm.config.Reconcile.AcceptThreshold,
		"ambiguity_margin", sm.config.Reconcile.AmbiguityMargin,
		"workers", sm.config.Reconcile.Workers)

	sm.ledgerService = NewLedgerService(sm.repo, sm.db, sm.logger, sm.validator, sm.eventPublisher, sm.cacheManager)
	sm.logger.Info("Ledger service initialized")

	sm.reportService = NewReportService(sm.repo, sm.db, sm.logger, sm.cacheManager)
	sm.logger.Info("Report service initialized")

	sm.initialized = true
	sm.logger.Info("Service manager initialized successfully")

	return nil
}

// Service getters
func (sm *serviceManager) AnswerKey() AnswerKeyService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.answerKeyService == nil {
		panic("answer key service not initialized")
	}
	return sm.answerKeyService
}

func (sm *serviceManager) Ingest() IngestService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.ingestService == nil {
		panic("ingest service not initialized")
	}
	return sm.ingestService
}

func (sm *serviceManager) Reconcile() ReconcileService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.reconcileService == nil {
		panic("reconcile service not initialized")
	}
	return sm.reconcileService
}

func (sm *serviceManager) Ledger() LedgerService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.ledgerService == nil {
		panic("ledger service not initialized")
	}
	return sm.ledgerService
}

func (sm *serviceManager) Report() ReportService {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized || sm.reportService == nil {
		panic("report service not initialized")
	}
	return sm.reportService
}

// Health and lifecycle
func (sm *serviceManager) HealthCheck(ctx context.Context) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if !sm.initialized {
		return fmt.Errorf("service manager not initialized")
	}
	if sm.shutdown {
		return fmt.Errorf("service manager is shut down")
	}

	if err := sm.repo.Ping(ctx); err != nil {
		return fmt.Errorf("repository health check failed: %w", err)
	}

	return nil
}

func (sm *serviceManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.shutdown {
		return nil
	}

	sm.logger.Info("Shutting down service manager")

	if sm.eventPublisher != nil {
		if err := sm.eventPublisher.Close(); err != nil {
			sm.logger.Error("Failed to close event publisher", "error", err)
		}
	}

	if err := sm.repo.Close(); err != nil {
		sm.logger.Error("Failed to close repository connections", "error", err)
	}

	sm.shutdown = true
	sm.logger.Info("Service manager shut down completed")

	return nil
}

// WithTimeout creates a context with the default timeout
func (sm *serviceManager) WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, sm.config.DefaultTimeout)
}
