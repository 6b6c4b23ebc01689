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
	"github.com/mcqkit/correction-service/internal/models"
	"github.com/mcqkit/correction-service/internal/repositories"
	"github.com/mcqkit/correction-service/internal/validator"
)

type reconcileService struct {
	repo           repositories.Repository
	db             *gorm.DB
	logger         *slog.Logger
	validator      *validator.Validator
	eventPublisher events.EventPublisher
	cacheManager   *cache.CacheManager
	config         ReconcileConfig
}

func NewReconcileService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher, cacheManager *cache.CacheManager, config ReconcileConfig) ReconcileService {
	if config.Workers <= 0 {
		config.Workers = DefaultReconcileConfig().Workers
	}
	return &reconcileService{
		repo:           repo,
		db:             db,
		logger:         logger,
		validator:      validator,
		eventPublisher: publisher,
		cacheManager:   cacheManager,
		config:         config,
	}
}

// ===== BATCH RECONCILIATION =====

// ReconcileBatch runs the engine over every record of one ingested batch.
// Records are independent, so they fan out over a fixed worker pool; each
// worker appends only fully-formed decisions, so cancelling mid-batch leaves
// the ledger consistent. Per-record errors are collected into the summary,
// never aborting unrelated records.
func (s *reconcileService) ReconcileBatch(ctx context.Context, req *ReconcileRequest) (*BatchSummary, error) {
	if err := s.validator.Validate(req); err != nil {
		return nil, &ValidationErrors{Errors: toServiceValidationErrors(validator.ToValidationErrors(err))}
	}

	cfg := s.effectiveConfig(req)
	if errs := s.validator.GetBusinessValidator().ValidateThresholds(cfg.AcceptThreshold, cfg.AmbiguityMargin); len(errs) > 0 {
		return nil, &ValidationErrors{Errors: toServiceValidationErrors(errs)}
	}

	batch, err := s.repo.DetectionBatch().GetByIDWithRecords(ctx, nil, req.BatchID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to get detection batch: %w", err)
	}

	key, err := s.repo.AnswerKey().GetByIDWithQuestions(ctx, nil, batch.AnswerKeyID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAnswerKeyNotFound
		}
		return nil, fmt.Errorf("failed to get answer key: %w", err)
	}

	specs, err := specIndex(key.Questions)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Reconciling batch",
		"batch_id", batch.ID,
		"key_id", key.ID,
		"records", len(batch.Records),
		"workers", cfg.Workers,
		"accept_threshold", cfg.AcceptThreshold,
		"ambiguity_margin", cfg.AmbiguityMargin)

	summary := &BatchSummary{
		BatchID:     batch.ID,
		AnswerKeyID: key.ID,
		StartedAt:   time.Now(),
	}

	jobs := make(chan *models.DetectionRecord)
	results := make(chan RecordOutcome)

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range jobs {
				results <- s.reconcileOne(ctx, record, key.ID, specs, cfg)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i := range batch.Records {
			select {
			case <-ctx.Done():
				return
			case jobs <- &batch.Records[i]:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for outcome := range results {
		summary.Processed++
		summary.Outcomes = append(summary.Outcomes, outcome)
		switch outcome.Status {
		case OutcomeDecided:
			summary.AutoDecided++
		case OutcomeFlagged:
			summary.Flagged++
		case OutcomeSkipped:
			summary.Skipped++
		}
		if outcome.Err != nil {
			summary.Errors = append(summary.Errors, outcome.Err.Error())
		}
	}
	summary.CompletedAt = time.Now()

	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("batch reconciliation cancelled: %w", err)
	}

	status := models.BatchReconciled
	if summary.Flagged > 0 || summary.Skipped > 0 {
		status = models.BatchPartial
	}
	if err := s.repo.DetectionBatch().UpdateStatus(ctx, nil, batch.ID, status); err != nil {
		s.logger.Warn("Failed to update batch status", "batch_id", batch.ID, "error", err)
	}

	cache.InvalidateResultCache(ctx, s.cacheManager, key.ID, "")

	event := events.NewEvent(events.EventBatchCompleted, events.BatchCompletedEvent{
		BatchID:       batch.ID,
		AnswerKeyID:   key.ID,
		TotalRecords:  summary.Processed,
		AutoDecided:   summary.AutoDecided,
		FlaggedReview: summary.Flagged,
		Skipped:       summary.Skipped,
	})
	if err := s.eventPublisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish batch completed event", "batch_id", batch.ID, "error", err)
	}

	s.logger.Info("Batch reconciled",
		"batch_id", batch.ID,
		"processed", summary.Processed,
		"auto_decided", summary.AutoDecided,
		"flagged", summary.Flagged,
		"skipped", summary.Skipped)

	return summary, nil
}

// ===== SINGLE RECORD =====

func (s *reconcileService) ReconcileRecord(ctx context.Context, recordID uint, cfg *ReconcileConfig) (*RecordOutcome, error) {
	record, err := s.repo.Detection().GetByID(ctx, nil, recordID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, fmt.Errorf("detection record %d not found", recordID)
		}
		return nil, fmt.Errorf("failed to get detection record: %w", err)
	}

	batch, err := s.repo.DetectionBatch().GetByID(ctx, nil, record.BatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get detection batch: %w", err)
	}

	key, err := s.repo.AnswerKey().GetByIDWithQuestions(ctx, nil, batch.AnswerKeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get answer key: %w", err)
	}

	specs, err := specIndex(key.Questions)
	if err != nil {
		return nil, err
	}

	effective := s.config
	if cfg != nil {
		effective = *cfg
	}
	if errs := s.validator.GetBusinessValidator().ValidateThresholds(effective.AcceptThreshold, effective.AmbiguityMargin); len(errs) > 0 {
		return nil, &ValidationErrors{Errors: toServiceValidationErrors(errs)}
	}

	outcome := s.reconcileOne(ctx, record, key.ID, specs, effective)
	return &outcome, nil
}

func (s *reconcileService) effectiveConfig(req *ReconcileRequest) ReconcileConfig {
	cfg := s.config
	if req.AcceptThreshold != nil {
		cfg.AcceptThreshold = *req.AcceptThreshold
	}
	if req.AmbiguityMargin != nil {
		cfg.AmbiguityMargin = *req.AmbiguityMargin
	}
	return cfg
}
