package services

import (
	"context"
	"encoding/json"
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

type ledgerService struct {
	repo           repositories.Repository
	db             *gorm.DB
	logger         *slog.Logger
	validator      *validator.Validator
	eventPublisher events.EventPublisher
	cacheManager   *cache.CacheManager

	// Per-pair serialization for overrides. Two correctors hitting the same
	// (student, question) pair race on the revision check otherwise.
	pairMu    sync.Mutex
	pairLocks map[string]*sync.Mutex
}

func NewLedgerService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher, cacheManager *cache.CacheManager) LedgerService {
	return &ledgerService{
		repo:           repo,
		db:             db,
		logger:         logger,
		validator:      validator,
		eventPublisher: publisher,
		cacheManager:   cacheManager,
		pairLocks:      make(map[string]*sync.Mutex),
	}
}

func (s *ledgerService) lockPair(keyID uint, studentID, questionLabel string) *sync.Mutex {
	key := fmt.Sprintf("%d|%s|%s", keyID, studentID, questionLabel)
	s.pairMu.Lock()
	defer s.pairMu.Unlock()
	mu, ok := s.pairLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.pairLocks[key] = mu
	}
	return mu
}

// ===== OVERRIDE =====

// Override appends a human decision for one pair. The new revision supersedes
// whatever the engine decided, and the engine will never claw it back. An
// empty chosen set is a valid override: the corrector ruled the answer blank.
func (s *ledgerService) Override(ctx context.Context, keyID uint, req *OverrideRequest, correctorID string) (*OverrideResult, error) {
	s.logger.Info("Applying override",
		"key_id", keyID,
		"student_id", req.StudentID,
		"question_label", req.QuestionLabel,
		"corrector_id", correctorID)

	if err := s.validator.Validate(req); err != nil {
		return nil, &ValidationErrors{Errors: toServiceValidationErrors(validator.ToValidationErrors(err))}
	}

	corrector, err := s.repo.User().GetByID(ctx, correctorID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get corrector: %w", err)
	}
	if !corrector.CanOverride() {
		return nil, NewPermissionError(correctorID, keyID, "answer_key", "override", "corrector role required")
	}

	key, err := s.repo.AnswerKey().GetByID(ctx, nil, keyID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAnswerKeyNotFound
		}
		return nil, fmt.Errorf("failed to get answer key: %w", err)
	}
	if key.Status == models.KeyDraft {
		return nil, ErrKeyNotFinalized
	}

	question, err := s.repo.Question().GetByLabel(ctx, nil, keyID, req.QuestionLabel)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, NewUnknownQuestionError(keyID, req.QuestionLabel, "")
		}
		return nil, fmt.Errorf("failed to get question: %w", err)
	}

	spec, err := questionToSpec(question)
	if err != nil {
		return nil, err
	}
	if errs := s.validator.GetBusinessValidator().ValidateOverride(req, question, spec.Options); len(errs) > 0 {
		return nil, &ValidationErrors{Errors: toServiceValidationErrors(errs)}
	}

	mu := s.lockPair(keyID, req.StudentID, req.QuestionLabel)
	mu.Lock()
	defer mu.Unlock()

	var result OverrideResult
	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		current, err := txRepo.Decision().Current(ctx, nil, keyID, req.StudentID, req.QuestionLabel)
		if err != nil && !repositories.IsNotFoundError(err) {
			return fmt.Errorf("failed to read current decision: %w", err)
		}

		currentRevision := 0
		if current != nil {
			currentRevision = current.Revision
		}
		if req.ExpectedRevision != nil && *req.ExpectedRevision != currentRevision {
			return NewConcurrentOverrideConflict(req.StudentID, req.QuestionLabel, *req.ExpectedRevision, currentRevision)
		}

		chosenJSON, err := encodeChosenSet(req.ChosenSet)
		if err != nil {
			return err
		}

		decision := &models.Decision{
			AnswerKeyID:   keyID,
			StudentID:     req.StudentID,
			QuestionLabel: req.QuestionLabel,
			Revision:      currentRevision + 1,
			ChosenSet:     chosenJSON,
			Origin:        models.OriginHumanOverride,
			Note:          req.Note,
			DecidedBy:     &correctorID,
			DecidedAt:     time.Now(),
		}
		if current != nil && current.DetectionRecordID != nil {
			decision.DetectionRecordID = current.DetectionRecordID
		}

		if err := txRepo.Decision().Append(ctx, nil, decision); err != nil {
			return fmt.Errorf("failed to append override: %w", err)
		}

		// A pending flag for this pair is now answered.
		if err := txRepo.ReviewFlag().MarkResolved(ctx, nil, keyID, req.StudentID, req.QuestionLabel); err != nil {
			return fmt.Errorf("failed to resolve review flag: %w", err)
		}

		result = OverrideResult{
			Decision:   decision,
			Revision:   decision.Revision,
			Superseded: current,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	cache.InvalidateResultCache(ctx, s.cacheManager, keyID, req.StudentID)

	event := events.NewEvent(events.EventOverrideApplied, events.OverrideAppliedEvent{
		AnswerKeyID:   keyID,
		StudentID:     req.StudentID,
		QuestionLabel: req.QuestionLabel,
		Revision:      result.Revision,
		ChosenSet:     req.ChosenSet,
		DecidedBy:     correctorID,
	})
	if err := s.eventPublisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish override event",
			"student_id", req.StudentID,
			"question_label", req.QuestionLabel,
			"error", err)
	}

	s.logger.Info("Override applied",
		"key_id", keyID,
		"student_id", req.StudentID,
		"question_label", req.QuestionLabel,
		"revision", result.Revision)

	return &result, nil
}

// ===== LEDGER READS =====

func (s *ledgerService) History(ctx context.Context, keyID uint, studentID, questionLabel string) (*DecisionHistoryResponse, error) {
	if _, err := s.repo.AnswerKey().GetByID(ctx, nil, keyID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAnswerKeyNotFound
		}
		return nil, fmt.Errorf("failed to get answer key: %w", err)
	}

	decisions, err := s.repo.Decision().History(ctx, nil, keyID, studentID, questionLabel)
	if err != nil {
		return nil, fmt.Errorf("failed to get decision history: %w", err)
	}

	return &DecisionHistoryResponse{
		StudentID:     studentID,
		QuestionLabel: questionLabel,
		AnswerKeyID:   keyID,
		Decisions:     decisions,
	}, nil
}

func (s *ledgerService) Current(ctx context.Context, keyID uint, studentID, questionLabel string) (*models.Decision, error) {
	decision, err := s.repo.Decision().Current(ctx, nil, keyID, studentID, questionLabel)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrDecisionNotFound
		}
		return nil, fmt.Errorf("failed to get current decision: %w", err)
	}
	return decision, nil
}

func (s *ledgerService) PendingReviewItems(ctx context.Context, keyID uint, filters repositories.ReviewFlagFilters) (*PendingReviewResponse, error) {
	if _, err := s.repo.AnswerKey().GetByID(ctx, nil, keyID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAnswerKeyNotFound
		}
		return nil, fmt.Errorf("failed to get answer key: %w", err)
	}

	if filters.Limit <= 0 {
		filters.Limit = 20
	}
	if filters.Limit > 100 {
		filters.Limit = 100
	}

	flags, total, err := s.repo.ReviewFlag().GetPending(ctx, nil, keyID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending flags: %w", err)
	}

	items := make([]PendingReviewItem, 0, len(flags))
	for _, flag := range flags {
		item := PendingReviewItem{
			StudentID:     flag.StudentID,
			QuestionLabel: flag.QuestionLabel,
			Reason:        flag.Reason,
			FlaggedAt:     flag.UpdatedAt,
		}
		if len(flag.Candidates) > 0 {
			if err := json.Unmarshal(flag.Candidates, &item.Candidates); err != nil {
				s.logger.Warn("Skipping flag with malformed candidates",
					"flag_id", flag.ID,
					"error", err)
				continue
			}
		}
		if flag.DetectionRecord.ID != 0 {
			item.ScanRef = flag.DetectionRecord.ScanRef
		}
		items = append(items, item)
	}

	page := 1
	if filters.Limit > 0 {
		page = filters.Offset/filters.Limit + 1
	}

	return &PendingReviewResponse{
		Items: items,
		Total: total,
		Page:  page,
		Size:  filters.Limit,
	}, nil
}
