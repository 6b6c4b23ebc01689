package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/mcqkit/correction-service/internal/events"
	"github.com/mcqkit/correction-service/internal/models"
	"github.com/mcqkit/correction-service/internal/repositories"
	"github.com/mcqkit/correction-service/internal/validator"
)

type answerKeyService struct {
	repo           repositories.Repository
	db             *gorm.DB
	logger         *slog.Logger
	validator      *validator.Validator
	eventPublisher events.EventPublisher
}

func NewAnswerKeyService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator, publisher events.EventPublisher) AnswerKeyService {
	return &answerKeyService{
		repo:           repo,
		db:             db,
		logger:         logger,
		validator:      validator,
		eventPublisher: publisher,
	}
}

// ===== CORE CRUD OPERATIONS =====

// Create loads a new answer key as a draft. A structurally invalid key is
// rejected whole with MalformedKeyError; no partial key is ever stored.
func (s *answerKeyService) Create(ctx context.Context, req *CreateAnswerKeyRequest, creatorID string) (*AnswerKeyResponse, error) {
	s.logger.Info("Creating answer key",
		"title", req.Title,
		"questions", len(req.Questions),
		"creator_id", creatorID)

	if errs := s.validator.GetBusinessValidator().ValidateAnswerKeyCreate(req); len(errs) > 0 {
		return nil, NewMalformedKeyError(toServiceValidationErrors(errs))
	}

	key := &models.AnswerKey{
		Title:       req.Title,
		Description: req.Description,
		Status:      models.KeyDraft,
		CreatedBy:   creatorID,
	}

	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.AnswerKey().Create(ctx, nil, key); err != nil {
			return fmt.Errorf("failed to create answer key: %w", err)
		}

		questions, err := buildQuestions(key.ID, req.Questions, req.PenaltyPolicy)
		if err != nil {
			return err
		}

		if err := txRepo.Question().CreateBatch(ctx, nil, questions); err != nil {
			return fmt.Errorf("failed to create questions: %w", err)
		}

		key.Questions = make([]models.Question, len(questions))
		for i, q := range questions {
			key.Questions[i] = *q
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Answer key created",
		"key_id", key.ID,
		"questions", len(key.Questions))

	return s.buildResponse(key), nil
}

func (s *answerKeyService) GetByID(ctx context.Context, id uint) (*AnswerKeyResponse, error) {
	key, err := s.repo.AnswerKey().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAnswerKeyNotFound
		}
		return nil, fmt.Errorf("failed to get answer key: %w", err)
	}
	return s.buildResponse(key), nil
}

func (s *answerKeyService) GetByIDWithQuestions(ctx context.Context, id uint) (*AnswerKeyResponse, error) {
	key, err := s.repo.AnswerKey().GetByIDWithQuestions(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAnswerKeyNotFound
		}
		return nil, fmt.Errorf("failed to get answer key: %w", err)
	}
	return s.buildResponse(key), nil
}

// Update mutates a draft key. Finalized and archived keys are immutable.
func (s *answerKeyService) Update(ctx context.Context, id uint, req *UpdateAnswerKeyRequest, userID string) (*AnswerKeyResponse, error) {
	key, err := s.repo.AnswerKey().GetByIDWithQuestions(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAnswerKeyNotFound
		}
		return nil, fmt.Errorf("failed to get answer key: %w", err)
	}

	if err := s.checkEditPermission(ctx, key, userID); err != nil {
		return nil, err
	}

	if errs := s.validator.GetBusinessValidator().ValidateAnswerKeyUpdate(req, key); len(errs) > 0 {
		return nil, NewMalformedKeyError(toServiceValidationErrors(errs))
	}

	if req.Title != nil {
		key.Title = *req.Title
	}
	if req.Description != nil {
		key.Description = req.Description
	}

	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.AnswerKey().Update(ctx, nil, key); err != nil {
			return fmt.Errorf("failed to update answer key: %w", err)
		}

		// Replacing the question set swaps it wholesale; a draft key has no
		// decisions referencing its labels yet.
		if req.Questions != nil {
			for _, q := range key.Questions {
				if err := txRepo.Question().Delete(ctx, nil, q.ID); err != nil {
					return fmt.Errorf("failed to remove question %s: %w", q.Label, err)
				}
			}

			questions, err := buildQuestions(key.ID, req.Questions, req.PenaltyPolicy)
			if err != nil {
				return err
			}
			if err := txRepo.Question().CreateBatch(ctx, nil, questions); err != nil {
				return fmt.Errorf("failed to create questions: %w", err)
			}

			key.Questions = make([]models.Question, len(questions))
			for i, q := range questions {
				key.Questions[i] = *q
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Answer key updated", "key_id", id, "user_id", userID)

	return s.buildResponse(key), nil
}

func (s *answerKeyService) Delete(ctx context.Context, id uint, userID string) error {
	key, err := s.repo.AnswerKey().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAnswerKeyNotFound
		}
		return fmt.Errorf("failed to get answer key: %w", err)
	}

	if err := s.checkEditPermission(ctx, key, userID); err != nil {
		return err
	}

	if key.Status != models.KeyDraft {
		return NewBusinessRuleError("key_immutable",
			fmt.Sprintf("cannot delete a %s answer key; archive it instead", key.Status))
	}

	if err := s.repo.AnswerKey().Delete(ctx, nil, id); err != nil {
		return fmt.Errorf("failed to delete answer key: %w", err)
	}

	s.logger.Info("Answer key deleted", "key_id", id, "user_id", userID)
	return nil
}

// ===== LIST OPERATIONS =====

func (s *answerKeyService) List(ctx context.Context, filters repositories.AnswerKeyFilters) (*AnswerKeyListResponse, error) {
	keys, total, err := s.repo.AnswerKey().List(ctx, nil, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list answer keys: %w", err)
	}
	return s.buildListResponse(keys, total, filters.Limit, filters.Offset), nil
}

func (s *answerKeyService) GetByCreator(ctx context.Context, creatorID string, filters repositories.AnswerKeyFilters) (*AnswerKeyListResponse, error) {
	keys, total, err := s.repo.AnswerKey().GetByCreator(ctx, nil, creatorID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list answer keys by creator: %w", err)
	}
	return s.buildListResponse(keys, total, filters.Limit, filters.Offset), nil
}

// ===== STATUS MANAGEMENT =====

// Finalize freezes the key. Only finalized keys accept detection batches,
// and a finalized key rejects every further mutation.
func (s *answerKeyService) Finalize(ctx context.Context, id uint, userID string) error {
	key, err := s.repo.AnswerKey().GetByIDWithQuestions(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAnswerKeyNotFound
		}
		return fmt.Errorf("failed to get answer key: %w", err)
	}

	if err := s.checkEditPermission(ctx, key, userID); err != nil {
		return err
	}

	if key.Status == models.KeyFinalized {
		return ErrKeyAlreadyFinalized
	}

	if errs := s.validator.GetBusinessValidator().ValidateFinalize(key, len(key.Questions)); len(errs) > 0 {
		return NewMalformedKeyError(toServiceValidationErrors(errs))
	}

	now := time.Now()
	key.Status = models.KeyFinalized
	key.FinalizedAt = &now
	if err := s.repo.AnswerKey().Update(ctx, nil, key); err != nil {
		return fmt.Errorf("failed to finalize answer key: %w", err)
	}

	s.logger.Info("Answer key finalized",
		"key_id", id,
		"questions", len(key.Questions),
		"user_id", userID)

	event := events.NewEvent(events.EventKeyFinalized, events.KeyFinalizedEvent{
		AnswerKeyID:   key.ID,
		Title:         key.Title,
		QuestionCount: len(key.Questions),
		FinalizedBy:   userID,
	})
	if err := s.eventPublisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish key finalized event", "key_id", id, "error", err)
	}

	return nil
}

func (s *answerKeyService) Archive(ctx context.Context, id uint, userID string) error {
	key, err := s.repo.AnswerKey().GetByID(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return ErrAnswerKeyNotFound
		}
		return fmt.Errorf("failed to get answer key: %w", err)
	}

	if err := s.checkEditPermission(ctx, key, userID); err != nil {
		return err
	}

	if key.Status == models.KeyArchived {
		return nil
	}

	if err := s.repo.AnswerKey().UpdateStatus(ctx, nil, id, models.KeyArchived); err != nil {
		return fmt.Errorf("failed to archive answer key: %w", err)
	}

	s.logger.Info("Answer key archived", "key_id", id, "user_id", userID)
	return nil
}

// ===== SCORING =====

// Score awards points for one chosen set against one question spec.
// Pure: no IO, no state. Blank (empty chosen set) scores zero. Partial
// credit is |chosen ∩ correct| / |correct| of the weight, minus the
// penalty for wrong picks per the question's policy:
//
//	none:          wrong picks cost nothing
//	proportional:  each wrong pick costs weight/|correct|
//	negative:      each wrong pick costs the full weight
//
// Scores floor at zero except for the negative policy, which may go below.
func (s *answerKeyService) Score(spec models.QuestionSpec, chosen []string) float64 {
	return ScoreQuestion(spec, chosen)
}

// ScoreQuestion is the package-level scoring primitive shared with the
// report aggregator.
func ScoreQuestion(spec models.QuestionSpec, chosen []string) float64 {
	if len(chosen) == 0 {
		return 0
	}

	correct := make(map[string]bool, len(spec.CorrectSet))
	for _, c := range spec.CorrectSet {
		correct[c] = true
	}

	hits := 0
	wrong := 0
	for _, c := range chosen {
		if correct[c] {
			hits++
		} else {
			wrong++
		}
	}

	perCorrect := spec.Weight / float64(len(spec.CorrectSet))
	score := perCorrect * float64(hits)

	switch spec.PenaltyPolicy {
	case models.PenaltyProportional:
		score -= perCorrect * float64(wrong)
	case models.PenaltyNegative:
		score -= spec.Weight * float64(wrong)
	}

	if score < 0 && spec.PenaltyPolicy != models.PenaltyNegative {
		return 0
	}
	return score
}

// ===== STATISTICS =====

func (s *answerKeyService) GetStats(ctx context.Context, id uint) (*repositories.KeyStats, error) {
	stats, err := s.repo.AnswerKey().GetStats(ctx, nil, id)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAnswerKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key stats: %w", err)
	}
	return stats, nil
}

// ===== HELPERS =====

func (s *answerKeyService) checkEditPermission(ctx context.Context, key *models.AnswerKey, userID string) error {
	if key.CreatedBy == userID {
		return nil
	}

	user, err := s.repo.User().GetByID(ctx, userID)
	if err != nil {
		return NewPermissionError(userID, key.ID, "answer_key", "edit", "user lookup failed")
	}
	if user.Role != models.RoleAdmin {
		return NewPermissionError(userID, key.ID, "answer_key", "edit", "not the creator")
	}
	return nil
}

func (s *answerKeyService) buildResponse(key *models.AnswerKey) *AnswerKeyResponse {
	return &AnswerKeyResponse{
		AnswerKey:   key,
		CanEdit:     key.Status == models.KeyDraft,
		CanFinalize: key.Status == models.KeyDraft && (key.QuestionCount > 0 || len(key.Questions) > 0),
	}
}

func (s *answerKeyService) buildListResponse(keys []*models.AnswerKey, total int64, limit, offset int) *AnswerKeyListResponse {
	responses := make([]*AnswerKeyResponse, len(keys))
	for i, key := range keys {
		responses[i] = s.buildResponse(key)
	}

	if limit <= 0 {
		limit = len(responses)
	}
	page := 1
	if limit > 0 {
		page = (offset / limit) + 1
	}

	return &AnswerKeyListResponse{
		Keys:  responses,
		Total: total,
		Page:  page,
		Size:  limit,
	}
}

func toServiceValidationErrors(errs validator.ValidationErrors) []ValidationError {
	out := make([]ValidationError, len(errs))
	for i, e := range errs {
		out[i] = ValidationError{Field: e.Field, Message: e.Message, Value: e.Value}
	}
	return out
}
