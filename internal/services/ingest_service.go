package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mcqkit/correction-service/internal/models"
	"github.com/mcqkit/correction-service/internal/repositories"
	"github.com/mcqkit/correction-service/internal/validator"
)

type ingestService struct {
	repo      repositories.Repository
	db        *gorm.DB
	logger    *slog.Logger
	validator *validator.Validator
}

func NewIngestService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, validator *validator.Validator) IngestService {
	return &ingestService{
		repo:      repo,
		db:        db,
		logger:    logger,
		validator: validator,
	}
}

// IngestBatch stores one scan-engine output run. The key must be finalized:
// corrections against a mutable key would not be auditable. Records are
// immutable once written; re-ingesting a scan reference is rejected rather
// than updated.
func (s *ingestService) IngestBatch(ctx context.Context, input *models.DetectionBatchInput) (*IngestResult, error) {
	if err := s.validator.Validate(input); err != nil {
		return nil, &ValidationErrors{Errors: toServiceValidationErrors(validator.ToValidationErrors(err))}
	}

	key, err := s.repo.AnswerKey().GetByIDWithQuestions(ctx, nil, input.AnswerKeyID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAnswerKeyNotFound
		}
		return nil, fmt.Errorf("failed to get answer key: %w", err)
	}
	if key.Status != models.KeyFinalized {
		return nil, ErrKeyNotFinalized
	}

	if err := s.validateRecords(ctx, input.Records); err != nil {
		return nil, err
	}

	batch := &models.DetectionBatch{
		ID:          uuid.New().String(),
		AnswerKeyID: input.AnswerKeyID,
		Source:      input.Source,
		Status:      models.BatchReceived,
		ReceivedAt:  time.Now(),
	}

	unidentified := 0
	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.DetectionBatch().Create(ctx, nil, batch); err != nil {
			return fmt.Errorf("failed to create detection batch: %w", err)
		}

		records := make([]*models.DetectionRecord, len(input.Records))
		for i, in := range input.Records {
			marks, err := json.Marshal(in.Marks)
			if err != nil {
				return fmt.Errorf("failed to encode marks for %s: %w", in.ScanRef, err)
			}
			if in.StudentID == nil {
				unidentified++
			}
			records[i] = &models.DetectionRecord{
				BatchID:       batch.ID,
				StudentID:     in.StudentID,
				QuestionLabel: in.QuestionLabel,
				Marks:         datatypes.JSON(marks),
				ScanRef:       in.ScanRef,
			}
		}

		if err := txRepo.Detection().CreateBatch(ctx, nil, records); err != nil {
			return fmt.Errorf("failed to create detection records: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Detection batch ingested",
		"batch_id", batch.ID,
		"key_id", input.AnswerKeyID,
		"records", len(input.Records),
		"unidentified", unidentified)

	return &IngestResult{
		BatchID:      batch.ID,
		AnswerKeyID:  input.AnswerKeyID,
		RecordCount:  len(input.Records),
		Unidentified: unidentified,
		ReceivedAt:   batch.ReceivedAt,
	}, nil
}

func (s *ingestService) GetBatch(ctx context.Context, batchID string) (*models.DetectionBatch, error) {
	batch, err := s.repo.DetectionBatch().GetByIDWithRecords(ctx, nil, batchID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to get detection batch: %w", err)
	}
	return batch, nil
}

func (s *ingestService) GetBatchesByKey(ctx context.Context, keyID uint) ([]*models.DetectionBatch, error) {
	batches, err := s.repo.DetectionBatch().GetByKey(ctx, nil, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	return batches, nil
}

func (s *ingestService) GetUnresolvedRecords(ctx context.Context, batchID string) ([]*models.DetectionRecord, error) {
	if _, err := s.repo.DetectionBatch().GetByID(ctx, nil, batchID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("failed to get detection batch: %w", err)
	}

	records, err := s.repo.Detection().GetUnresolved(ctx, nil, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved records: %w", err)
	}
	return records, nil
}

// ResolveStudent claims all unresolved records of one scanned sheet for a
// student. Records with an identity already attached are left alone; the
// reconciliation engine picks the resolved records up on its next run.
func (s *ingestService) ResolveStudent(ctx context.Context, batchID, scanRef, studentID string) (int, error) {
	if studentID == "" {
		return 0, NewValidationError("student_id", "must not be empty", studentID)
	}
	if scanRef == "" {
		return 0, NewValidationError("scan_ref", "must not be empty", scanRef)
	}

	if _, err := s.repo.DetectionBatch().GetByID(ctx, nil, batchID); err != nil {
		if repositories.IsNotFoundError(err) {
			return 0, ErrBatchNotFound
		}
		return 0, fmt.Errorf("failed to get detection batch: %w", err)
	}

	resolved, err := s.repo.Detection().ResolveStudent(ctx, nil, batchID, scanRef, studentID)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve student: %w", err)
	}
	if resolved == 0 {
		return 0, ErrNoUnresolvedRecords
	}

	s.logger.Info("Student resolved for scan",
		"batch_id", batchID,
		"scan_ref", scanRef,
		"student_id", studentID,
		"records", resolved)

	return int(resolved), nil
}

// validateRecords checks confidences and scan reference uniqueness before
// anything is written.
func (s *ingestService) validateRecords(ctx context.Context, records []models.DetectionRecordInput) error {
	seen := make(map[string]bool, len(records))
	for i, in := range records {
		for j, mark := range in.Marks {
			if mark.Confidence < 0 || mark.Confidence > 1 {
				return NewValidationError(
					fmt.Sprintf("records[%d].marks[%d].confidence", i, j),
					"must be between 0 and 1",
					mark.Confidence)
			}
		}

		pairKey := in.ScanRef + "|" + in.QuestionLabel
		if seen[pairKey] {
			return NewValidationError(
				fmt.Sprintf("records[%d].scan_ref", i),
				"duplicate scan reference within batch",
				in.ScanRef)
		}
		seen[pairKey] = true
	}

	// Dedupe against previous batches by scan ref
	checked := make(map[string]bool, len(records))
	for _, in := range records {
		if checked[in.ScanRef] {
			continue
		}
		checked[in.ScanRef] = true
		exists, err := s.repo.Detection().ExistsByScanRef(ctx, nil, in.ScanRef)
		if err != nil {
			return fmt.Errorf("failed to check scan reference %s: %w", in.ScanRef, err)
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrDuplicateScanRef, in.ScanRef)
		}
	}

	return nil
}
