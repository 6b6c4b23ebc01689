package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"gorm.io/datatypes"

	"github.com/mcqkit/correction-service/internal/events"
	"github.com/mcqkit/correction-service/internal/models"
	"github.com/mcqkit/correction-service/internal/repositories"
)

// Flag reasons surfaced with pending review items
const (
	flagReasonTie         = "tie_above_threshold"
	flagReasonMargin      = "margin_too_small"
	flagReasonCardinality = "cardinality_mismatch"
)

// markVerdict is the pure outcome of applying the thresholds to one mark set
type markVerdict struct {
	decided bool
	chosen  []string
	reason  string
}

// decideMarks applies the acceptance threshold and ambiguity margin to one
// record's marks. An option is marked iff its confidence is >= the threshold;
// the boundary value itself counts as marked. The verdict is automatic only
// when the marked set has exactly the expected cardinality and the weakest
// accepted mark clears the strongest rejected candidate by at least the
// margin. Ties above threshold on a single-answer question therefore flag
// rather than guess.
//
// A record with no marks at all is a blank answer and decides automatically
// to the empty set. Marks that all sit clearly below the threshold decide
// blank too; a near-threshold straggler flags instead.
func decideMarks(marks []models.OptionMark, expected int, cfg ReconcileConfig) markVerdict {
	if len(marks) == 0 {
		return markVerdict{decided: true, chosen: []string{}}
	}

	var accepted []models.OptionMark
	var rejected []models.OptionMark
	for _, m := range marks {
		if m.Confidence >= cfg.AcceptThreshold {
			accepted = append(accepted, m)
		} else {
			rejected = append(rejected, m)
		}
	}

	if len(accepted) == 0 {
		// Effectively blank, unless something hovers just under the threshold.
		maxRejected := 0.0
		for _, m := range rejected {
			if m.Confidence > maxRejected {
				maxRejected = m.Confidence
			}
		}
		if cfg.AcceptThreshold-maxRejected >= cfg.AmbiguityMargin {
			return markVerdict{decided: true, chosen: []string{}}
		}
		return markVerdict{decided: false, reason: flagReasonMargin}
	}

	if len(accepted) > expected {
		return markVerdict{decided: false, reason: flagReasonTie}
	}
	if len(accepted) < expected {
		return markVerdict{decided: false, reason: flagReasonCardinality}
	}

	minAccepted := accepted[0].Confidence
	for _, m := range accepted {
		if m.Confidence < minAccepted {
			minAccepted = m.Confidence
		}
	}
	for _, m := range rejected {
		if minAccepted-m.Confidence < cfg.AmbiguityMargin {
			return markVerdict{decided: false, reason: flagReasonMargin}
		}
	}

	chosen := make([]string, len(accepted))
	for i, m := range accepted {
		chosen[i] = m.Option
	}
	sort.Strings(chosen)
	return markVerdict{decided: true, chosen: chosen}
}

// reconcileOne transforms one detection record into a decision, a review
// flag, or a skip. Safe to run concurrently with other records: it touches
// only its own (student, question) pair.
func (s *reconcileService) reconcileOne(ctx context.Context, record *models.DetectionRecord, keyID uint, specs map[string]models.QuestionSpec, cfg ReconcileConfig) RecordOutcome {
	outcome := RecordOutcome{
		RecordID:      record.ID,
		QuestionLabel: record.QuestionLabel,
	}

	if record.StudentID == nil {
		outcome.Status = OutcomeSkipped
		outcome.Reason = "unresolved_student"
		return outcome
	}
	studentID := *record.StudentID
	outcome.StudentID = studentID

	spec, ok := specs[record.QuestionLabel]
	if !ok {
		outcome.Status = OutcomeSkipped
		outcome.Reason = "unknown_question"
		outcome.Err = NewUnknownQuestionError(keyID, record.QuestionLabel, record.ScanRef)
		return outcome
	}

	marks, err := decodeMarks(record.Marks)
	if err != nil {
		outcome.Status = OutcomeSkipped
		outcome.Reason = "malformed_marks"
		outcome.Err = fmt.Errorf("record %d: %w", record.ID, err)
		return outcome
	}

	// An existing human override is never superseded by the engine.
	current, err := s.repo.Decision().Current(ctx, nil, keyID, studentID, record.QuestionLabel)
	if err != nil && !repositories.IsNotFoundError(err) {
		outcome.Status = OutcomeSkipped
		outcome.Reason = "ledger_read_failed"
		outcome.Err = fmt.Errorf("record %d: %w", record.ID, err)
		return outcome
	}
	if current != nil && current.Origin == models.OriginHumanOverride {
		outcome.Status = OutcomeSkipped
		outcome.Reason = "human_override_exists"
		return outcome
	}

	verdict := decideMarks(marks, spec.ExpectedCardinality(), cfg)

	if !verdict.decided {
		if err := s.flagForReview(ctx, record, keyID, studentID, marks, verdict.reason); err != nil {
			outcome.Status = OutcomeSkipped
			outcome.Reason = "flag_write_failed"
			outcome.Err = fmt.Errorf("record %d: %w", record.ID, err)
			return outcome
		}
		outcome.Status = OutcomeFlagged
		outcome.Reason = verdict.reason
		return outcome
	}

	// Idempotence: an automatic decision with the same chosen set already on
	// the ledger is not appended again. A stale flag from an earlier run with
	// stricter thresholds is still cleared, so the review queue agrees with
	// the ledger.
	if current != nil {
		existing, decodeErr := decodeChosenSet(current.ChosenSet)
		if decodeErr == nil && equalStringSets(existing, verdict.chosen) {
			outcome.Status = OutcomeDecided
			outcome.ChosenSet = verdict.chosen
			outcome.Reason = "already_decided"
			if err := s.repo.ReviewFlag().MarkResolved(ctx, nil, keyID, studentID, record.QuestionLabel); err != nil {
				outcome.Err = fmt.Errorf("record %d: failed to resolve stale flag: %w", record.ID, err)
			}
			return outcome
		}
	}

	decision, err := s.appendAutomatic(ctx, record, keyID, studentID, current, verdict.chosen)
	if err != nil {
		outcome.Status = OutcomeSkipped
		outcome.Reason = "ledger_append_failed"
		outcome.Err = fmt.Errorf("record %d: %w", record.ID, err)
		return outcome
	}

	outcome.Status = OutcomeDecided
	outcome.ChosenSet = verdict.chosen

	event := events.NewEvent(events.EventDecisionRecorded, events.DecisionRecordedEvent{
		AnswerKeyID:   keyID,
		StudentID:     studentID,
		QuestionLabel: record.QuestionLabel,
		Revision:      decision.Revision,
		ChosenSet:     verdict.chosen,
	})
	if err := s.eventPublisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish decision event",
			"student_id", studentID,
			"question_label", record.QuestionLabel,
			"error", err)
	}

	return outcome
}

func (s *reconcileService) appendAutomatic(ctx context.Context, record *models.DetectionRecord, keyID uint, studentID string, current *models.Decision, chosen []string) (*models.Decision, error) {
	chosenJSON, err := encodeChosenSet(chosen)
	if err != nil {
		return nil, err
	}

	revision := 1
	if current != nil {
		revision = current.Revision + 1
	}

	recordID := record.ID
	decision := &models.Decision{
		AnswerKeyID:       keyID,
		StudentID:         studentID,
		QuestionLabel:     record.QuestionLabel,
		Revision:          revision,
		ChosenSet:         chosenJSON,
		Origin:            models.OriginAutomatic,
		DetectionRecordID: &recordID,
		DecidedAt:         time.Now(),
	}

	// The append and the flag resolution commit together: a decided pair must
	// never linger in the review queue.
	err = s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		if err := txRepo.Decision().Append(ctx, nil, decision); err != nil {
			return fmt.Errorf("failed to append decision: %w", err)
		}
		if err := txRepo.ReviewFlag().MarkResolved(ctx, nil, keyID, studentID, record.QuestionLabel); err != nil {
			return fmt.Errorf("failed to resolve flag: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

func (s *reconcileService) flagForReview(ctx context.Context, record *models.DetectionRecord, keyID uint, studentID string, marks []models.OptionMark, reason string) error {
	// Candidates sorted by confidence descending for the review UI
	sorted := make([]models.OptionMark, len(marks))
	copy(sorted, marks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	candidates, err := json.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("failed to encode candidates: %w", err)
	}

	flag := &models.ReviewFlag{
		AnswerKeyID:       keyID,
		StudentID:         studentID,
		QuestionLabel:     record.QuestionLabel,
		DetectionRecordID: record.ID,
		Candidates:        datatypes.JSON(candidates),
		Reason:            reason,
		Resolved:          false,
	}

	if err := s.repo.ReviewFlag().Upsert(ctx, nil, flag); err != nil {
		return fmt.Errorf("failed to upsert review flag: %w", err)
	}
	return nil
}

func equalStringSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]int, len(a))
	for _, s := range a {
		set[s]++
	}
	for _, s := range b {
		set[s]--
		if set[s] < 0 {
			return false
		}
	}
	return true
}
