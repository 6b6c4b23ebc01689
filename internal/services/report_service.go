package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/mcqkit/correction-service/internal/cache"
	"github.com/mcqkit/correction-service/internal/models"
	"github.com/mcqkit/correction-service/internal/repositories"
)

type reportService struct {
	repo         repositories.Repository
	db           *gorm.DB
	logger       *slog.Logger
	cacheManager *cache.CacheManager
}

func NewReportService(repo repositories.Repository, db *gorm.DB, logger *slog.Logger, cacheManager *cache.CacheManager) ReportService {
	return &reportService{
		repo:         repo,
		db:           db,
		logger:       logger,
		cacheManager: cacheManager,
	}
}

// ===== AGGREGATION =====

// Aggregate computes one student's result from the current ledger state.
// Results are derived data: recomputed on demand, cached briefly, and
// invalidated whenever an override lands for the student.
func (s *reportService) Aggregate(ctx context.Context, keyID uint, studentID string) (*models.StudentResult, error) {
	key, err := s.loadFinalizedKey(ctx, keyID)
	if err != nil {
		return nil, err
	}

	var result models.StudentResult
	cacheKey := fmt.Sprintf("key:%d:student:%s", keyID, studentID)
	err = s.cacheManager.Result.CacheOrExecute(ctx, cacheKey, &result, cache.ResultCacheConfig.TTL, func() (interface{}, error) {
		return s.computeResult(ctx, key, studentID)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AggregateAll computes results for every student the ledger knows about,
// continuing past per-student failures so one bad student does not sink the
// class export.
func (s *reportService) AggregateAll(ctx context.Context, keyID uint) (*AggregateAllResult, error) {
	key, err := s.loadFinalizedKey(ctx, keyID)
	if err != nil {
		return nil, err
	}

	students, err := s.collectStudents(ctx, keyID)
	if err != nil {
		return nil, err
	}

	out := &AggregateAllResult{
		Results:  make([]*models.StudentResult, 0, len(students)),
		Failures: make(map[string]string),
	}

	for _, studentID := range students {
		result, err := s.computeResult(ctx, key, studentID)
		if err != nil {
			s.logger.Warn("Skipping student in aggregation",
				"key_id", keyID,
				"student_id", studentID,
				"error", err)
			out.Failures[studentID] = err.Error()
			continue
		}
		out.Results = append(out.Results, result)
	}
	if len(out.Failures) == 0 {
		out.Failures = nil
	}

	out.Summary = buildClassSummary(keyID, out.Results, len(students))
	return out, nil
}

func (s *reportService) loadFinalizedKey(ctx context.Context, keyID uint) (*models.AnswerKey, error) {
	key, err := s.repo.AnswerKey().GetByIDWithQuestions(ctx, nil, keyID)
	if err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAnswerKeyNotFound
		}
		return nil, fmt.Errorf("failed to get answer key: %w", err)
	}
	if key.Status == models.KeyDraft {
		return nil, ErrKeyNotFinalized
	}
	return key, nil
}

// computeResult walks the key's questions against the student's current
// decisions. Pairs with a pending review flag stay unscored but are not an
// error; labels with neither a decision nor any detection on file mean the
// scan data for this student is incomplete.
func (s *reportService) computeResult(ctx context.Context, key *models.AnswerKey, studentID string) (*models.StudentResult, error) {
	// All three tables are read inside one transaction so a concurrent
	// override cannot land between the decision read and the flag read.
	var (
		decisions    map[string]*models.Decision
		detections   []*models.DetectionRecord
		pendingFlags []*models.ReviewFlag
	)
	err := s.repo.WithTransaction(ctx, func(txRepo repositories.Repository) error {
		var err error
		decisions, err = txRepo.Decision().CurrentByStudent(ctx, nil, key.ID, studentID)
		if err != nil {
			return fmt.Errorf("failed to read decisions: %w", err)
		}

		detections, err = txRepo.Detection().GetByStudent(ctx, nil, key.ID, studentID)
		if err != nil {
			return fmt.Errorf("failed to read detections: %w", err)
		}

		sid := studentID
		pendingFlags, _, err = txRepo.ReviewFlag().GetPending(ctx, nil, key.ID, repositories.ReviewFlagFilters{
			StudentID: &sid,
			Limit:     len(key.Questions),
		})
		if err != nil {
			return fmt.Errorf("failed to read review flags: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	detected := make(map[string]bool, len(detections))
	for _, d := range detections {
		detected[d.QuestionLabel] = true
	}
	flagged := make(map[string]bool, len(pendingFlags))
	for _, f := range pendingFlags {
		flagged[f.QuestionLabel] = true
	}

	result := &models.StudentResult{
		StudentID:   studentID,
		AnswerKeyID: key.ID,
		Outcomes:    make([]models.QuestionOutcome, 0, len(key.Questions)),
		GeneratedAt: time.Now(),
	}

	var missing []string
	for i := range key.Questions {
		question := &key.Questions[i]
		spec, err := questionToSpec(question)
		if err != nil {
			return nil, err
		}

		outcome := models.QuestionOutcome{
			QuestionLabel: question.Label,
			MaxScore:      spec.Weight,
		}
		result.MaxScore += spec.Weight

		if decision, ok := decisions[question.Label]; ok {
			chosen, err := decodeChosenSet(decision.ChosenSet)
			if err != nil {
				return nil, fmt.Errorf("question %s: %w", question.Label, err)
			}
			origin := string(decision.Origin)
			outcome.ChosenSet = chosen
			outcome.Origin = &origin
			outcome.Score = ScoreQuestion(spec, chosen)
			outcome.DecidedAt = decision.DecidedAt
			result.TotalScore += outcome.Score
		} else if flagged[question.Label] {
			outcome.Pending = true
			result.HasUnresolvedAmbiguity = true
		} else if detected[question.Label] {
			// Detection exists but no decision landed yet (batch not
			// reconciled, or the record was skipped). Not scoreable yet.
			outcome.Pending = true
		} else {
			missing = append(missing, question.Label)
			continue
		}

		result.Outcomes = append(result.Outcomes, outcome)
	}

	if len(missing) > 0 {
		return nil, &IncompleteDataError{
			StudentID:     studentID,
			AnswerKeyID:   key.ID,
			MissingLabels: missing,
		}
	}

	return result, nil
}

// collectStudents returns every student visible on the key's ledger, flag
// table, or ingested detections, sorted for deterministic exports. Students
// ingested but not yet reconciled still belong to the roster; they surface
// as pending or incomplete rather than silently missing from exports.
func (s *reportService) collectStudents(ctx context.Context, keyID uint) ([]string, error) {
	snapshot, err := s.repo.Decision().CurrentByKey(ctx, nil, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger snapshot: %w", err)
	}

	seen := make(map[string]bool, len(snapshot))
	for studentID := range snapshot {
		seen[studentID] = true
	}

	flags, _, err := s.repo.ReviewFlag().GetPending(ctx, nil, keyID, repositories.ReviewFlagFilters{Limit: 10000})
	if err != nil {
		return nil, fmt.Errorf("failed to read review flags: %w", err)
	}
	for _, f := range flags {
		seen[f.StudentID] = true
	}

	ingested, err := s.repo.Detection().StudentsByKey(ctx, nil, keyID)
	if err != nil {
		return nil, fmt.Errorf("failed to read ingested students: %w", err)
	}
	for _, studentID := range ingested {
		seen[studentID] = true
	}

	students := make([]string, 0, len(seen))
	for studentID := range seen {
		students = append(students, studentID)
	}
	sort.Strings(students)
	return students, nil
}

func buildClassSummary(keyID uint, results []*models.StudentResult, studentCount int) ClassSummary {
	summary := ClassSummary{
		AnswerKeyID:  keyID,
		StudentCount: studentCount,
	}
	summary.IncompleteCount = studentCount - len(results)

	var sum float64
	first := true
	for _, r := range results {
		pending := r.HasUnresolvedAmbiguity
		for _, o := range r.Outcomes {
			if o.Pending {
				pending = true
				break
			}
		}
		if pending {
			summary.PendingCount++
		} else {
			summary.CompleteCount++
		}

		sum += r.TotalScore
		if first || r.TotalScore > summary.MaxScore {
			summary.MaxScore = r.TotalScore
		}
		if first || r.TotalScore < summary.MinScore {
			summary.MinScore = r.TotalScore
		}
		first = false
	}
	if len(results) > 0 {
		summary.MeanScore = sum / float64(len(results))
	}
	return summary
}

// ===== EXPORTS =====

// exportRows flattens results into one row per student: identifier, one
// score column per question (blank while pending), then totals.
func (s *reportService) exportRows(ctx context.Context, keyID uint) ([]string, [][]string, error) {
	key, err := s.loadFinalizedKey(ctx, keyID)
	if err != nil {
		return nil, nil, err
	}

	aggregate, err := s.AggregateAll(ctx, keyID)
	if err != nil {
		return nil, nil, err
	}

	header := make([]string, 0, len(key.Questions)+3)
	header = append(header, "student_id")
	for i := range key.Questions {
		header = append(header, key.Questions[i].Label)
	}
	header = append(header, "total_score", "max_score")

	rows := make([][]string, 0, len(aggregate.Results))
	for _, result := range aggregate.Results {
		scores := make(map[string]models.QuestionOutcome, len(result.Outcomes))
		for _, o := range result.Outcomes {
			scores[o.QuestionLabel] = o
		}

		row := make([]string, 0, len(header))
		row = append(row, result.StudentID)
		for i := range key.Questions {
			outcome, ok := scores[key.Questions[i].Label]
			if !ok || outcome.Pending {
				row = append(row, "")
				continue
			}
			row = append(row, strconv.FormatFloat(outcome.Score, 'f', 2, 64))
		}
		row = append(row,
			strconv.FormatFloat(result.TotalScore, 'f', 2, 64),
			strconv.FormatFloat(result.MaxScore, 'f', 2, 64))
		rows = append(rows, row)
	}

	return header, rows, nil
}

func (s *reportService) ExportCSV(ctx context.Context, keyID uint) ([]byte, error) {
	header, rows, err := s.exportRows(ctx, keyID)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	s.logger.Info("Exported CSV results",
		"key_id", keyID,
		"students", len(rows))

	return buf.Bytes(), nil
}

func (s *reportService) ExportXLSX(ctx context.Context, keyID uint) ([]byte, error) {
	header, rows, err := s.exportRows(ctx, keyID)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Results"
	f.SetSheetName("Sheet1", sheet)

	for col, title := range header {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, fmt.Errorf("failed to compute cell name: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, title); err != nil {
			return nil, fmt.Errorf("failed to write header cell: %w", err)
		}
	}

	for rowIdx, row := range rows {
		for col, value := range row {
			cell, err := excelize.CoordinatesToCellName(col+1, rowIdx+2)
			if err != nil {
				return nil, fmt.Errorf("failed to compute cell name: %w", err)
			}
			// Numeric columns as numbers so spreadsheets can sum them
			if value != "" && col > 0 {
				if parsed, perr := strconv.ParseFloat(value, 64); perr == nil {
					if err := f.SetCellValue(sheet, cell, parsed); err != nil {
						return nil, fmt.Errorf("failed to write cell: %w", err)
					}
					continue
				}
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return nil, fmt.Errorf("failed to write cell: %w", err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}

	s.logger.Info("Exported XLSX results",
		"key_id", keyID,
		"students", len(rows))

	return buf.Bytes(), nil
}

// ===== STATISTICS =====

func (s *reportService) GetOverview(ctx context.Context, keyID uint) (*repositories.CorrectionStats, error) {
	if _, err := s.repo.AnswerKey().GetByID(ctx, nil, keyID); err != nil {
		if repositories.IsNotFoundError(err) {
			return nil, ErrAnswerKeyNotFound
		}
		return nil, fmt.Errorf("failed to get answer key: %w", err)
	}

	var stats repositories.CorrectionStats
	cacheKey := fmt.Sprintf("key:%d:overview", keyID)
	err := s.cacheManager.Stats.CacheOrExecute(ctx, cacheKey, &stats, cache.StatsCacheConfig.TTL, func() (interface{}, error) {
		return s.repo.Decision().GetCorrectionStats(ctx, nil, keyID)
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
