package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/mcqkit/correction-service/internal/cache"
	"github.com/mcqkit/correction-service/internal/models"
	"github.com/mcqkit/correction-service/internal/repositories"
)

func newReportServiceForTest(repo *mockRepository) *reportService {
	return &reportService{
		repo:         repo,
		logger:       slog.New(slog.NewTextHandler(os.Stdout, nil)),
		cacheManager: cache.NewCacheManager(nil),
	}
}

// reportFixture builds a finalized two-question key: Q1 single-answer worth 1,
// Q2 two-answer worth 2 with proportional penalty.
func reportFixture(t *testing.T) (*mockRepository, *models.AnswerKey) {
	t.Helper()
	repo := newMockRepository()
	key := repo.addKey(models.KeyFinalized,
		testQuestion(t, "Q1", []string{"A", "B", "C", "D"}, []string{"B"}, 1, models.PenaltyNone),
		testQuestion(t, "Q2", []string{"A", "B", "C", "D"}, []string{"A", "C"}, 2, models.PenaltyProportional),
	)
	repo.addBatch(key.ID, "batch-1")
	return repo, key
}

func TestAggregate(t *testing.T) {
	ctx := context.Background()
	studentID := "student-1"

	t.Run("fully decided student", func(t *testing.T) {
		repo, key := reportFixture(t)
		repo.addDecision(key.ID, studentID, "Q1", 1, models.OriginAutomatic, []string{"B"})
		repo.addDecision(key.ID, studentID, "Q2", 1, models.OriginHumanOverride, []string{"A"})
		service := newReportServiceForTest(repo)

		result, err := service.Aggregate(ctx, key.ID, studentID)
		if err != nil {
			t.Fatalf("Aggregate() error = %v", err)
		}

		if result.MaxScore != 3 {
			t.Errorf("max score = %v, want 3", result.MaxScore)
		}
		// Q1 full credit (1.0), Q2 one of two correct (1.0)
		if result.TotalScore != 2 {
			t.Errorf("total score = %v, want 2", result.TotalScore)
		}
		if result.HasUnresolvedAmbiguity {
			t.Error("unexpected unresolved ambiguity")
		}
		if len(result.Outcomes) != 2 {
			t.Fatalf("outcomes = %d, want 2", len(result.Outcomes))
		}
		if result.Outcomes[1].Origin == nil || *result.Outcomes[1].Origin != string(models.OriginHumanOverride) {
			t.Errorf("Q2 origin = %v, want human_override", result.Outcomes[1].Origin)
		}
	})

	t.Run("flagged pair stays pending without failing the report", func(t *testing.T) {
		repo, key := reportFixture(t)
		repo.addDecision(key.ID, studentID, "Q1", 1, models.OriginAutomatic, []string{"B"})
		record := repo.addRecord("batch-1", &studentID, "Q2", []models.OptionMark{
			{Option: "A", Confidence: 0.8},
			{Option: "B", Confidence: 0.78},
		})
		flag := &models.ReviewFlag{
			AnswerKeyID:       key.ID,
			StudentID:         studentID,
			QuestionLabel:     "Q2",
			DetectionRecordID: record.ID,
			Reason:            "tie_above_threshold",
		}
		if err := repo.ReviewFlag().Upsert(ctx, nil, flag); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		service := newReportServiceForTest(repo)

		result, err := service.Aggregate(ctx, key.ID, studentID)
		if err != nil {
			t.Fatalf("Aggregate() error = %v", err)
		}

		if !result.HasUnresolvedAmbiguity {
			t.Error("expected unresolved ambiguity")
		}
		if result.TotalScore != 1 {
			t.Errorf("total score = %v, want 1 (only Q1 scored)", result.TotalScore)
		}
		var q2 *models.QuestionOutcome
		for i := range result.Outcomes {
			if result.Outcomes[i].QuestionLabel == "Q2" {
				q2 = &result.Outcomes[i]
			}
		}
		if q2 == nil || !q2.Pending {
			t.Errorf("Q2 outcome = %+v, want pending", q2)
		}
	})

	t.Run("detection without decision stays pending", func(t *testing.T) {
		repo, key := reportFixture(t)
		repo.addDecision(key.ID, studentID, "Q1", 1, models.OriginAutomatic, []string{"B"})
		repo.addRecord("batch-1", &studentID, "Q2", []models.OptionMark{{Option: "A", Confidence: 0.9}})
		service := newReportServiceForTest(repo)

		result, err := service.Aggregate(ctx, key.ID, studentID)
		if err != nil {
			t.Fatalf("Aggregate() error = %v", err)
		}
		if result.HasUnresolvedAmbiguity {
			t.Error("not-yet-reconciled detection should not count as ambiguity")
		}
		if len(result.Outcomes) != 2 || !result.Outcomes[1].Pending {
			t.Errorf("Q2 outcome = %+v, want pending", result.Outcomes)
		}
	})

	t.Run("missing detection data fails only that student", func(t *testing.T) {
		repo, key := reportFixture(t)
		repo.addDecision(key.ID, studentID, "Q1", 1, models.OriginAutomatic, []string{"B"})
		service := newReportServiceForTest(repo)

		_, err := service.Aggregate(ctx, key.ID, studentID)

		var incomplete *IncompleteDataError
		if !errors.As(err, &incomplete) {
			t.Fatalf("Aggregate() error = %v, want IncompleteDataError", err)
		}
		if len(incomplete.MissingLabels) != 1 || incomplete.MissingLabels[0] != "Q2" {
			t.Errorf("missing labels = %v, want [Q2]", incomplete.MissingLabels)
		}
	})

	t.Run("reads decisions, detections and flags in one transaction", func(t *testing.T) {
		repo, key := reportFixture(t)
		repo.addDecision(key.ID, studentID, "Q1", 1, models.OriginAutomatic, []string{"B"})
		repo.addDecision(key.ID, studentID, "Q2", 1, models.OriginAutomatic, []string{"A", "C"})
		service := newReportServiceForTest(repo)

		before := repo.transactionCount()
		if _, err := service.Aggregate(ctx, key.ID, studentID); err != nil {
			t.Fatalf("Aggregate() error = %v", err)
		}
		if got := repo.transactionCount(); got != before+1 {
			t.Errorf("transactions = %d, want %d (one snapshot per result)", got, before+1)
		}
	})

	t.Run("draft key is not reportable", func(t *testing.T) {
		repo := newMockRepository()
		draft := repo.addKey(models.KeyDraft,
			testQuestion(t, "Q1", []string{"A", "B"}, []string{"A"}, 1, models.PenaltyNone),
		)
		service := newReportServiceForTest(repo)

		if _, err := service.Aggregate(ctx, draft.ID, studentID); !errors.Is(err, ErrKeyNotFinalized) {
			t.Errorf("Aggregate() error = %v, want ErrKeyNotFinalized", err)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		service := newReportServiceForTest(newMockRepository())
		if _, err := service.Aggregate(ctx, 42, studentID); !errors.Is(err, ErrAnswerKeyNotFound) {
			t.Errorf("Aggregate() error = %v, want ErrAnswerKeyNotFound", err)
		}
	})
}

func TestAggregateAll(t *testing.T) {
	ctx := context.Background()

	repo, key := reportFixture(t)
	// student-a fully decided
	repo.addDecision(key.ID, "student-a", "Q1", 1, models.OriginAutomatic, []string{"B"})
	repo.addDecision(key.ID, "student-a", "Q2", 1, models.OriginAutomatic, []string{"A", "C"})
	// student-b has Q1 only and no trace of Q2
	repo.addDecision(key.ID, "student-b", "Q1", 1, models.OriginAutomatic, []string{"A"})

	service := newReportServiceForTest(repo)

	out, err := service.AggregateAll(ctx, key.ID)
	if err != nil {
		t.Fatalf("AggregateAll() error = %v", err)
	}

	if len(out.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(out.Results))
	}
	if out.Results[0].StudentID != "student-a" {
		t.Errorf("result student = %s, want student-a", out.Results[0].StudentID)
	}
	if out.Results[0].TotalScore != 3 {
		t.Errorf("student-a total = %v, want 3", out.Results[0].TotalScore)
	}

	if len(out.Failures) != 1 {
		t.Fatalf("failures = %v, want student-b only", out.Failures)
	}
	if _, ok := out.Failures["student-b"]; !ok {
		t.Errorf("failures = %v, missing student-b", out.Failures)
	}

	summary := out.Summary
	if summary.StudentCount != 2 {
		t.Errorf("student count = %d, want 2", summary.StudentCount)
	}
	if summary.CompleteCount != 1 || summary.IncompleteCount != 1 || summary.PendingCount != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.MeanScore != 3 || summary.MaxScore != 3 || summary.MinScore != 3 {
		t.Errorf("score stats = mean %v max %v min %v, want all 3",
			summary.MeanScore, summary.MaxScore, summary.MinScore)
	}
}

// A student whose scans were ingested but never reconciled still belongs to
// the class roster: pending, not silently absent.
func TestAggregateAllIncludesUnreconciledStudents(t *testing.T) {
	ctx := context.Background()

	repo, key := reportFixture(t)
	repo.addDecision(key.ID, "student-a", "Q1", 1, models.OriginAutomatic, []string{"B"})
	repo.addDecision(key.ID, "student-a", "Q2", 1, models.OriginAutomatic, []string{"A", "C"})
	// student-b only exists in the detection tables
	ingested := "student-b"
	repo.addRecord("batch-1", &ingested, "Q1", []models.OptionMark{{Option: "B", Confidence: 0.9}})
	repo.addRecord("batch-1", &ingested, "Q2", []models.OptionMark{
		{Option: "A", Confidence: 0.9},
		{Option: "C", Confidence: 0.85},
	})

	service := newReportServiceForTest(repo)

	out, err := service.AggregateAll(ctx, key.ID)
	if err != nil {
		t.Fatalf("AggregateAll() error = %v", err)
	}

	if len(out.Results) != 2 {
		t.Fatalf("results = %d, want both students", len(out.Results))
	}
	var pendingResult *models.StudentResult
	for _, r := range out.Results {
		if r.StudentID == ingested {
			pendingResult = r
		}
	}
	if pendingResult == nil {
		t.Fatalf("ingested-only student missing from results: %+v", out.Results)
	}
	for _, o := range pendingResult.Outcomes {
		if !o.Pending {
			t.Errorf("outcome %s = %+v, want pending", o.QuestionLabel, o)
		}
	}
	if pendingResult.TotalScore != 0 {
		t.Errorf("pending student total = %v, want 0", pendingResult.TotalScore)
	}

	if out.Summary.StudentCount != 2 {
		t.Errorf("student count = %d, want 2", out.Summary.StudentCount)
	}
	if out.Summary.PendingCount != 1 || out.Summary.CompleteCount != 1 {
		t.Errorf("summary = %+v, want 1 pending and 1 complete", out.Summary)
	}
}

func TestExportCSV(t *testing.T) {
	ctx := context.Background()

	repo, key := reportFixture(t)
	repo.addDecision(key.ID, "student-a", "Q1", 1, models.OriginAutomatic, []string{"B"})
	repo.addDecision(key.ID, "student-a", "Q2", 1, models.OriginAutomatic, []string{"A", "C"})

	service := newReportServiceForTest(repo)

	data, err := service.ExportCSV(ctx, key.ID)
	if err != nil {
		t.Fatalf("ExportCSV() error = %v", err)
	}

	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parsing exported CSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("exported %d rows, want header + 1 student", len(rows))
	}

	wantHeader := []string{"student_id", "Q1", "Q2", "total_score", "max_score"}
	for i, col := range wantHeader {
		if rows[0][i] != col {
			t.Errorf("header[%d] = %s, want %s", i, rows[0][i], col)
		}
	}

	row := rows[1]
	if row[0] != "student-a" {
		t.Errorf("student column = %s", row[0])
	}
	if row[1] != "1.00" || row[2] != "2.00" {
		t.Errorf("score columns = %s, %s, want 1.00, 2.00", row[1], row[2])
	}
	if row[3] != "3.00" || row[4] != "3.00" {
		t.Errorf("total columns = %s, %s, want 3.00, 3.00", row[3], row[4])
	}
}

func TestExportXLSX(t *testing.T) {
	ctx := context.Background()

	repo, key := reportFixture(t)
	repo.addDecision(key.ID, "student-a", "Q1", 1, models.OriginAutomatic, []string{"B"})
	repo.addDecision(key.ID, "student-a", "Q2", 1, models.OriginAutomatic, []string{"A", "C"})

	service := newReportServiceForTest(repo)

	data, err := service.ExportXLSX(ctx, key.ID)
	if err != nil {
		t.Fatalf("ExportXLSX() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatal("exported workbook is empty")
	}
	// XLSX files are zip archives
	if !bytes.HasPrefix(data, []byte("PK")) {
		t.Errorf("exported data does not look like a workbook: %x", data[:4])
	}
}

func TestGetOverview(t *testing.T) {
	ctx := context.Background()

	repo, key := reportFixture(t)
	repo.stats = &repositories.CorrectionStats{
		TotalRecords:     10,
		AutomaticDecided: 7,
		PendingReview:    2,
		SkippedRecords:   1,
		AutoDecisionRate: 0.7,
	}
	service := newReportServiceForTest(repo)

	stats, err := service.GetOverview(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetOverview() error = %v", err)
	}
	if stats.AutomaticDecided != 7 || stats.PendingReview != 2 {
		t.Errorf("stats = %+v", stats)
	}

	if _, err := service.GetOverview(ctx, 99); !errors.Is(err, ErrAnswerKeyNotFound) {
		t.Errorf("GetOverview(unknown key) error = %v, want ErrAnswerKeyNotFound", err)
	}
}
