package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"testing"

	"github.com/mcqkit/correction-service/internal/events"
	"github.com/mcqkit/correction-service/internal/models"
	"github.com/mcqkit/correction-service/internal/validator"
)

func newAnswerKeyServiceForTest(repo *mockRepository, publisher events.EventPublisher) AnswerKeyService {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewAnswerKeyService(repo, nil, logger, validator.New(), publisher)
}

func TestScoreQuestion(t *testing.T) {
	singleAnswer := models.QuestionSpec{
		Label:         "Q1",
		Options:       []string{"A", "B", "C", "D"},
		CorrectSet:    []string{"B"},
		Weight:        2,
		PenaltyPolicy: models.PenaltyNone,
	}
	multiAnswer := func(policy models.PenaltyPolicy) models.QuestionSpec {
		return models.QuestionSpec{
			Label:         "Q2",
			Options:       []string{"A", "B", "C", "D"},
			CorrectSet:    []string{"A", "C"},
			Weight:        4,
			PenaltyPolicy: policy,
		}
	}

	tests := []struct {
		name   string
		spec   models.QuestionSpec
		chosen []string
		want   float64
	}{
		{name: "blank scores zero", spec: singleAnswer, chosen: nil, want: 0},
		{name: "empty set scores zero", spec: singleAnswer, chosen: []string{}, want: 0},
		{name: "correct single answer", spec: singleAnswer, chosen: []string{"B"}, want: 2},
		{name: "wrong single answer with no penalty", spec: singleAnswer, chosen: []string{"A"}, want: 0},
		{name: "full credit multi-answer", spec: multiAnswer(models.PenaltyNone), chosen: []string{"A", "C"}, want: 4},
		{name: "half credit multi-answer", spec: multiAnswer(models.PenaltyNone), chosen: []string{"A"}, want: 2},
		{name: "wrong extra pick costs nothing without penalty", spec: multiAnswer(models.PenaltyNone), chosen: []string{"A", "B"}, want: 2},
		{name: "proportional penalty per wrong pick", spec: multiAnswer(models.PenaltyProportional), chosen: []string{"A", "B"}, want: 0},
		{name: "proportional penalty floors at zero", spec: multiAnswer(models.PenaltyProportional), chosen: []string{"B", "D"}, want: 0},
		{name: "negative penalty goes below zero", spec: multiAnswer(models.PenaltyNegative), chosen: []string{"B"}, want: -4},
		{name: "negative penalty nets against hits", spec: multiAnswer(models.PenaltyNegative), chosen: []string{"A", "B"}, want: -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScoreQuestion(tt.spec, tt.chosen)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ScoreQuestion() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCreateAnswerKey(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	t.Run("creates a draft with questions", func(t *testing.T) {
		repo := newMockRepository()
		publisher := events.NewMockEventPublisher(logger)
		service := newAnswerKeyServiceForTest(repo, publisher)

		response, err := service.Create(ctx, &CreateAnswerKeyRequest{
			Title: "Biology midterm",
			Questions: []QuestionSpecRequest{
				{Label: "Q1", Options: []string{"A", "B", "C"}, CorrectSet: []string{"B"}},
				{Label: "Q2", Options: []string{"A", "B", "C"}, CorrectSet: []string{"A", "C"}, Weight: 2},
			},
		}, "teacher-1")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		if response.Status != models.KeyDraft {
			t.Errorf("status = %s, want draft", response.Status)
		}
		if !response.CanEdit || !response.CanFinalize {
			t.Errorf("response flags = edit %v finalize %v, want both true", response.CanEdit, response.CanFinalize)
		}
		if len(response.Questions) != 2 {
			t.Fatalf("questions = %d, want 2", len(response.Questions))
		}
		// missing weight defaults to 1
		if response.Questions[0].Weight != 1 {
			t.Errorf("Q1 weight = %v, want 1", response.Questions[0].Weight)
		}
	})

	t.Run("rejects correct option outside options", func(t *testing.T) {
		service := newAnswerKeyServiceForTest(newMockRepository(), events.NewMockEventPublisher(logger))

		_, err := service.Create(ctx, &CreateAnswerKeyRequest{
			Title: "Broken key",
			Questions: []QuestionSpecRequest{
				{Label: "Q1", Options: []string{"A", "B"}, CorrectSet: []string{"Z"}},
			},
		}, "teacher-1")

		var malformed *MalformedKeyError
		if !errors.As(err, &malformed) {
			t.Fatalf("Create() error = %v, want MalformedKeyError", err)
		}
	})

	t.Run("rejects duplicate labels", func(t *testing.T) {
		service := newAnswerKeyServiceForTest(newMockRepository(), events.NewMockEventPublisher(logger))

		_, err := service.Create(ctx, &CreateAnswerKeyRequest{
			Title: "Broken key",
			Questions: []QuestionSpecRequest{
				{Label: "Q1", Options: []string{"A", "B"}, CorrectSet: []string{"A"}},
				{Label: "Q1", Options: []string{"A", "B"}, CorrectSet: []string{"B"}},
			},
		}, "teacher-1")

		var malformed *MalformedKeyError
		if !errors.As(err, &malformed) {
			t.Fatalf("Create() error = %v, want MalformedKeyError", err)
		}
	})
}

func TestFinalizeAnswerKey(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	t.Run("finalizes a draft and publishes event", func(t *testing.T) {
		repo := newMockRepository()
		key := repo.addKey(models.KeyDraft,
			testQuestion(t, "Q1", []string{"A", "B"}, []string{"A"}, 1, models.PenaltyNone),
		)
		publisher := events.NewMockEventPublisher(logger)
		service := newAnswerKeyServiceForTest(repo, publisher)

		if err := service.Finalize(ctx, key.ID, "teacher-1"); err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}

		stored, _ := repo.AnswerKey().GetByID(ctx, nil, key.ID)
		if stored.Status != models.KeyFinalized {
			t.Errorf("status = %s, want finalized", stored.Status)
		}
		if stored.FinalizedAt == nil {
			t.Error("finalized_at not set")
		}

		finalized := publisher.GetEventsByType(events.EventKeyFinalized)
		if len(finalized) != 1 {
			t.Fatalf("published %d finalize events, want 1", len(finalized))
		}
	})

	t.Run("already finalized", func(t *testing.T) {
		repo := newMockRepository()
		key := repo.addKey(models.KeyFinalized,
			testQuestion(t, "Q1", []string{"A", "B"}, []string{"A"}, 1, models.PenaltyNone),
		)
		service := newAnswerKeyServiceForTest(repo, events.NewMockEventPublisher(logger))

		if err := service.Finalize(ctx, key.ID, "teacher-1"); !errors.Is(err, ErrKeyAlreadyFinalized) {
			t.Errorf("Finalize() error = %v, want ErrKeyAlreadyFinalized", err)
		}
	})

	t.Run("empty key cannot finalize", func(t *testing.T) {
		repo := newMockRepository()
		key := repo.addKey(models.KeyDraft)
		service := newAnswerKeyServiceForTest(repo, events.NewMockEventPublisher(logger))

		err := service.Finalize(ctx, key.ID, "teacher-1")
		var malformed *MalformedKeyError
		if !errors.As(err, &malformed) {
			t.Errorf("Finalize() error = %v, want MalformedKeyError", err)
		}
	})

	t.Run("non-creator without admin role is rejected", func(t *testing.T) {
		repo := newMockRepository()
		key := repo.addKey(models.KeyDraft,
			testQuestion(t, "Q1", []string{"A", "B"}, []string{"A"}, 1, models.PenaltyNone),
		)
		repo.addUser("other", models.RoleCorrector)
		service := newAnswerKeyServiceForTest(repo, events.NewMockEventPublisher(logger))

		err := service.Finalize(ctx, key.ID, "other")
		var permErr *PermissionError
		if !errors.As(err, &permErr) {
			t.Errorf("Finalize() error = %v, want PermissionError", err)
		}
	})

	t.Run("admin may finalize another creator's key", func(t *testing.T) {
		repo := newMockRepository()
		key := repo.addKey(models.KeyDraft,
			testQuestion(t, "Q1", []string{"A", "B"}, []string{"A"}, 1, models.PenaltyNone),
		)
		repo.addUser("admin-1", models.RoleAdmin)
		service := newAnswerKeyServiceForTest(repo, events.NewMockEventPublisher(logger))

		if err := service.Finalize(ctx, key.ID, "admin-1"); err != nil {
			t.Errorf("Finalize() error = %v", err)
		}
	})
}

func TestDeleteAnswerKey(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	t.Run("deletes a draft", func(t *testing.T) {
		repo := newMockRepository()
		key := repo.addKey(models.KeyDraft,
			testQuestion(t, "Q1", []string{"A", "B"}, []string{"A"}, 1, models.PenaltyNone),
		)
		service := newAnswerKeyServiceForTest(repo, events.NewMockEventPublisher(logger))

		if err := service.Delete(ctx, key.ID, "teacher-1"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := service.GetByID(ctx, key.ID); !errors.Is(err, ErrAnswerKeyNotFound) {
			t.Errorf("GetByID() after delete error = %v, want ErrAnswerKeyNotFound", err)
		}
	})

	t.Run("finalized key is immutable", func(t *testing.T) {
		repo := newMockRepository()
		key := repo.addKey(models.KeyFinalized,
			testQuestion(t, "Q1", []string{"A", "B"}, []string{"A"}, 1, models.PenaltyNone),
		)
		service := newAnswerKeyServiceForTest(repo, events.NewMockEventPublisher(logger))

		err := service.Delete(ctx, key.ID, "teacher-1")
		var ruleErr *BusinessRuleError
		if !errors.As(err, &ruleErr) {
			t.Errorf("Delete() error = %v, want BusinessRuleError", err)
		}
	})
}
