package validator

import (
	"strings"
	"testing"

	"github.com/mcqkit/correction-service/internal/models"
)

func TestValidateOverrideRequest(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		req     OverrideRequest
		wantErr bool
	}{
		{
			name: "valid request",
			req: OverrideRequest{
				StudentID:     "student-1",
				QuestionLabel: "Q1",
				ChosenSet:     []string{"A"},
			},
		},
		{
			name: "blank chosen set is valid",
			req: OverrideRequest{
				StudentID:     "student-1",
				QuestionLabel: "Q1",
				ChosenSet:     []string{},
			},
		},
		{
			name:    "missing student id",
			req:     OverrideRequest{QuestionLabel: "Q1"},
			wantErr: true,
		},
		{
			name: "overlong question label",
			req: OverrideRequest{
				StudentID:     "student-1",
				QuestionLabel: strings.Repeat("Q", 60),
			},
			wantErr: true,
		},
		{
			name: "whitespace-only question label",
			req: OverrideRequest{
				StudentID:     "student-1",
				QuestionLabel: "   ",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(&tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if converted := ToValidationErrors(err); len(converted) == 0 {
					t.Error("ToValidationErrors() returned nothing for a failed validation")
				}
			}
		})
	}
}

func TestValidateThresholds(t *testing.T) {
	bv := NewBusinessValidator()

	if errs := bv.ValidateThresholds(0.5, 0.15); len(errs) != 0 {
		t.Errorf("ValidateThresholds(0.5, 0.15) = %v, want none", errs)
	}
	if errs := bv.ValidateThresholds(1.2, 0.15); len(errs) != 1 {
		t.Errorf("ValidateThresholds(1.2, 0.15) = %v, want one error", errs)
	}
	if errs := bv.ValidateThresholds(-0.1, 1.5); len(errs) != 2 {
		t.Errorf("ValidateThresholds(-0.1, 1.5) = %v, want two errors", errs)
	}
}

func TestValidateOverrideBusinessRules(t *testing.T) {
	bv := NewBusinessValidator()
	question := &models.Question{Label: "Q1"}
	options := []string{"A", "B", "C"}

	t.Run("valid chosen set", func(t *testing.T) {
		req := &OverrideRequest{StudentID: "s", QuestionLabel: "Q1", ChosenSet: []string{"A", "C"}}
		if errs := bv.ValidateOverride(req, question, options); len(errs) != 0 {
			t.Errorf("ValidateOverride() = %v, want none", errs)
		}
	})

	t.Run("option outside the question", func(t *testing.T) {
		req := &OverrideRequest{StudentID: "s", QuestionLabel: "Q1", ChosenSet: []string{"Z"}}
		if errs := bv.ValidateOverride(req, question, options); len(errs) == 0 {
			t.Error("ValidateOverride() accepted an unknown option")
		}
	})

	t.Run("duplicate option", func(t *testing.T) {
		req := &OverrideRequest{StudentID: "s", QuestionLabel: "Q1", ChosenSet: []string{"A", "A"}}
		if errs := bv.ValidateOverride(req, question, options); len(errs) == 0 {
			t.Error("ValidateOverride() accepted a duplicated option")
		}
	})
}

func TestValidateAnswerKeyCreate(t *testing.T) {
	bv := NewBusinessValidator()

	valid := &AnswerKeyCreateRequest{
		Title: "Midterm",
		Questions: []QuestionSpecRequest{
			{Label: "Q1", Options: []string{"A", "B"}, CorrectSet: []string{"A"}},
		},
	}
	if errs := bv.ValidateAnswerKeyCreate(valid); len(errs) != 0 {
		t.Errorf("ValidateAnswerKeyCreate(valid) = %v, want none", errs)
	}

	tests := []struct {
		name      string
		questions []QuestionSpecRequest
	}{
		{
			name: "duplicate labels",
			questions: []QuestionSpecRequest{
				{Label: "Q1", Options: []string{"A", "B"}, CorrectSet: []string{"A"}},
				{Label: "Q1", Options: []string{"A", "B"}, CorrectSet: []string{"B"}},
			},
		},
		{
			name: "duplicate options",
			questions: []QuestionSpecRequest{
				{Label: "Q1", Options: []string{"A", "A"}, CorrectSet: []string{"A"}},
			},
		},
		{
			name: "correct option not among options",
			questions: []QuestionSpecRequest{
				{Label: "Q1", Options: []string{"A", "B"}, CorrectSet: []string{"C"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &AnswerKeyCreateRequest{Title: "Midterm", Questions: tt.questions}
			if errs := bv.ValidateAnswerKeyCreate(req); len(errs) == 0 {
				t.Error("ValidateAnswerKeyCreate() accepted a malformed key")
			}
		})
	}
}

func TestValidateFinalize(t *testing.T) {
	bv := NewBusinessValidator()

	draft := &models.AnswerKey{Status: models.KeyDraft}
	if errs := bv.ValidateFinalize(draft, 3); len(errs) != 0 {
		t.Errorf("ValidateFinalize(draft, 3) = %v, want none", errs)
	}
	if errs := bv.ValidateFinalize(draft, 0); len(errs) == 0 {
		t.Error("ValidateFinalize() accepted an empty key")
	}

	finalized := &models.AnswerKey{Status: models.KeyFinalized}
	if errs := bv.ValidateFinalize(finalized, 3); len(errs) == 0 {
		t.Error("ValidateFinalize() accepted an already finalized key")
	}
}
