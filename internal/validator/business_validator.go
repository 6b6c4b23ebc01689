package validator

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mcqkit/correction-service/internal/models"
)

// BusinessValidator handles business rule validation
type BusinessValidator struct {
	validate *validator.Validate
}

// NewBusinessValidator creates a new business validator
func NewBusinessValidator() *BusinessValidator {
	validate := validator.New()

	bv := &BusinessValidator{validate: validate}
	bv.registerBusinessRules()

	return bv
}

// Validate validates business rules for any struct
func (bv *BusinessValidator) Validate(s interface{}) ValidationErrors {
	err := bv.validate.Struct(s)
	if err != nil {
		return ToValidationErrors(err)
	}
	return nil
}

// ValidateAnswerKeyCreate validates answer key creation business rules
func (bv *BusinessValidator) ValidateAnswerKeyCreate(req *AnswerKeyCreateRequest) ValidationErrors {
	var errors ValidationErrors

	errors = append(errors, bv.Validate(req)...)
	errors = append(errors, bv.validateQuestionSpecs(req.Questions)...)

	return errors
}

// ValidateAnswerKeyUpdate validates answer key update business rules
func (bv *BusinessValidator) ValidateAnswerKeyUpdate(req *AnswerKeyUpdateRequest, existing *models.AnswerKey) ValidationErrors {
	var errors ValidationErrors

	errors = append(errors, bv.Validate(req)...)

	if existing.Status != models.KeyDraft {
		errors = append(errors, ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("cannot modify a %s answer key", existing.Status),
			Value:   existing.Status,
			Rule:    "business_logic",
		})
	}

	if req.Questions != nil {
		errors = append(errors, bv.validateQuestionSpecs(req.Questions)...)
	}

	return errors
}

// ValidateFinalize validates that a key is ready to accept corrections
func (bv *BusinessValidator) ValidateFinalize(key *models.AnswerKey, questionCount int) ValidationErrors {
	var errors ValidationErrors

	if key.Status != models.KeyDraft {
		errors = append(errors, ValidationError{
			Field:   "status",
			Message: fmt.Sprintf("cannot finalize a %s answer key", key.Status),
			Value:   key.Status,
			Rule:    "business_logic",
		})
	}

	if questionCount == 0 {
		errors = append(errors, ValidationError{
			Field:   "questions",
			Message: "answer key must have at least one question before finalizing",
			Value:   questionCount,
			Rule:    "business_logic",
		})
	}

	return errors
}

// ValidateOverride validates the override payload against the question spec
func (bv *BusinessValidator) ValidateOverride(req *OverrideRequest, question *models.Question, options []string) ValidationErrors {
	var errors ValidationErrors

	errors = append(errors, bv.Validate(req)...)

	optionSet := make(map[string]bool, len(options))
	for _, opt := range options {
		optionSet[opt] = true
	}

	seen := make(map[string]bool, len(req.ChosenSet))
	for i, chosen := range req.ChosenSet {
		if !optionSet[chosen] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("chosen_set[%d]", i),
				Message: fmt.Sprintf("option %q is not part of question %s", chosen, question.Label),
				Value:   chosen,
				Rule:    "business_logic",
			})
		}
		if seen[chosen] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("chosen_set[%d]", i),
				Message: fmt.Sprintf("option %q listed more than once", chosen),
				Value:   chosen,
				Rule:    "business_logic",
			})
		}
		seen[chosen] = true
	}

	return errors
}

// ValidateThresholds checks a reconcile request's threshold overrides
func (bv *BusinessValidator) ValidateThresholds(accept, margin float64) ValidationErrors {
	var errors ValidationErrors

	if accept < 0 || accept > 1 {
		errors = append(errors, ValidationError{
			Field:   "accept_threshold",
			Message: "must be between 0 and 1",
			Value:   accept,
			Rule:    "threshold_range",
		})
	}
	if margin < 0 || margin > 1 {
		errors = append(errors, ValidationError{
			Field:   "ambiguity_margin",
			Message: "must be between 0 and 1",
			Value:   margin,
			Rule:    "threshold_range",
		})
	}

	return errors
}

// validateQuestionSpecs checks cross-field rules a struct tag cannot express:
// unique labels, unique options, and every correct option present in options.
func (bv *BusinessValidator) validateQuestionSpecs(specs []QuestionSpecRequest) ValidationErrors {
	var errors ValidationErrors

	labels := make(map[string]bool, len(specs))
	for i, spec := range specs {
		if labels[spec.Label] {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("questions[%d].label", i),
				Message: fmt.Sprintf("duplicate question label %q", spec.Label),
				Value:   spec.Label,
				Rule:    "business_logic",
			})
		}
		labels[spec.Label] = true

		optionSet := make(map[string]bool, len(spec.Options))
		for j, opt := range spec.Options {
			if optionSet[opt] {
				errors = append(errors, ValidationError{
					Field:   fmt.Sprintf("questions[%d].options[%d]", i, j),
					Message: fmt.Sprintf("duplicate option %q", opt),
					Value:   opt,
					Rule:    "business_logic",
				})
			}
			optionSet[opt] = true
		}

		for j, correct := range spec.CorrectSet {
			if !optionSet[correct] {
				errors = append(errors, ValidationError{
					Field:   fmt.Sprintf("questions[%d].correct_set[%d]", i, j),
					Message: fmt.Sprintf("correct option %q is not among the question options", correct),
					Value:   correct,
					Rule:    "business_logic",
				})
			}
		}

		if len(spec.CorrectSet) > len(spec.Options) {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("questions[%d].correct_set", i),
				Message: "cannot have more correct options than options",
				Value:   len(spec.CorrectSet),
				Rule:    "business_logic",
			})
		}
	}

	return errors
}

// registerBusinessRules registers custom rule validators
func (bv *BusinessValidator) registerBusinessRules() {
	// Confidence values live in [0, 1]
	bv.validate.RegisterValidation("confidence_range", func(fl validator.FieldLevel) bool {
		c := fl.Field().Float()
		return c >= 0 && c <= 1
	})

	// Reconciliation thresholds live in [0, 1]
	bv.validate.RegisterValidation("threshold_range", func(fl validator.FieldLevel) bool {
		t := fl.Field().Float()
		return t >= 0 && t <= 1
	})

	// Question weight must be strictly positive
	bv.validate.RegisterValidation("question_weight", func(fl validator.FieldLevel) bool {
		w := fl.Field().Float()
		return w > 0
	})

	// Question label: non-empty trimmed string, at most 50 characters
	bv.validate.RegisterValidation("question_label", func(fl validator.FieldLevel) bool {
		label := strings.TrimSpace(fl.Field().String())
		return len(label) >= 1 && len(label) <= 50
	})

	// Penalty policy enum
	bv.validate.RegisterValidation("penalty_policy", func(fl validator.FieldLevel) bool {
		policy := models.PenaltyPolicy(fl.Field().String())
		switch policy {
		case models.PenaltyNone, models.PenaltyProportional, models.PenaltyNegative:
			return true
		}
		return false
	})
}
