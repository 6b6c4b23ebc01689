package services

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/mcqkit/correction-service/internal/models"
)

// buildQuestions converts validated spec requests into gorm models.
// keyPolicy is the key-level default penalty policy; a per-question policy
// wins over it.
func buildQuestions(keyID uint, specs []QuestionSpecRequest, keyPolicy *models.PenaltyPolicy) ([]*models.Question, error) {
	defaultPolicy := models.PenaltyNone
	if keyPolicy != nil {
		defaultPolicy = *keyPolicy
	}

	questions := make([]*models.Question, len(specs))
	for i, spec := range specs {
		options, err := json.Marshal(spec.Options)
		if err != nil {
			return nil, fmt.Errorf("failed to encode options for %s: %w", spec.Label, err)
		}
		correctSet, err := json.Marshal(spec.CorrectSet)
		if err != nil {
			return nil, fmt.Errorf("failed to encode correct set for %s: %w", spec.Label, err)
		}

		weight := spec.Weight
		if weight == 0 {
			weight = 1
		}
		policy := defaultPolicy
		if spec.PenaltyPolicy != nil {
			policy = *spec.PenaltyPolicy
		}

		questions[i] = &models.Question{
			AnswerKeyID:   keyID,
			Label:         spec.Label,
			Order:         i + 1,
			Options:       datatypes.JSON(options),
			CorrectSet:    datatypes.JSON(correctSet),
			Weight:        weight,
			PenaltyPolicy: policy,
		}
	}
	return questions, nil
}

// questionToSpec decodes the JSONB columns into the value form the scoring
// and reconciliation paths work with.
func questionToSpec(q *models.Question) (models.QuestionSpec, error) {
	var options, correctSet []string
	if err := json.Unmarshal(q.Options, &options); err != nil {
		return models.QuestionSpec{}, fmt.Errorf("failed to decode options for %s: %w", q.Label, err)
	}
	if err := json.Unmarshal(q.CorrectSet, &correctSet); err != nil {
		return models.QuestionSpec{}, fmt.Errorf("failed to decode correct set for %s: %w", q.Label, err)
	}

	return models.QuestionSpec{
		Label:         q.Label,
		Options:       options,
		CorrectSet:    correctSet,
		Weight:        q.Weight,
		PenaltyPolicy: q.PenaltyPolicy,
	}, nil
}

// decodeMarks decodes a detection record's JSONB marks column.
func decodeMarks(raw datatypes.JSON) ([]models.OptionMark, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var marks []models.OptionMark
	if err := json.Unmarshal(raw, &marks); err != nil {
		return nil, fmt.Errorf("failed to decode marks: %w", err)
	}
	return marks, nil
}

// decodeChosenSet decodes a decision's JSONB chosen set column.
func decodeChosenSet(raw datatypes.JSON) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var chosen []string
	if err := json.Unmarshal(raw, &chosen); err != nil {
		return nil, fmt.Errorf("failed to decode chosen set: %w", err)
	}
	return chosen, nil
}

// encodeChosenSet encodes a chosen option set for the decisions table.
// A nil set encodes as an empty array so blank stays distinct from NULL.
func encodeChosenSet(chosen []string) (datatypes.JSON, error) {
	if chosen == nil {
		chosen = []string{}
	}
	data, err := json.Marshal(chosen)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chosen set: %w", err)
	}
	return datatypes.JSON(data), nil
}

// specIndex builds a label -> spec lookup for a key's question set.
func specIndex(questions []models.Question) (map[string]models.QuestionSpec, error) {
	index := make(map[string]models.QuestionSpec, len(questions))
	for i := range questions {
		spec, err := questionToSpec(&questions[i])
		if err != nil {
			return nil, err
		}
		index[spec.Label] = spec
	}
	return index, nil
}
