package services

import (
	"errors"
	"fmt"
	"strings"
)

// ===== SENTINEL ERRORS =====

var (
	ErrAnswerKeyNotFound = errors.New("answer key not found")
	ErrQuestionNotFound  = errors.New("question not found")
	ErrBatchNotFound     = errors.New("detection batch not found")
	ErrDecisionNotFound  = errors.New("no decision recorded for this pair")
	ErrUserNotFound      = errors.New("user not found")

	ErrKeyNotFinalized     = errors.New("answer key is not finalized")
	ErrKeyAlreadyFinalized = errors.New("answer key is already finalized")
	ErrDuplicateScanRef    = errors.New("scan reference already ingested")
	ErrNoUnresolvedRecords = errors.New("no unresolved records for scan reference")
)

// ===== GENERIC TYPED ERRORS =====

// ValidationError describes a single invalid field
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// ValidationErrors collects several field errors into one error value
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (e *ValidationErrors) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// BusinessRuleError signals a state-dependent rule violation
type BusinessRuleError struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (e *BusinessRuleError) Error() string {
	return fmt.Sprintf("business rule %s violated: %s", e.Rule, e.Message)
}

func NewBusinessRuleError(rule, message string) *BusinessRuleError {
	return &BusinessRuleError{Rule: rule, Message: message}
}

// PermissionError signals that the user may not perform the action
type PermissionError struct {
	UserID       string `json:"user_id"`
	ResourceID   uint   `json:"resource_id"`
	ResourceType string `json:"resource_type"`
	Action       string `json:"action"`
	Reason       string `json:"reason"`
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s cannot %s %s %d: %s",
		e.UserID, e.Action, e.ResourceType, e.ResourceID, e.Reason)
}

func NewPermissionError(userID string, resourceID uint, resourceType, action, reason string) *PermissionError {
	return &PermissionError{
		UserID:       userID,
		ResourceID:   resourceID,
		ResourceType: resourceType,
		Action:       action,
		Reason:       reason,
	}
}

// ===== DOMAIN ERRORS =====

// MalformedKeyError rejects an answer key whose structure is invalid.
// Loading stops entirely; a key is either fully valid or not usable.
type MalformedKeyError struct {
	Errors []ValidationError `json:"errors"`
}

func (e *MalformedKeyError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return "malformed answer key: " + strings.Join(msgs, "; ")
}

func NewMalformedKeyError(errs []ValidationError) *MalformedKeyError {
	return &MalformedKeyError{Errors: errs}
}

// UnknownQuestionError marks a detection record referencing a label the
// answer key does not contain. The record is skipped, the batch continues.
type UnknownQuestionError struct {
	AnswerKeyID   uint   `json:"answer_key_id"`
	QuestionLabel string `json:"question_label"`
	ScanRef       string `json:"scan_ref,omitempty"`
}

func (e *UnknownQuestionError) Error() string {
	return fmt.Sprintf("question label %q does not exist in answer key %d", e.QuestionLabel, e.AnswerKeyID)
}

func NewUnknownQuestionError(keyID uint, label, scanRef string) *UnknownQuestionError {
	return &UnknownQuestionError{AnswerKeyID: keyID, QuestionLabel: label, ScanRef: scanRef}
}

// IncompleteDataError means a student cannot be aggregated because some
// questions have no detection record at all. Scoped to that student: other
// students' reports are unaffected. Distinct from a blank answer, which is a
// valid empty mark set.
type IncompleteDataError struct {
	StudentID     string   `json:"student_id"`
	AnswerKeyID   uint     `json:"answer_key_id"`
	MissingLabels []string `json:"missing_labels"`
}

func (e *IncompleteDataError) Error() string {
	return fmt.Sprintf("student %s has no detection data for %d question(s): %s",
		e.StudentID, len(e.MissingLabels), strings.Join(e.MissingLabels, ", "))
}

func NewIncompleteDataError(studentID string, keyID uint, missing []string) *IncompleteDataError {
	return &IncompleteDataError{StudentID: studentID, AnswerKeyID: keyID, MissingLabels: missing}
}

// ConcurrentOverrideConflict is returned when an override lost a race: the
// pair moved past the expected revision before the append landed. The caller
// re-reads the current decision and retries; the conflict is never silently
// resolved by either side.
type ConcurrentOverrideConflict struct {
	StudentID        string `json:"student_id"`
	QuestionLabel    string `json:"question_label"`
	ExpectedRevision int    `json:"expected_revision"`
	CurrentRevision  int    `json:"current_revision"`
}

func (e *ConcurrentOverrideConflict) Error() string {
	return fmt.Sprintf("concurrent override on (%s, %s): expected revision %d, ledger is at %d",
		e.StudentID, e.QuestionLabel, e.ExpectedRevision, e.CurrentRevision)
}

func NewConcurrentOverrideConflict(studentID, label string, expected, current int) *ConcurrentOverrideConflict {
	return &ConcurrentOverrideConflict{
		StudentID:        studentID,
		QuestionLabel:    label,
		ExpectedRevision: expected,
		CurrentRevision:  current,
	}
}
