package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcqkit/correction-service/internal/repositories"
	"github.com/mcqkit/correction-service/internal/services"
	"github.com/mcqkit/correction-service/internal/utils"
	"github.com/mcqkit/correction-service/internal/validator"
)

// ReviewHandler covers the correction ledger: overrides, history and the
// pending review queue
type ReviewHandler struct {
	BaseHandler
	ledgerService services.LedgerService
	validator     *validator.Validator
}

func NewReviewHandler(
	ledgerService services.LedgerService,
	validator *validator.Validator,
	logger utils.Logger,
) *ReviewHandler {
	return &ReviewHandler{
		BaseHandler:   NewBaseHandler(logger),
		ledgerService: ledgerService,
		validator:     validator,
	}
}

// ApplyOverride records a human decision for one (student, question) pair
// @Summary Apply override
// @Description Appends a human-override decision that supersedes the current one
// @Tags review
// @Accept json
// @Produce json
// @Param key_id path uint true "Answer key ID"
// @Param override body services.OverrideRequest true "Override data"
// @Success 200 {object} services.OverrideResult
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /review/{key_id}/override [post]
func (h *ReviewHandler) ApplyOverride(c *gin.Context) {
	keyID := h.parseIDParam(c, "key_id")
	if keyID == 0 {
		return
	}

	var req services.OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	h.LogRequest(c, "Applying override",
		"key_id", keyID,
		"student_id", req.StudentID,
		"question_label", req.QuestionLabel)

	result, err := h.ledgerService.Override(c.Request.Context(), keyID, &req, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetDecisionHistory returns every decision for a pair, oldest first
// @Summary Get decision history
// @Tags review
// @Produce json
// @Param key_id path uint true "Answer key ID"
// @Param student_id path string true "Student ID"
// @Param label path string true "Question label"
// @Success 200 {object} services.DecisionHistoryResponse
// @Failure 404 {object} ErrorResponse
// @Router /review/{key_id}/students/{student_id}/questions/{label}/history [get]
func (h *ReviewHandler) GetDecisionHistory(c *gin.Context) {
	keyID := h.parseIDParam(c, "key_id")
	if keyID == 0 {
		return
	}
	studentID := c.Param("student_id")
	label := c.Param("label")
	if studentID == "" || label == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Student ID and question label are required",
		})
		return
	}

	h.LogRequest(c, "Getting decision history",
		"key_id", keyID,
		"student_id", studentID,
		"question_label", label)

	history, err := h.ledgerService.History(c.Request.Context(), keyID, studentID, label)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, history)
}

// GetCurrentDecision returns the latest decision for a pair
// @Summary Get current decision
// @Tags review
// @Produce json
// @Param key_id path uint true "Answer key ID"
// @Param student_id path string true "Student ID"
// @Param label path string true "Question label"
// @Success 200 {object} models.Decision
// @Failure 404 {object} ErrorResponse
// @Router /review/{key_id}/students/{student_id}/questions/{label}/current [get]
func (h *ReviewHandler) GetCurrentDecision(c *gin.Context) {
	keyID := h.parseIDParam(c, "key_id")
	if keyID == 0 {
		return
	}
	studentID := c.Param("student_id")
	label := c.Param("label")
	if studentID == "" || label == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Student ID and question label are required",
		})
		return
	}

	decision, err := h.ledgerService.Current(c.Request.Context(), keyID, studentID, label)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

// GetPendingReview lists flagged pairs awaiting a human decision
// @Summary Get pending review queue
// @Tags review
// @Produce json
// @Param key_id path uint true "Answer key ID"
// @Param student_id query string false "Filter by student"
// @Param page query int false "Page number" default(1)
// @Param size query int false "Page size" default(20)
// @Success 200 {object} services.PendingReviewResponse
// @Failure 404 {object} ErrorResponse
// @Router /review/{key_id}/pending [get]
func (h *ReviewHandler) GetPendingReview(c *gin.Context) {
	keyID := h.parseIDParam(c, "key_id")
	if keyID == 0 {
		return
	}

	h.LogRequest(c, "Getting pending review queue", "key_id", keyID)

	limit, offset := h.parsePagination(c)
	filters := repositories.ReviewFlagFilters{
		Limit:  limit,
		Offset: offset,
	}
	if studentID := c.Query("student_id"); studentID != "" {
		filters.StudentID = &studentID
	}

	pending, err := h.ledgerService.PendingReviewItems(c.Request.Context(), keyID, filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, pending)
}
