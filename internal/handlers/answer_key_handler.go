package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mcqkit/correction-service/internal/models"
	"github.com/mcqkit/correction-service/internal/repositories"
	"github.com/mcqkit/correction-service/internal/services"
	"github.com/mcqkit/correction-service/internal/utils"
	"github.com/mcqkit/correction-service/internal/validator"
)

type AnswerKeyHandler struct {
	BaseHandler
	answerKeyService services.AnswerKeyService
	validator        *validator.Validator
}

func NewAnswerKeyHandler(
	answerKeyService services.AnswerKeyService,
	validator *validator.Validator,
	logger utils.Logger,
) *AnswerKeyHandler {
	return &AnswerKeyHandler{
		BaseHandler:      NewBaseHandler(logger),
		answerKeyService: answerKeyService,
		validator:        validator,
	}
}

// CreateAnswerKey creates a new draft answer key
// @Summary Create answer key
// @Description Creates a new draft answer key with its question specs
// @Tags answer-keys
// @Accept json
// @Produce json
// @Param key body services.CreateAnswerKeyRequest true "Answer key data"
// @Success 201 {object} services.AnswerKeyResponse
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /answer-keys [post]
func (h *AnswerKeyHandler) CreateAnswerKey(c *gin.Context) {
	var req services.CreateAnswerKeyRequest
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

	key, err := h.answerKeyService.Create(c.Request.Context(), &req, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, key)
}

// GetAnswerKey retrieves an answer key by ID
// @Summary Get answer key
// @Tags answer-keys
// @Produce json
// @Param id path uint true "Answer key ID"
// @Success 200 {object} services.AnswerKeyResponse
// @Failure 404 {object} ErrorResponse
// @Router /answer-keys/{id} [get]
func (h *AnswerKeyHandler) GetAnswerKey(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Getting answer key", "key_id", id)

	key, err := h.answerKeyService.GetByID(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, key)
}

// GetAnswerKeyWithQuestions retrieves an answer key with its question specs
// @Summary Get answer key with questions
// @Tags answer-keys
// @Produce json
// @Param id path uint true "Answer key ID"
// @Success 200 {object} services.AnswerKeyResponse
// @Failure 404 {object} ErrorResponse
// @Router /answer-keys/{id}/questions [get]
func (h *AnswerKeyHandler) GetAnswerKeyWithQuestions(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Getting answer key with questions", "key_id", id)

	key, err := h.answerKeyService.GetByIDWithQuestions(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, key)
}

// UpdateAnswerKey updates a draft answer key
// @Summary Update answer key
// @Tags answer-keys
// @Accept json
// @Produce json
// @Param id path uint true "Answer key ID"
// @Param key body services.UpdateAnswerKeyRequest true "Answer key update data"
// @Success 200 {object} services.AnswerKeyResponse
// @Failure 404 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /answer-keys/{id} [put]
func (h *AnswerKeyHandler) UpdateAnswerKey(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Updating answer key", "key_id", id)

	var req services.UpdateAnswerKeyRequest
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

	key, err := h.answerKeyService.Update(c.Request.Context(), id, &req, userID.(string))
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, key)
}

// DeleteAnswerKey deletes a draft answer key
// @Summary Delete answer key
// @Tags answer-keys
// @Param id path uint true "Answer key ID"
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /answer-keys/{id} [delete]
func (h *AnswerKeyHandler) DeleteAnswerKey(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Deleting answer key", "key_id", id)

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	if err := h.answerKeyService.Delete(c.Request.Context(), id, userID.(string)); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListAnswerKeys lists answer keys with filters
// @Summary List answer keys
// @Tags answer-keys
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param size query int false "Page size" default(20)
// @Param status query string false "Key status (draft, finalized, archived)"
// @Success 200 {object} services.AnswerKeyListResponse
// @Router /answer-keys [get]
func (h *AnswerKeyHandler) ListAnswerKeys(c *gin.Context) {
	h.LogRequest(c, "Listing answer keys")

	filters := h.parseAnswerKeyFilters(c)
	keys, err := h.answerKeyService.List(c.Request.Context(), filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, keys)
}

// GetAnswerKeysByCreator lists answer keys created by one user
// @Summary Get answer keys by creator
// @Tags answer-keys
// @Produce json
// @Param creator_id path string true "Creator ID"
// @Success 200 {object} services.AnswerKeyListResponse
// @Router /answer-keys/creator/{creator_id} [get]
func (h *AnswerKeyHandler) GetAnswerKeysByCreator(c *gin.Context) {
	creatorID := c.Param("creator_id")
	if creatorID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Creator ID is required",
		})
		return
	}

	h.LogRequest(c, "Getting answer keys by creator", "creator_id", creatorID)

	filters := h.parseAnswerKeyFilters(c)
	keys, err := h.answerKeyService.GetByCreator(c.Request.Context(), creatorID, filters)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, keys)
}

// FinalizeAnswerKey finalizes a draft key, making it immutable and usable
// @Summary Finalize answer key
// @Tags answer-keys
// @Param id path uint true "Answer key ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /answer-keys/{id}/finalize [post]
func (h *AnswerKeyHandler) FinalizeAnswerKey(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Finalizing answer key", "key_id", id)

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	if err := h.answerKeyService.Finalize(c.Request.Context(), id, userID.(string)); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Answer key finalized",
	})
}

// ArchiveAnswerKey archives a key
// @Summary Archive answer key
// @Tags answer-keys
// @Param id path uint true "Answer key ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Router /answer-keys/{id}/archive [post]
func (h *AnswerKeyHandler) ArchiveAnswerKey(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Archiving answer key", "key_id", id)

	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Message: "User not authenticated",
		})
		return
	}

	if err := h.answerKeyService.Archive(c.Request.Context(), id, userID.(string)); err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Answer key archived",
	})
}

// GetAnswerKeyStats returns answer key statistics
// @Summary Get answer key stats
// @Tags answer-keys
// @Produce json
// @Param id path uint true "Answer key ID"
// @Success 200 {object} repositories.KeyStats
// @Failure 404 {object} ErrorResponse
// @Router /answer-keys/{id}/stats [get]
func (h *AnswerKeyHandler) GetAnswerKeyStats(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Getting answer key stats", "key_id", id)

	stats, err := h.answerKeyService.GetStats(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ===== HELPER METHODS =====

func (h *AnswerKeyHandler) parseAnswerKeyFilters(c *gin.Context) repositories.AnswerKeyFilters {
	limit, offset := h.parsePagination(c)

	filters := repositories.AnswerKeyFilters{
		Limit:     limit,
		Offset:    offset,
		SortBy:    c.DefaultQuery("sort_by", "created_at"),
		SortOrder: c.DefaultQuery("sort_order", "desc"),
	}

	if status := c.Query("status"); status != "" {
		keyStatus := models.KeyStatus(status)
		filters.Status = &keyStatus
	}
	if creatorID := c.Query("creator_id"); creatorID != "" {
		filters.CreatedBy = &creatorID
	}
	if from := c.Query("date_from"); from != "" {
		if parsed, err := time.Parse(time.RFC3339, from); err == nil {
			filters.DateFrom = &parsed
		}
	}
	if to := c.Query("date_to"); to != "" {
		if parsed, err := time.Parse(time.RFC3339, to); err == nil {
			filters.DateTo = &parsed
		}
	}

	return filters
}
