package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mcqkit/correction-service/internal/services"
	"github.com/mcqkit/correction-service/internal/utils"
)

// BaseHandler carries shared helpers embedded by every handler
type BaseHandler struct {
	logger utils.Logger
}

func NewBaseHandler(logger utils.Logger) BaseHandler {
	return BaseHandler{logger: logger}
}

// ErrorResponse is the uniform error payload
type ErrorResponse struct {
	Message string      `json:"message"`
	Details string      `json:"details,omitempty"`
	Errors  interface{} `json:"errors,omitempty"`
}

// SuccessResponse wraps data with an optional message
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func (h *BaseHandler) LogRequest(c *gin.Context, msg string, args ...any) {
	utils.GetLogger(c, h.logger).Info(msg, args...)
}

func (h *BaseHandler) LogError(c *gin.Context, err error, msg string, args ...any) {
	args = append(args, "error", err)
	utils.GetLogger(c, h.logger).Error(msg, args...)
}

// parseIDParam parses a numeric path parameter. On failure it writes the 400
// response itself and returns 0; callers just return.
func (h *BaseHandler) parseIDParam(c *gin.Context, name string) uint {
	value := c.Param(name)
	id, err := strconv.ParseUint(value, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid " + name + " parameter",
			Details: "must be a positive integer",
		})
		return 0
	}
	return uint(id)
}

// parsePagination reads page/size query params into limit and offset
func (h *BaseHandler) parsePagination(c *gin.Context) (limit, offset int) {
	page := 1
	size := 20

	if pageStr := c.Query("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if sizeStr := c.Query("size"); sizeStr != "" {
		if s, err := strconv.Atoi(sizeStr); err == nil && s > 0 && s <= 100 {
			size = s
		}
	}

	return size, (page - 1) * size
}

// handleServiceError maps service-layer errors onto HTTP responses
func (h *BaseHandler) handleServiceError(c *gin.Context, err error) {
	var malformedKey *services.MalformedKeyError
	var validationErrs *services.ValidationErrors
	var validationErr *services.ValidationError
	var businessErr *services.BusinessRuleError
	var permissionErr *services.PermissionError
	var conflictErr *services.ConcurrentOverrideConflict
	var incompleteErr *services.IncompleteDataError
	var unknownQuestion *services.UnknownQuestionError

	switch {
	case errors.As(err, &malformedKey):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: "Malformed answer key",
			Errors:  malformedKey.Errors,
		})

	case errors.As(err, &validationErrs):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Errors:  validationErrs.Errors,
		})

	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Validation failed",
			Errors:  []services.ValidationError{*validationErr},
		})

	case errors.As(err, &businessErr):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Message: businessErr.Message,
			Details: businessErr.Rule,
		})

	case errors.As(err, &permissionErr):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Message: "Permission denied",
			Details: permissionErr.Error(),
		})

	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Concurrent override conflict",
			Details: conflictErr.Error(),
			Errors:  conflictErr,
		})

	case errors.As(err, &incompleteErr):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: "Incomplete detection data",
			Details: incompleteErr.Error(),
			Errors:  incompleteErr,
		})

	case errors.As(err, &unknownQuestion):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: "Unknown question label",
			Details: unknownQuestion.Error(),
		})

	case errors.Is(err, services.ErrAnswerKeyNotFound),
		errors.Is(err, services.ErrQuestionNotFound),
		errors.Is(err, services.ErrBatchNotFound),
		errors.Is(err, services.ErrDecisionNotFound),
		errors.Is(err, services.ErrNoUnresolvedRecords),
		errors.Is(err, services.ErrUserNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Message: err.Error(),
		})

	case errors.Is(err, services.ErrKeyNotFinalized),
		errors.Is(err, services.ErrKeyAlreadyFinalized),
		errors.Is(err, services.ErrDuplicateScanRef):
		c.JSON(http.StatusConflict, ErrorResponse{
			Message: err.Error(),
		})

	default:
		h.LogError(c, err, "Unhandled service error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Message: "Internal server error",
		})
	}
}
