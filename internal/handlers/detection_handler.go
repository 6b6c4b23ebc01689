package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcqkit/correction-service/internal/models"
	"github.com/mcqkit/correction-service/internal/services"
	"github.com/mcqkit/correction-service/internal/utils"
	"github.com/mcqkit/correction-service/internal/validator"
)

// DetectionHandler covers scan batch ingest and reconciliation
type DetectionHandler struct {
	BaseHandler
	ingestService    services.IngestService
	reconcileService services.ReconcileService
	validator        *validator.Validator
}

func NewDetectionHandler(
	ingestService services.IngestService,
	reconcileService services.ReconcileService,
	validator *validator.Validator,
	logger utils.Logger,
) *DetectionHandler {
	return &DetectionHandler{
		BaseHandler:      NewBaseHandler(logger),
		ingestService:    ingestService,
		reconcileService: reconcileService,
		validator:        validator,
	}
}

// IngestBatch ingests one scan-engine output batch
// @Summary Ingest detection batch
// @Description Stores the detection records of one scan-engine run against a finalized answer key
// @Tags detections
// @Accept json
// @Produce json
// @Param batch body models.DetectionBatchInput true "Detection batch data"
// @Success 201 {object} services.IngestResult
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /detections/batches [post]
func (h *DetectionHandler) IngestBatch(c *gin.Context) {
	var input models.DetectionBatchInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Ingesting detection batch",
		"answer_key_id", input.AnswerKeyID,
		"records", len(input.Records))

	result, err := h.ingestService.IngestBatch(c.Request.Context(), &input)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetBatch retrieves a detection batch by ID
// @Summary Get detection batch
// @Tags detections
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} models.DetectionBatch
// @Failure 404 {object} ErrorResponse
// @Router /detections/batches/{id} [get]
func (h *DetectionHandler) GetBatch(c *gin.Context) {
	batchID := c.Param("id")
	if batchID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Batch ID is required",
		})
		return
	}

	h.LogRequest(c, "Getting detection batch", "batch_id", batchID)

	batch, err := h.ingestService.GetBatch(c.Request.Context(), batchID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, batch)
}

// GetBatchesByKey lists batches ingested against one answer key
// @Summary Get batches by answer key
// @Tags detections
// @Produce json
// @Param key_id path uint true "Answer key ID"
// @Success 200 {array} models.DetectionBatch
// @Failure 404 {object} ErrorResponse
// @Router /detections/batches/key/{key_id} [get]
func (h *DetectionHandler) GetBatchesByKey(c *gin.Context) {
	keyID := h.parseIDParam(c, "key_id")
	if keyID == 0 {
		return
	}

	h.LogRequest(c, "Getting batches by key", "key_id", keyID)

	batches, err := h.ingestService.GetBatchesByKey(c.Request.Context(), keyID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, batches)
}

// GetUnresolvedRecords lists records still missing a student identifier
// @Summary Get unresolved records
// @Tags detections
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {array} models.DetectionRecord
// @Failure 404 {object} ErrorResponse
// @Router /detections/batches/{id}/unresolved [get]
func (h *DetectionHandler) GetUnresolvedRecords(c *gin.Context) {
	batchID := c.Param("id")
	if batchID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Batch ID is required",
		})
		return
	}

	h.LogRequest(c, "Getting unresolved records", "batch_id", batchID)

	records, err := h.ingestService.GetUnresolvedRecords(c.Request.Context(), batchID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, records)
}

// ResolveStudentRequest attributes a scanned sheet to a student
type ResolveStudentRequest struct {
	ScanRef   string `json:"scan_ref" binding:"required"`
	StudentID string `json:"student_id" binding:"required"`
}

// ResolveStudent assigns a student to the unresolved records of one scan
// @Summary Resolve student for a scan
// @Description Claims every unresolved record under the scan reference for the given student
// @Tags detections
// @Accept json
// @Produce json
// @Param id path string true "Batch ID"
// @Param request body ResolveStudentRequest true "Resolution data"
// @Success 200 {object} map[string]interface{} "Resolved record count"
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /detections/batches/{id}/resolve [post]
func (h *DetectionHandler) ResolveStudent(c *gin.Context) {
	batchID := c.Param("id")
	if batchID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Batch ID is required",
		})
		return
	}

	var req ResolveStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Resolving student for scan",
		"batch_id", batchID,
		"scan_ref", req.ScanRef,
		"student_id", req.StudentID)

	resolved, err := h.ingestService.ResolveStudent(c.Request.Context(), batchID, req.ScanRef, req.StudentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"batch_id":   batchID,
		"scan_ref":   req.ScanRef,
		"student_id": req.StudentID,
		"resolved":   resolved,
	})
}

// ReconcileBatch runs the reconciliation engine over one batch
// @Summary Reconcile detection batch
// @Description Turns each detection record of the batch into a decision, a review flag, or a skip
// @Tags detections
// @Accept json
// @Produce json
// @Param request body services.ReconcileRequest true "Reconcile request"
// @Success 200 {object} services.BatchSummary
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /detections/reconcile [post]
func (h *DetectionHandler) ReconcileBatch(c *gin.Context) {
	var req services.ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Invalid request payload",
			Details: err.Error(),
		})
		return
	}

	h.LogRequest(c, "Reconciling batch", "batch_id", req.BatchID)

	summary, err := h.reconcileService.ReconcileBatch(c.Request.Context(), &req)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}

// ReconcileRecord applies the engine to a single record
// @Summary Reconcile one record
// @Tags detections
// @Produce json
// @Param id path uint true "Detection record ID"
// @Success 200 {object} services.RecordOutcome
// @Failure 404 {object} ErrorResponse
// @Router /detections/records/{id}/reconcile [post]
func (h *DetectionHandler) ReconcileRecord(c *gin.Context) {
	id := h.parseIDParam(c, "id")
	if id == 0 {
		return
	}

	h.LogRequest(c, "Reconciling record", "record_id", id)

	outcome, err := h.reconcileService.ReconcileRecord(c.Request.Context(), id, nil)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}
