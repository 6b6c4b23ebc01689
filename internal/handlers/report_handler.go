package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mcqkit/correction-service/internal/services"
	"github.com/mcqkit/correction-service/internal/utils"
)

// ReportHandler covers score aggregation, exports and correction statistics
type ReportHandler struct {
	BaseHandler
	reportService services.ReportService
}

func NewReportHandler(reportService services.ReportService, logger utils.Logger) *ReportHandler {
	return &ReportHandler{
		BaseHandler:   NewBaseHandler(logger),
		reportService: reportService,
	}
}

// GetStudentResult computes one student's result from current decisions
// @Summary Get student result
// @Tags reports
// @Produce json
// @Param key_id path uint true "Answer key ID"
// @Param student_id path string true "Student ID"
// @Success 200 {object} models.StudentResult
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /reports/{key_id}/students/{student_id} [get]
func (h *ReportHandler) GetStudentResult(c *gin.Context) {
	keyID := h.parseIDParam(c, "key_id")
	if keyID == 0 {
		return
	}
	studentID := c.Param("student_id")
	if studentID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Student ID is required",
		})
		return
	}

	h.LogRequest(c, "Getting student result",
		"key_id", keyID,
		"student_id", studentID)

	result, err := h.reportService.Aggregate(c.Request.Context(), keyID, studentID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetAllResults computes results for every student on the key
// @Summary Get all results
// @Tags reports
// @Produce json
// @Param key_id path uint true "Answer key ID"
// @Success 200 {object} services.AggregateAllResult
// @Failure 404 {object} ErrorResponse
// @Router /reports/{key_id}/results [get]
func (h *ReportHandler) GetAllResults(c *gin.Context) {
	keyID := h.parseIDParam(c, "key_id")
	if keyID == 0 {
		return
	}

	h.LogRequest(c, "Getting all results", "key_id", keyID)

	results, err := h.reportService.AggregateAll(c.Request.Context(), keyID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, results)
}

// ExportResults downloads all results in CSV or XLSX
// @Summary Export results
// @Tags reports
// @Produce application/octet-stream
// @Param key_id path uint true "Answer key ID"
// @Param format query string false "Export format (csv or xlsx)" default(csv)
// @Success 200 {file} binary
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /reports/{key_id}/export [get]
func (h *ReportHandler) ExportResults(c *gin.Context) {
	keyID := h.parseIDParam(c, "key_id")
	if keyID == 0 {
		return
	}

	format := c.DefaultQuery("format", "csv")
	h.LogRequest(c, "Exporting results", "key_id", keyID, "format", format)

	switch format {
	case "csv":
		data, err := h.reportService.ExportCSV(c.Request.Context(), keyID)
		if err != nil {
			h.handleServiceError(c, err)
			return
		}
		filename := fmt.Sprintf("results_key_%d.csv", keyID)
		c.Header("Content-Disposition", "attachment; filename="+filename)
		c.Data(http.StatusOK, "text/csv", data)

	case "xlsx":
		data, err := h.reportService.ExportXLSX(c.Request.Context(), keyID)
		if err != nil {
			h.handleServiceError(c, err)
			return
		}
		filename := fmt.Sprintf("results_key_%d.xlsx", keyID)
		c.Header("Content-Disposition", "attachment; filename="+filename)
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)

	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: "Unsupported export format",
			Details: "format must be csv or xlsx",
		})
	}
}

// GetOverview returns correction progress statistics for one key
// @Summary Get correction overview
// @Tags reports
// @Produce json
// @Param key_id path uint true "Answer key ID"
// @Success 200 {object} repositories.CorrectionStats
// @Failure 404 {object} ErrorResponse
// @Router /reports/{key_id}/overview [get]
func (h *ReportHandler) GetOverview(c *gin.Context) {
	keyID := h.parseIDParam(c, "key_id")
	if keyID == 0 {
		return
	}

	h.LogRequest(c, "Getting correction overview", "key_id", keyID)

	stats, err := h.reportService.GetOverview(c.Request.Context(), keyID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
