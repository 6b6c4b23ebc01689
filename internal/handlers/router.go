package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/mcqkit/correction-service/internal/config"
	"github.com/mcqkit/correction-service/internal/models"
	"github.com/mcqkit/correction-service/internal/repositories"
	"github.com/mcqkit/correction-service/internal/services"
	"github.com/mcqkit/correction-service/internal/utils"
	"github.com/mcqkit/correction-service/internal/validator"
)

type HandlerManager struct {
	answerKeyHandler *AnswerKeyHandler
	detectionHandler *DetectionHandler
	reviewHandler    *ReviewHandler
	reportHandler    *ReportHandler
	userHandler      *UserHandler
	authMiddleware   *CasdoorAuthMiddleware
}

func NewHandlerManager(
	serviceManager services.ServiceManager,
	validator *validator.Validator,
	logger utils.Logger,
	casdoorConfig config.CasdoorConfig,
	userRepo repositories.UserRepository,
) *HandlerManager {
	authMiddleware := NewCasdoorAuthMiddleware(casdoorConfig, userRepo)

	return &HandlerManager{
		answerKeyHandler: NewAnswerKeyHandler(serviceManager.AnswerKey(), validator, logger),
		detectionHandler: NewDetectionHandler(serviceManager.Ingest(), serviceManager.Reconcile(), validator, logger),
		reviewHandler:    NewReviewHandler(serviceManager.Ledger(), validator, logger),
		reportHandler:    NewReportHandler(serviceManager.Report(), logger),
		userHandler:      NewUserHandler(userRepo, logger),
		authMiddleware:   authMiddleware,
	}
}

// SetupRoutes sets up all API routes
func (hm *HandlerManager) SetupRoutes(router *gin.Engine) {
	// API v1 routes with authentication
	v1 := router.Group("/api/v1")
	v1.Use(hm.authMiddleware.AuthMiddleware())
	{
		// Answer key routes
		keys := v1.Group("/answer-keys")
		{
			// Create/modify keys - Correctors and Admins only
			keys.POST("", hm.authMiddleware.RequireRoleMiddleware(models.RoleCorrector, models.RoleAdmin), hm.answerKeyHandler.CreateAnswerKey)
			keys.PUT("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleCorrector, models.RoleAdmin), hm.answerKeyHandler.UpdateAnswerKey)
			keys.DELETE("/:id", hm.authMiddleware.RequireRoleMiddleware(models.RoleCorrector, models.RoleAdmin), hm.answerKeyHandler.DeleteAnswerKey)
			keys.POST("/:id/finalize", hm.authMiddleware.RequireRoleMiddleware(models.RoleCorrector, models.RoleAdmin), hm.answerKeyHandler.FinalizeAnswerKey)
			keys.POST("/:id/archive", hm.authMiddleware.RequireRoleMiddleware(models.RoleCorrector, models.RoleAdmin), hm.answerKeyHandler.ArchiveAnswerKey)

			// View keys - All authenticated users
			keys.GET("", hm.answerKeyHandler.ListAnswerKeys)
			keys.GET("/:id", hm.answerKeyHandler.GetAnswerKey)
			keys.GET("/:id/questions", hm.answerKeyHandler.GetAnswerKeyWithQuestions)
			keys.GET("/:id/stats", hm.answerKeyHandler.GetAnswerKeyStats)

			keys.GET("/creator/:creator_id", hm.authMiddleware.RequireRoleMiddleware(models.RoleCorrector, models.RoleAdmin), hm.answerKeyHandler.GetAnswerKeysByCreator)
		}

		// Detection routes - Correctors and Admins only
		detections := v1.Group("/detections")
		detections.Use(hm.authMiddleware.RequireRoleMiddleware(models.RoleCorrector, models.RoleAdmin))
		{
			detections.POST("/batches", hm.detectionHandler.IngestBatch)
			detections.GET("/batches/:id", hm.detectionHandler.GetBatch)
			detections.GET("/batches/:id/unresolved", hm.detectionHandler.GetUnresolvedRecords)
			detections.POST("/batches/:id/resolve", hm.detectionHandler.ResolveStudent)
			detections.GET("/batches/key/:key_id", hm.detectionHandler.GetBatchesByKey)

			detections.POST("/reconcile", hm.detectionHandler.ReconcileBatch)
			detections.POST("/records/:id/reconcile", hm.detectionHandler.ReconcileRecord)
		}

		// Review routes
		review := v1.Group("/review")
		{
			// Overrides - Correctors and Admins only
			review.POST("/:key_id/override", hm.authMiddleware.RequireRoleMiddleware(models.RoleCorrector, models.RoleAdmin), hm.reviewHandler.ApplyOverride)

			// Ledger reads - All authenticated users
			review.GET("/:key_id/pending", hm.reviewHandler.GetPendingReview)
			review.GET("/:key_id/students/:student_id/questions/:label/history", hm.reviewHandler.GetDecisionHistory)
			review.GET("/:key_id/students/:student_id/questions/:label/current", hm.reviewHandler.GetCurrentDecision)
		}

		// Report routes
		reports := v1.Group("/reports")
		{
			reports.GET("/:key_id/students/:student_id", hm.reportHandler.GetStudentResult)
			reports.GET("/:key_id/results", hm.reportHandler.GetAllResults)
			reports.GET("/:key_id/overview", hm.reportHandler.GetOverview)

			// Exports - Correctors and Admins only
			reports.GET("/:key_id/export", hm.authMiddleware.RequireRoleMiddleware(models.RoleCorrector, models.RoleAdmin), hm.reportHandler.ExportResults)
		}

		// User routes
		users := v1.Group("/users")
		{
			users.GET("", hm.userHandler.ListUsers)
			users.GET("/:id", hm.userHandler.GetUser)
		}
	}

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "correction-service",
		})
	})
}
