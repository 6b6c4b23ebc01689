package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/mcqkit/correction-service/internal/cache"
	"github.com/mcqkit/correction-service/internal/repositories"
	"github.com/mcqkit/correction-service/internal/repositories/casdoor"
)

// PostgreSQLRepository implements the main Repository interface
type PostgreSQLRepository struct {
	db           *gorm.DB
	redisClient  *redis.Client
	cacheManager *cache.CacheManager

	// Repository instances
	answerKey      repositories.AnswerKeyRepository
	question       repositories.QuestionRepository
	detectionBatch repositories.DetectionBatchRepository
	detection      repositories.DetectionRepository
	decision       repositories.DecisionRepository
	reviewFlag     repositories.ReviewFlagRepository
	user           repositories.UserRepository
}

// RepositoryConfig holds configuration for repository initialization
type RepositoryConfig struct {
	DB            *gorm.DB
	RedisClient   *redis.Client
	CasdoorConfig casdoor.CasdoorConfig
}

// NewPostgreSQLRepository creates a new repository manager with all sub-repositories
func NewPostgreSQLRepository(config RepositoryConfig) repositories.Repository {
	cacheManager := cache.NewCacheManager(config.RedisClient)

	repo := &PostgreSQLRepository{
		db:           config.DB,
		redisClient:  config.RedisClient,
		cacheManager: cacheManager,
	}

	repo.answerKey = NewAnswerKeyPostgreSQL(config.DB, config.RedisClient)
	repo.question = NewQuestionPostgreSQL(config.DB, config.RedisClient)
	repo.detectionBatch = NewDetectionBatchPostgreSQL(config.DB)
	repo.detection = NewDetectionPostgreSQL(config.DB, config.RedisClient)
	repo.decision = NewDecisionPostgreSQL(config.DB)
	repo.reviewFlag = NewReviewFlagPostgreSQL(config.DB)

	// User repository uses Casdoor
	repo.user = casdoor.NewUserCasdoor(config.CasdoorConfig, config.RedisClient)

	return repo
}

func (r *PostgreSQLRepository) AnswerKey() repositories.AnswerKeyRepository {
	return r.answerKey
}

func (r *PostgreSQLRepository) Question() repositories.QuestionRepository {
	return r.question
}

func (r *PostgreSQLRepository) DetectionBatch() repositories.DetectionBatchRepository {
	return r.detectionBatch
}

func (r *PostgreSQLRepository) Detection() repositories.DetectionRepository {
	return r.detection
}

func (r *PostgreSQLRepository) Decision() repositories.DecisionRepository {
	return r.decision
}

func (r *PostgreSQLRepository) ReviewFlag() repositories.ReviewFlagRepository {
	return r.reviewFlag
}

func (r *PostgreSQLRepository) User() repositories.UserRepository {
	return r.user
}

// WithTransaction runs fn inside a database transaction. The Repository handed
// to fn shares the transactional *gorm.DB, so all sub-repository calls join it.
func (r *PostgreSQLRepository) WithTransaction(ctx context.Context, fn func(repositories.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &PostgreSQLRepository{
			db:             tx,
			redisClient:    r.redisClient,
			cacheManager:   r.cacheManager,
			answerKey:      NewAnswerKeyPostgreSQL(tx, r.redisClient),
			question:       NewQuestionPostgreSQL(tx, r.redisClient),
			detectionBatch: NewDetectionBatchPostgreSQL(tx),
			detection:      NewDetectionPostgreSQL(tx, r.redisClient),
			decision:       NewDecisionPostgreSQL(tx),
			reviewFlag:     NewReviewFlagPostgreSQL(tx),
			user:           r.user,
		}
		return fn(txRepo)
	})
}

func (r *PostgreSQLRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (r *PostgreSQLRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// ===== REPOSITORY MANAGER =====

type RepositoryManager struct {
	config RepositoryConfig
	repo   repositories.Repository
}

func NewRepositoryManager(config RepositoryConfig) *RepositoryManager {
	return &RepositoryManager{config: config}
}

func (m *RepositoryManager) Initialize() error {
	if m.config.DB == nil {
		return fmt.Errorf("database connection is required")
	}
	m.repo = NewPostgreSQLRepository(m.config)
	return nil
}

func (m *RepositoryManager) GetRepository() repositories.Repository {
	return m.repo
}

func (m *RepositoryManager) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return m.repo.Ping(ctx)
}

func (m *RepositoryManager) Shutdown(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	return m.repo.Close()
}
