package casdoor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/redis/go-redis/v9"

	"github.com/mcqkit/correction-service/internal/models"
	"github.com/mcqkit/correction-service/internal/repositories"
)

// CasdoorConfig holds the connection settings for the Casdoor identity provider.
type CasdoorConfig struct {
	Endpoint         string
	ClientID         string
	ClientSecret     string
	Certificate      string
	OrganizationName string
	ApplicationName  string
}

const (
	userCachePrefix = "corrector:user:"
	userCacheTTL    = 15 * time.Minute
)

// userDirectory implements repositories.UserRepository on top of Casdoor.
// The correction service does not own user data; lookups go to Casdoor and
// are cached in Redis for a short window.
type userDirectory struct {
	client *casdoorsdk.Client
	redis  *redis.Client
}

func NewUserCasdoor(config CasdoorConfig, redisClient *redis.Client) repositories.UserRepository {
	return &userDirectory{
		client: casdoorsdk.NewClient(
			config.Endpoint,
			config.ClientID,
			config.ClientSecret,
			config.Certificate,
			config.OrganizationName,
			config.ApplicationName,
		),
		redis: redisClient,
	}
}

func (d *userDirectory) cacheGet(ctx context.Context, key string) *models.User {
	if d.redis == nil {
		return nil
	}
	data, err := d.redis.Get(ctx, userCachePrefix+key).Bytes()
	if err != nil {
		return nil
	}
	var user models.User
	if json.Unmarshal(data, &user) != nil {
		return nil
	}
	return &user
}

// cachePut stores the user under both its id and email keys so either lookup
// path hits. Cache failures are ignored; Casdoor remains the source of truth.
func (d *userDirectory) cachePut(ctx context.Context, user *models.User) {
	if d.redis == nil || user == nil {
		return
	}
	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	d.redis.Set(ctx, userCachePrefix+"id:"+user.ID, data, userCacheTTL)
	if user.Email != "" {
		d.redis.Set(ctx, userCachePrefix+"email:"+user.Email, data, userCacheTTL)
	}
}

func toUser(cu *casdoorsdk.User) *models.User {
	if cu == nil {
		return nil
	}

	var createdAt, updatedAt time.Time
	if cu.CreatedTime != "" {
		createdAt, _ = time.Parse(time.RFC3339, cu.CreatedTime)
	}
	if cu.UpdatedTime != "" {
		updatedAt, _ = time.Parse(time.RFC3339, cu.UpdatedTime)
	}

	return &models.User{
		ID:            cu.Id,
		FullName:      cu.DisplayName,
		Email:         cu.Email,
		Role:          resolveRole(cu),
		AvatarURL:     &cu.Avatar,
		EmailVerified: cu.EmailVerified,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
}

// resolveRole collapses the Casdoor role list into the single strongest role
// the correction service understands. Admin beats corrector beats viewer.
func resolveRole(cu *casdoorsdk.User) models.UserRole {
	if cu.IsAdmin {
		return models.RoleAdmin
	}

	role := models.RoleViewer
	for _, r := range cu.Roles {
		switch mapRoleName(r.Name) {
		case models.RoleAdmin:
			return models.RoleAdmin
		case models.RoleCorrector:
			role = models.RoleCorrector
		}
	}
	return role
}

func mapRoleName(name string) models.UserRole {
	switch strings.ToLower(name) {
	case "admin", "administrator":
		return models.RoleAdmin
	case "corrector", "grader", "reviewer", "teacher":
		return models.RoleCorrector
	default:
		return models.RoleViewer
	}
}

func (d *userDirectory) GetByID(ctx context.Context, id string) (*models.User, error) {
	if user := d.cacheGet(ctx, "id:"+id); user != nil {
		return user, nil
	}

	cu, err := d.client.GetUserByUserId(id)
	if err != nil {
		return nil, fmt.Errorf("casdoor: lookup user %s: %w", id, err)
	}
	if cu == nil {
		return nil, fmt.Errorf("user %s: %w", id, repositories.ErrNotFound)
	}

	user := toUser(cu)
	d.cachePut(ctx, user)
	return user, nil
}

func (d *userDirectory) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if user := d.cacheGet(ctx, "email:"+email); user != nil {
		return user, nil
	}

	cu, err := d.client.GetUserByEmail(email)
	if err != nil {
		return nil, fmt.Errorf("casdoor: lookup user by email: %w", err)
	}
	if cu == nil {
		return nil, fmt.Errorf("user %s: %w", email, repositories.ErrNotFound)
	}

	user := toUser(cu)
	d.cachePut(ctx, user)
	return user, nil
}

// GetByIDs resolves each id individually, skipping users that cannot be
// found. Callers use this for display-name enrichment, not authorization.
func (d *userDirectory) GetByIDs(ctx context.Context, ids []string) ([]*models.User, error) {
	users := make([]*models.User, 0, len(ids))
	for _, id := range ids {
		user, err := d.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				continue
			}
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (d *userDirectory) ExistsByID(ctx context.Context, id string) (bool, error) {
	_, err := d.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (d *userDirectory) HasRole(ctx context.Context, id string, role models.UserRole) (bool, error) {
	user, err := d.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return user.Role == role, nil
}

func (d *userDirectory) List(ctx context.Context, filters repositories.UserFilters) ([]*models.User, int64, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	// Casdoor pages are 1-indexed.
	page := filters.Offset/limit + 1

	query := map[string]string{}
	if filters.Query != "" {
		query["field"] = "email"
		query["value"] = filters.Query
	}

	casdoorUsers, count, err := d.client.GetPaginationUsers(page, limit, query)
	if err != nil {
		return nil, 0, fmt.Errorf("casdoor: list users: %w", err)
	}

	users := make([]*models.User, 0, len(casdoorUsers))
	for _, cu := range casdoorUsers {
		if user := toUser(cu); user != nil {
			users = append(users, user)
			d.cachePut(ctx, user)
		}
	}
	return users, int64(count), nil
}
