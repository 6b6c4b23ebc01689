package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/casdoor/casdoor-go-sdk/casdoorsdk"
	"github.com/gin-gonic/gin"

	"github.com/mcqkit/correction-service/internal/config"
	"github.com/mcqkit/correction-service/internal/models"
	"github.com/mcqkit/correction-service/internal/repositories"
)

// Gin context keys set by the auth middleware.
const (
	ctxKeyUserID    = "user_id"
	ctxKeyUser      = "user"
	ctxKeyUserRole  = "user_role"
	ctxKeyUserEmail = "user_email"
)

// CasdoorAuthMiddleware authenticates requests with Casdoor-issued JWTs and
// resolves the caller into a models.User on the request context.
type CasdoorAuthMiddleware struct {
	client   *casdoorsdk.Client
	userRepo repositories.UserRepository
}

func NewCasdoorAuthMiddleware(cfg config.CasdoorConfig, userRepo repositories.UserRepository) *CasdoorAuthMiddleware {
	return &CasdoorAuthMiddleware{
		client: casdoorsdk.NewClient(
			cfg.Endpoint,
			cfg.ClientID,
			cfg.ClientSecret,
			cfg.Cert,
			cfg.Application,
			cfg.Organization,
		),
		userRepo: userRepo,
	}
}

func abortWith(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": code, "message": message})
	c.Abort()
}

// AuthMiddleware validates the bearer token and stores the resolved user on
// the context under the ctxKey* keys.
func (am *CasdoorAuthMiddleware) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWith(c, http.StatusUnauthorized, "unauthorized", "missing or malformed authorization header")
			return
		}

		claims, err := am.client.ParseJwtToken(token)
		if err != nil {
			abortWith(c, http.StatusUnauthorized, "unauthorized", fmt.Sprintf("invalid token: %v", err))
			return
		}

		user, err := am.resolveUser(c.Request.Context(), claims)
		if err != nil {
			abortWith(c, http.StatusUnauthorized, "unauthorized", err.Error())
			return
		}

		c.Set(ctxKeyUserID, user.ID)
		c.Set(ctxKeyUser, user)
		c.Set(ctxKeyUserRole, user.Role)
		c.Set(ctxKeyUserEmail, user.Email)

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", false
	}
	return token, true
}

// RequireRoleMiddleware gates a route on the caller's role. Admins pass every
// gate.
func (am *CasdoorAuthMiddleware) RequireRoleMiddleware(roles ...models.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, err := GetUserRoleFromContext(c)
		if err != nil {
			abortWith(c, http.StatusForbidden, "forbidden", err.Error())
			return
		}

		if role != models.RoleAdmin {
			allowed := false
			for _, r := range roles {
				if role == r {
					allowed = true
					break
				}
			}
			if !allowed {
				abortWith(c, http.StatusForbidden, "forbidden",
					fmt.Sprintf("insufficient permissions, required role: %v", roles))
				return
			}
		}

		c.Next()
	}
}

// resolveUser prefers the repository (cache or Casdoor lookup) and falls back
// to the token claims when the directory is unreachable, so a Casdoor outage
// does not lock correctors out of the service.
func (am *CasdoorAuthMiddleware) resolveUser(ctx context.Context, claims *casdoorsdk.Claims) (*models.User, error) {
	if claims.Id == "" {
		return nil, fmt.Errorf("token carries no user id")
	}

	if user, err := am.userRepo.GetByID(ctx, claims.Id); err == nil {
		return user, nil
	}

	avatar := claims.User.Avatar
	now := time.Now()
	return &models.User{
		ID:            claims.Id,
		FullName:      claims.User.DisplayName,
		Email:         claims.User.Email,
		Role:          claimsRole(claims.User.Type),
		AvatarURL:     &avatar,
		EmailVerified: true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func claimsRole(userType string) models.UserRole {
	switch strings.ToLower(userType) {
	case "admin", "administrator":
		return models.RoleAdmin
	case "corrector", "grader", "reviewer", "teacher":
		return models.RoleCorrector
	default:
		return models.RoleViewer
	}
}

// GetUserFromContext returns the authenticated user set by AuthMiddleware.
func GetUserFromContext(c *gin.Context) (*models.User, error) {
	v, exists := c.Get(ctxKeyUser)
	if !exists {
		return nil, fmt.Errorf("no authenticated user on context")
	}
	user, ok := v.(*models.User)
	if !ok {
		return nil, fmt.Errorf("unexpected user type on context")
	}
	return user, nil
}

func GetUserIDFromContext(c *gin.Context) (string, error) {
	v, exists := c.Get(ctxKeyUserID)
	if !exists {
		return "", fmt.Errorf("no authenticated user on context")
	}
	id, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("unexpected user id type on context")
	}
	return id, nil
}

func GetUserRoleFromContext(c *gin.Context) (models.UserRole, error) {
	v, exists := c.Get(ctxKeyUserRole)
	if !exists {
		return "", fmt.Errorf("no user role on context")
	}
	role, ok := v.(models.UserRole)
	if !ok {
		return "", fmt.Errorf("unexpected user role type on context")
	}
	return role, nil
}
