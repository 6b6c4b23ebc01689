package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// SafeInvalidatePattern safely invalidates cache pattern with logging
func SafeInvalidatePattern(ctx context.Context, helper *CacheHelper, pattern string) {
	if err := helper.InvalidatePattern(ctx, pattern); err != nil {
		slog.ErrorContext(ctx, "Failed to invalidate cache pattern",
			"error", err,
			"pattern", pattern)
	}
}

// SafeDelete safely deletes cache keys with logging
func SafeDelete(ctx context.Context, helper *CacheHelper, keys ...string) {
	if err := helper.Delete(ctx, keys...); err != nil {
		slog.ErrorContext(ctx, "Failed to delete cache keys",
			"error", err,
			"keys", keys)
	}
}

// InvalidateKeyCache invalidates all answer-key-related caches
func InvalidateKeyCache(ctx context.Context, cm *CacheManager, keyID uint) {
	SafeDelete(ctx, cm.Key,
		fmt.Sprintf("id:%d", keyID),
		fmt.Sprintf("questions:%d", keyID))
	SafeInvalidatePattern(ctx, cm.Stats, fmt.Sprintf("key:%d:*", keyID))
}

// InvalidateResultCache invalidates computed results after an override lands.
// Per-student when the student is known, otherwise the whole key.
func InvalidateResultCache(ctx context.Context, cm *CacheManager, keyID uint, studentID string) {
	if studentID != "" {
		SafeDelete(ctx, cm.Result, fmt.Sprintf("key:%d:student:%s", keyID, studentID))
	} else {
		SafeInvalidatePattern(ctx, cm.Result, fmt.Sprintf("key:%d:*", keyID))
	}
	SafeInvalidatePattern(ctx, cm.Stats, fmt.Sprintf("key:%d:*", keyID))
}
