package services

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/mcqkit/correction-service/internal/cache"
	"github.com/mcqkit/correction-service/internal/events"
	"github.com/mcqkit/correction-service/internal/validator"
)

func newTestServiceManager(t *testing.T) ServiceManager {
	t.Helper()
	repo := newMockRepository()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewDefaultServiceManager(nil, repo, logger, validator.New(), events.NewMockEventPublisher(logger), cache.NewCacheManager(nil))
}

func TestServiceManagerInitialize(t *testing.T) {
	sm := newTestServiceManager(t)

	if err := sm.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if sm.AnswerKey() == nil {
		t.Error("expected answer key service after initialization")
	}
	if sm.Ingest() == nil {
		t.Error("expected ingest service after initialization")
	}
	if sm.Reconcile() == nil {
		t.Error("expected reconcile service after initialization")
	}
	if sm.Ledger() == nil {
		t.Error("expected ledger service after initialization")
	}
	if sm.Report() == nil {
		t.Error("expected report service after initialization")
	}

	// Initialize is idempotent
	if err := sm.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
}

func TestServiceManagerGetterPanicsBeforeInitialize(t *testing.T) {
	sm := newTestServiceManager(t)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic accessing service before Initialize")
		}
	}()
	sm.Ledger()
}

func TestServiceManagerHealthCheck(t *testing.T) {
	sm := newTestServiceManager(t)

	if err := sm.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check failure before initialization")
	}

	if err := sm.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := sm.HealthCheck(context.Background()); err != nil {
		t.Errorf("health check failed: %v", err)
	}

	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := sm.HealthCheck(context.Background()); err == nil {
		t.Error("expected health check failure after shutdown")
	}

	// Shutdown is idempotent
	if err := sm.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown failed: %v", err)
	}
}

func TestServiceManagerWithTimeout(t *testing.T) {
	sm, ok := newTestServiceManager(t).(*serviceManager)
	if !ok {
		t.Fatal("expected *serviceManager")
	}

	ctx, cancel := sm.WithTimeout(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected deadline on derived context")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > 30*time.Second {
		t.Errorf("unexpected deadline %v from now", remaining)
	}
}
