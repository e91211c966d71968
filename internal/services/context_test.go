package services_test

import (
	"context"
	"testing"

	"discnorm/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRunID(ctx, "run-123")
	ctx = services.WithGroup(ctx, "Game (USA)")
	ctx = services.WithStage(ctx, "extract")

	if id, ok := services.RunIDFromContext(ctx); !ok || id != "run-123" {
		t.Fatalf("unexpected run id: %v %v", id, ok)
	}
	if group, ok := services.GroupFromContext(ctx); !ok || group != "Game (USA)" {
		t.Fatalf("unexpected group: %v %v", group, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "extract" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	ctx = services.WithGroup(ctx, "")
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.GroupFromContext(ctx); ok {
		t.Fatal("expected no group value")
	}
}
