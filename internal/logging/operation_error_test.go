package logging

import (
	"errors"
	"testing"
)

func TestNewOperationErrorNil(t *testing.T) {
	if err := NewOperationError("op", "req", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorFormatting(t *testing.T) {
	base := errors.New("boom")

	withID := NewOperationError("repository.upsert", "req-1", base)
	if withID.Error() != "repository.upsert (request_id=req-1): boom" {
		t.Fatalf("unexpected message: %s", withID.Error())
	}
	if !errors.Is(withID, base) {
		t.Fatal("expected wrapped error to match base")
	}

	withoutID := NewOperationError("grpcclient.extract", "", base)
	if withoutID.Error() != "grpcclient.extract: boom" {
		t.Fatalf("unexpected message: %s", withoutID.Error())
	}
}

func TestOperationOfReturnsInnermost(t *testing.T) {
	inner := NewOperationError("repository.gallery_upsert", "req", errors.New("deadlock"))
	outer := NewOperationError("usecase.register", "req", inner)

	if got := OperationOf(outer); got != "repository.gallery_upsert" {
		t.Fatalf("unexpected operation: %s", got)
	}
	if got := OperationOf(errors.New("plain")); got != "" {
		t.Fatalf("expected empty operation, got %s", got)
	}
}

func TestRequestIDOf(t *testing.T) {
	inner := NewOperationError("repository.gallery_upsert", "", errors.New("deadlock"))
	outer := NewOperationError("usecase.register", "req-7", inner)

	if got := RequestIDOf(outer); got != "req-7" {
		t.Fatalf("unexpected request id: %s", got)
	}
	if got := RequestIDOf(inner); got != "" {
		t.Fatalf("expected empty request id, got %s", got)
	}
	if got := RequestIDOf(errors.New("plain")); got != "" {
		t.Fatalf("expected empty request id, got %s", got)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(-1) {
		t.Fatal("expected debug level to be enabled")
	}
}
