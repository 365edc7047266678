package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestInsufficientStockIsValidation(t *testing.T) {
	err := fmt.Errorf("add line: %w", &InsufficientStockError{ItemID: "inv-1", Requested: 3, Available: 2})

	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock match")
	}
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation match")
	}
	if errors.Is(err, ErrPersistence) {
		t.Fatalf("did not expect ErrPersistence match")
	}
}

func TestPersistenceErrorUnwrapsCause(t *testing.T) {
	err := &PersistenceError{Op: "create sale", Err: context.DeadlineExceeded}

	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence match")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cause to be reachable")
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("did not expect ErrValidation match")
	}
}
