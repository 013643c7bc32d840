package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestNoTx_RunsFn(t *testing.T) {
	called := false
	err := NoTx{}.InTx(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected fn to be called")
	}
}

func TestNoTx_PropagatesError(t *testing.T) {
	want := errors.New("boom")
	if err := (NoTx{}).InTx(context.Background(), func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}

func TestConn_WithoutTxReturnsPool(t *testing.T) {
	if q := Conn(context.Background(), nil); q == nil {
		t.Fatal("expected a non-nil Querier interface value")
	}
}

func TestNotFound(t *testing.T) {
	if err := NotFound(pgx.ErrNoRows); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := NotFound(fmt.Errorf("scan: %w", pgx.ErrNoRows)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected wrapped ErrNoRows to map to ErrNotFound, got %v", err)
	}
	other := errors.New("timeout")
	if err := NotFound(other); err != other {
		t.Errorf("expected passthrough, got %v", err)
	}
	if NotFound(nil) != nil {
		t.Error("expected nil for nil")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "diagnoses_xray_id_key"})

	if !IsUniqueViolation(err, "") {
		t.Error("expected unique violation")
	}
	if !IsUniqueViolation(err, "diagnoses_xray_id_key") {
		t.Error("expected match on constraint name")
	}
	if IsUniqueViolation(err, "other_key") {
		t.Error("expected no match on other constraint")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Error("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(errors.New("plain"), "") {
		t.Error("plain error is not a unique violation")
	}
}

func TestErrNotFound_HTTPStatus(t *testing.T) {
	err := fmt.Errorf("patient 123: %w", ErrNotFound)
	var coded interface{ Status() int }
	if !errors.As(err, &coded) || coded.Status() != 404 {
		t.Errorf("expected wrapped ErrNotFound to carry 404")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("expected errors.Is to match")
	}
}
