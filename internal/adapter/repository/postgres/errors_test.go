package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iho/transferengine/internal/domain"
)

func TestMapError(t *testing.T) {
	plain := errors.New("other")

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"nil", nil, nil},
		{"deadlock", &pgconn.PgError{Code: pgErrDeadlock}, domain.ErrConcurrencyConflict},
		{"serialization", &pgconn.PgError{Code: pgErrSerializationFailure}, domain.ErrConcurrencyConflict},
		{"lock not available", &pgconn.PgError{Code: pgErrLockNotAvailable}, domain.ErrConcurrencyConflict},
		{"connection exception", &pgconn.PgError{Code: "08006"}, domain.ErrStorageUnavailable},
		{"admin shutdown", &pgconn.PgError{Code: pgErrAdminShutdown}, domain.ErrStorageUnavailable},
		{"deadline", context.DeadlineExceeded, domain.ErrStorageUnavailable},
		{"unknown", plain, plain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err)
			if tt.wantErr == nil {
				if got != nil {
					t.Fatalf("expected nil, got %v", got)
				}
				return
			}
			if !errors.Is(got, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, got)
			}
		})
	}
}

func TestMapErrorKeepsDriverError(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "08006", Message: "connection failure"}
	got := mapError(pgErr)

	var unwrapped *pgconn.PgError
	if !errors.As(got, &unwrapped) {
		t.Fatalf("expected wrapped pg error, got %v", got)
	}
	if domain.KindOf(got) != domain.KindTransient {
		t.Fatalf("expected transient kind, got %v", domain.KindOf(got))
	}
}

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: pgErrUniqueViolation}) {
		t.Fatal("expected unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: pgErrDeadlock}) {
		t.Fatal("deadlock is not a unique violation")
	}
	if !isCheckViolation(&pgconn.PgError{Code: pgErrCheckViolation, ConstraintName: "accounts_balance_check"}, "accounts_balance_check") {
		t.Fatal("expected check violation")
	}
}
