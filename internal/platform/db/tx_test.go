package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil tx, got %v", tx)
	}
}

func TestConn_FallsBackWithoutTx(t *testing.T) {
	var fallback Querier
	if got := Conn(context.Background(), fallback); got != fallback {
		t.Error("expected fallback querier when no transaction is present")
	}
}

func TestUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "appointments_active_slot_key"}

	tests := []struct {
		name       string
		err        error
		want       bool
		constraint string
	}{
		{"direct", pgErr, true, "appointments_active_slot_key"},
		{"wrapped", fmt.Errorf("insert appointment: %w", pgErr), true, "appointments_active_slot_key"},
		{"other code", &pgconn.PgError{Code: "23503"}, false, ""},
		{"plain error", errors.New("boom"), false, ""},
		{"nil", nil, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			constraint, ok := UniqueViolation(tt.err)
			if ok != tt.want {
				t.Errorf("UniqueViolation() ok = %v, want %v", ok, tt.want)
			}
			if constraint != tt.constraint {
				t.Errorf("UniqueViolation() constraint = %q, want %q", constraint, tt.constraint)
			}
		})
	}
}
