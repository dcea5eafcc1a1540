package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "sales_idempotency_key_key"})
	require.True(t, IsUniqueViolation(unique))
	require.Equal(t, "sales_idempotency_key_key", ConstraintName(unique))
	require.False(t, IsLockTimeout(unique))

	require.True(t, IsLockTimeout(&pgconn.PgError{Code: "55P03"}))
	require.True(t, IsCheckViolation(&pgconn.PgError{Code: "23514"}))
	require.False(t, IsUniqueViolation(errors.New("boom")))
}

func TestNumericRoundTrip(t *testing.T) {
	v := decimal.RequireFromString("1234.50")
	got, err := ParseNum(Num(v))
	require.NoError(t, err)
	require.True(t, v.Equal(got))

	none, err := ParseNullNum(nil)
	require.NoError(t, err)
	require.Nil(t, none)

	_, err = ParseNum("nope")
	require.Error(t, err)
}

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/pos", migrateURL("postgres://u:p@localhost:5432/pos"))
	require.Equal(t, "pgx5://localhost/pos", migrateURL("postgresql://localhost/pos"))
	require.Equal(t, "pgx5://already", migrateURL("pgx5://already"))
}
