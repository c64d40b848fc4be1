//go:build integration

package database_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"3tcapital/ms_facturacion_sunat/internal/infrastructure/database"
	"3tcapital/ms_facturacion_sunat/internal/testutil"
)

func TestRunMigrationsRecordsVersions(t *testing.T) {
	pool := testutil.NewPostgresPool(t)
	ctx := context.Background()

	// The pool already ran every migration once; a second run is a no-op.
	require.NoError(t, database.RunMigrations(ctx, pool, testutil.NewNullLogger()))

	var applied int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, len(database.Migrations()), applied)

	for table, column := range map[string]string{
		"operation_log":       "actor",
		"electronic_document": "sanitized_xml",
	} {
		var exists bool
		require.NoError(t, pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = $1 AND column_name = $2
			)`, table, column).Scan(&exists))
		assert.True(t, exists, "%s.%s", table, column)
	}
}
