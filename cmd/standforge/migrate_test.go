package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/standforge/internal/migration"
)

func sqliteFlags(t *testing.T) []string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate.db")
	return []string{"--db-type", "sqlite", "--db-url", migration.BuildDatabaseURL(migration.DatabaseTypeSQLite, "", 0, path, "", "", "")}
}

func TestMigrate_UpStatusDown(t *testing.T) {
	ctx := context.Background()
	flags := sqliteFlags(t)
	var out bytes.Buffer

	require.NoError(t, migrate(ctx, append([]string{"up"}, flags...), &out))
	assert.Contains(t, out.String(), "Current version: 3")

	out.Reset()
	require.NoError(t, migrate(ctx, append([]string{"status"}, flags...), &out))
	assert.Contains(t, out.String(), "Total: 3, Applied: 3, Pending: 0")

	out.Reset()
	require.NoError(t, migrate(ctx, append([]string{"goto", "1"}, flags...), &out))
	assert.Contains(t, out.String(), "Current version: 1")
}

func TestMigrate_Errors(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer

	assert.ErrorContains(t, migrate(ctx, nil, &out), "missing migrate subcommand")
	assert.Contains(t, out.String(), "Database Migration Commands")

	assert.NoError(t, migrate(ctx, []string{"help"}, &out))
	assert.ErrorContains(t, migrate(ctx, []string{"sideways"}, &out), "unknown migrate subcommand")
	assert.ErrorContains(t, migrate(ctx, []string{"goto"}, &out), "usage: standforge migrate goto")
	assert.ErrorContains(t, migrate(ctx, []string{"up", "--db-type", "oracle", "--db-url", "x"}, &out), "create migrator")
}
