package db

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pricing/internal/db/migrations"
)

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/toko", MigrateURL("postgres://u:p@localhost:5432/toko"))
	require.Equal(t, "pgx5://localhost/toko", MigrateURL("postgresql://localhost/toko"))
	require.Equal(t, "pgx5://localhost/toko", MigrateURL("pgx5://localhost/toko"))
}

func TestMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrations.FS, "*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrations.FS, "*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	require.Len(t, downs, len(ups))
}
