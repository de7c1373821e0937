package db

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestMigrationsEmbedded(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	require.Equal(t, "0001_init", migrations[0].Version)
	require.Contains(t, migrations[0].SQL, "CREATE TABLE tenants")
	require.Contains(t, migrations[0].SQL, "last_accrual_period DATE")
}

func TestLoadMigrationsSortsAndSkipsNonSQL(t *testing.T) {
	fsys := fstest.MapFS{
		"m/0002_b.sql":   {Data: []byte("SELECT 2;")},
		"m/0001_a.sql":   {Data: []byte("SELECT 1;")},
		"m/README.md":    {Data: []byte("notes")},
		"m/nested/x.sql": {Data: []byte("SELECT 3;")},
	}
	migrations, err := loadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	require.Equal(t, "0001_a", migrations[0].Version)
	require.Equal(t, "0002_b", migrations[1].Version)
}
