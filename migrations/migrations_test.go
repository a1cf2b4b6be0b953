package migrations

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(files, "sql/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(files, "sql/*.down.sql")
	require.NoError(t, err)

	assert.NotEmpty(t, ups)
	assert.Equal(t, len(ups), len(downs))
}

func TestDatabaseURL(t *testing.T) {
	assert.Equal(t, "postgres://user:pass@db:5432/metrics", databaseURL("user:pass@db:5432/metrics"))
	assert.Equal(t, "postgres://db/metrics?sslmode=disable", databaseURL("postgres://db/metrics?sslmode=disable"))
}
