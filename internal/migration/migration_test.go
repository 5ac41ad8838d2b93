package migration

import (
	"io/fs"
	"testing"

	"github.com/smallbiznis/feedbackhub/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = true
	}
	assert.True(t, names["0001_create_feedbacks.up.sql"])
	assert.True(t, names["0001_create_feedbacks.down.sql"])
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	conn := db.NewTest(t)

	require.NoError(t, EnsureSchema(conn))
	require.NoError(t, EnsureSchema(conn))
	assert.True(t, conn.Migrator().HasTable("feedbacks"))
}
