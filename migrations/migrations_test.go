package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "pgx5://app:secret@db:5432/orders?sslmode=disable",
		DatabaseURL("postgres://app:secret@db:5432/orders?sslmode=disable"))
	assert.Equal(t, "pgx5://db/orders", DatabaseURL("postgresql://db/orders"))
	assert.Equal(t, "pgx5://db/orders", DatabaseURL("pgx5://db/orders"))
}

func TestEmbeddedFilesArePaired(t *testing.T) {
	t.Parallel()

	entries, err := files.ReadDir(".")
	require.NoError(t, err)

	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	assert.Positive(t, ups)
	assert.Equal(t, ups, downs)
}
