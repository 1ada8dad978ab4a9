package app

import (
	"io/fs"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/noah-isme/backend-eushop/internal/obs"
	"github.com/noah-isme/backend-eushop/migrations"
)

func TestMigrationURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@db:5432/shop?sslmode=disable": "pgx5://u:p@db:5432/shop?sslmode=disable",
		"postgresql://db/shop":                        "pgx5://db/shop",
		"pgx5://db/shop":                              "pgx5://db/shop",
	}
	for in, want := range tests {
		require.Equal(t, want, MigrationURL(in))
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	ups, err := fs.Glob(migrations.FS, "*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrations.FS, "*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	require.Len(t, downs, len(ups))
}

func TestInitMetersReplacesNoopCounters(t *testing.T) {
	prev := obs.CheckoutCounter
	t.Cleanup(func() { obs.CheckoutCounter = prev })

	InitMeters("eushop-test", zerolog.Nop())
	_, stillNoop := obs.CheckoutCounter.(noop.Int64Counter)
	require.False(t, stillNoop)
}
