// Package database provides the testcontainers-backed PostgreSQL harness for
// pkg/store's integration tests, grounded on the teacher's test/database
// client.
package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/longformai/coherence/pkg/store"
)

// NewTestClient creates a test store.Client. In CI (when CI is set) it
// connects to an external PostgreSQL service container; locally it
// spins up a throwaway testcontainer. Either way, store.NewClient applies the
// embedded migrations before handing back a ready client, and the underlying
// container/pool is cleaned up via t.Cleanup.
func NewTestClient(t *testing.T) *store.Client {
	t.Helper()
	ctx := context.Background()

	cfg := store.Config{
		User: "test", Password: "test", Database: "test", SSLMode: "disable",
		MaxConns: 5, MinConns: 1, ConnMaxLifetime: time.Hour, ConnMaxIdleTime: 15 * time.Minute,
	}

	if os.Getenv("CI") != "" {
		// CI mode: an external PostgreSQL service container is already up;
		// the usual DB_* env vars (same ones cmd/coherence reads) point at it.
		t.Log("using external PostgreSQL from DB_* environment variables")
		ciCfg, err := store.LoadConfigFromEnv()
		require.NoError(t, err)
		client, err := store.NewClient(ctx, ciCfg)
		require.NoError(t, err)
		t.Cleanup(client.Close)
		return client
	}

	t.Log("using testcontainers for PostgreSQL")
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(cfg.Database),
		postgres.WithUsername(cfg.User),
		postgres.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	cfg.Host = host
	cfg.Port = port.Int()

	client, err := store.NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}
