package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestClient starts a throwaway PostgreSQL container, points a real
// Client at it, and lets NewClient apply the embedded migrations — so
// every test using it exercises the exact schema the binary ships with,
// not a hand-maintained test fixture.
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
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

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	client, err := NewClient(ctx, Config{DatabaseURL: connStr})
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client
}

func TestDatabaseClient_ConnectionPool(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Pool.Ping(ctx))

	health, err := Health(ctx, client.Pool)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxConns, int32(0))
}

func TestDatabaseClient_MigrationsCreateActionRegistryTable(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	// The action_registry table is created by an embedded migration, not
	// by this test — a successful scan here proves NewClient actually ran
	// the migrations against the container rather than just connecting.
	var count int
	err := client.Pool.QueryRow(ctx, `SELECT count(*) FROM action_registry`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Host:     "localhost",
				Port:     5432,
				User:     "test",
				Password: "test",
				Database: "test",
				SSLMode:  "disable",
				MaxConns: 10,
				MinConns: 2,
			},
			wantErr: false,
		},
		{
			name: "min conns exceed max conns",
			cfg: Config{
				Host:     "localhost",
				Port:     5432,
				User:     "test",
				Password: "test",
				Database: "test",
				MaxConns: 5,
				MinConns: 10,
			},
			wantErr: true,
		},
		{
			name: "zero max conns",
			cfg: Config{
				Host:     "localhost",
				Port:     5432,
				User:     "test",
				Password: "test",
				Database: "test",
				MaxConns: 0,
				MinConns: 0,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
