//go:build integration

package execlog_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gxo-labs/ruleflow/internal/execlog"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "ruleflow_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	return fmt.Sprintf("host=%s port=%s user=test password=test dbname=ruleflow_test sslmode=disable", host, port.Port())
}

func TestSQLStore_Postgres(t *testing.T) {
	dsn := startPostgres(t)
	ctx := context.Background()

	store, err := execlog.Open(ctx, execlog.DialectPostgres, dsn)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Migrate())

	require.NoError(t, store.Log(ctx, execlog.Record{
		RuleName:    "creditCheck",
		RequestID:   "req-pg",
		ProductCode: "LOAN",
		StepCode:    "CHECK",
		Status:      "SUCCESS",
		InputData:   `{"customerId": "c-1"}`,
		OutputData:  `{"approved": true}`,
		DurationMs:  12,
	}))

	recs, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "req-pg", recs[0].RequestID)
	assert.JSONEq(t, `{"approved": true}`, recs[0].OutputData)
	assert.WithinDuration(t, time.Now(), recs[0].ExecutedAt, time.Minute)
}
