package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// GetPostgresDSN starts Postgres and returns a pgx connection URL.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()
	endpoint := start(t, "postgres:16",
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("ready to accept connections"),
				wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
					return fmt.Sprintf("postgres://bgwork:bgwork@%s:%s/bgwork_test?sslmode=disable", host, port.Port())
				}).WithQuery("SELECT 1"),
			).WithDeadline(2*time.Minute),
		),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "bgwork",
			"POSTGRES_PASSWORD": "bgwork",
			"POSTGRES_DB":       "bgwork_test",
		}),
	)
	return fmt.Sprintf("postgres://bgwork:bgwork@%s/bgwork_test?sslmode=disable", endpoint)
}
