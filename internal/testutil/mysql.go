package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/go-sql-driver/mysql"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// GetMySQLDSN starts MySQL and returns a go-sql-driver DSN.
func GetMySQLDSN(t *testing.T) string {
	t.Helper()
	endpoint := start(t, "mysql:8.4",
		testcontainers.WithExposedPorts("3306/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("3306/tcp"),
				wait.ForSQL("3306/tcp", "mysql", func(host string, port nat.Port) string {
					return fmt.Sprintf("bgwork:bgwork@tcp(%s:%s)/bgwork_test", host, port.Port())
				}).WithQuery("SELECT 1"),
			).WithDeadline(2*time.Minute),
		),
		testcontainers.WithEnv(map[string]string{
			"MYSQL_ROOT_PASSWORD": "root",
			"MYSQL_USER":          "bgwork",
			"MYSQL_PASSWORD":      "bgwork",
			"MYSQL_DATABASE":      "bgwork_test",
		}),
	)
	return fmt.Sprintf("bgwork:bgwork@tcp(%s)/bgwork_test?parseTime=true", endpoint)
}
