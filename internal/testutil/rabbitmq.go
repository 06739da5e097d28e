package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// GetRabbitMQURL starts RabbitMQ and returns an amqp:// URL for the default
// guest account.
func GetRabbitMQURL(t *testing.T) string {
	t.Helper()
	endpoint := start(t, "rabbitmq:3.13-alpine",
		testcontainers.WithExposedPorts("5672/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5672/tcp"),
				wait.ForLog("Server startup complete"),
			).WithDeadline(2*time.Minute),
		),
	)
	return fmt.Sprintf("amqp://guest:guest@%s/", endpoint)
}
