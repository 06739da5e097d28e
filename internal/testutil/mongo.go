package testutil

import (
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// GetMongoURI starts MongoDB and returns a mongodb:// URI.
func GetMongoURI(t *testing.T) string {
	t.Helper()
	endpoint := start(t, "mongo:7",
		testcontainers.WithExposedPorts("27017/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("27017/tcp"),
			wait.ForLog("Waiting for connections"),
		),
	)
	return fmt.Sprintf("mongodb://%s", endpoint)
}
