// Package testutil starts throwaway backend containers for integration
// tests. Every helper skips the calling test when -short is set or when no
// container provider is reachable.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
)

// startupTimeout is generous on purpose for CI machines pulling images.
const startupTimeout = 3 * time.Minute

// start runs image and returns its host:port endpoint. The container is
// terminated when t finishes.
func start(t *testing.T, image string, opts ...testcontainers.ContainerCustomizer) string {
	t.Helper()

	if testing.Short() {
		t.Skipf("skipping %s container in -short mode", image)
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	c, err := testcontainers.Run(ctx, image, opts...)
	testcontainers.CleanupContainer(t, c)
	require.NoError(t, err, "start %s", image)

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}
