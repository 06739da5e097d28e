package worker_test

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/petrijr/bgwork/pkg/api"
	"github.com/petrijr/bgwork/pkg/worker"
)

// ExampleLoop runs a Loop over a fixed item stream. The second item fails
// once and succeeds on its retry.
func ExampleLoop() {
	failedOnce := false
	handler := api.HandlerFunc[string](func(ctx context.Context, item string) error {
		if item == "flaky" && !failedOnce {
			failedOnce = true
			return fmt.Errorf("temporary failure for %s", item)
		}
		fmt.Println("handled", item)
		return nil
	})

	cfg := worker.DefaultConfig[string]()
	cfg.RetryDelay = 10 * time.Millisecond

	loop, err := worker.New("example", api.Singleton[string](handler), cfg, nil)
	if err != nil {
		panic(err)
	}

	_ = loop.Run(context.Background(), slices.Values([]string{"first", "flaky", "last"}))

	// Output:
	// handled first
	// handled flaky
	// handled last
}
