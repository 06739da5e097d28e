package main

import (
	"fmt"
	"os"

	"github.com/petrijr/bgwork/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "bgwork:", err)
		os.Exit(1)
	}
}
