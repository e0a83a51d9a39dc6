package main

import (
	"os"

	"github.com/pageforge/buildstream/internal/infrastructure/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
