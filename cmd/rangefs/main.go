package main

import (
	"fmt"
	"os"

	"rangefs/internal/cli"
)

// Set by ldflags at release time.
var version = "dev"

func main() {
	cli.SetVersion(version)
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
