package main

import (
	"fmt"
	"os"

	"myhook/internal/server/cli"
)

// Set at build time with -ldflags "-X main.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	cli.SetVersion(Version, GitCommit, BuildTime)

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "myhook: %v\n", err)
		os.Exit(1)
	}
}
