package main

import (
	"fmt"
	"os"

	"tunnelproxy/internal/client/cli"
	"tunnelproxy/internal/shared/constants"
)

var (
	Version   = constants.ClientVersion
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	cli.SetVersion(Version, GitCommit, BuildTime)

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
