package main

import (
	"github.com/startgrid/startgrid/internal/cli/cmd"
)

// Build-time variables (set via ldflags).
var version = "dev"

func main() {
	cmd.SetVersion(version)
	cmd.Execute()
}
