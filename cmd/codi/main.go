// Command codi is the operator CLI for the agent runtime. It serves the
// API, manages users, and maintains cache snapshots.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", red("error:"), err)
		os.Exit(1)
	}
}
