// Command validate-team-config checks a single team YAML file for
// semantic correctness, matching
// original_source/scripts/validate-team-config.py's CLI: one path
// argument, a human-readable report on success, and itemized errors on
// standard error with exit code 1 on failure.
package main

import (
	"fmt"
	"os"

	"github.com/nolanhq/stopgate/internal/teamconfig"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: validate-team-config <path-to-team.yaml>")
		os.Exit(1)
	}
	path := os.Args[1]

	if _, err := teamconfig.LoadFile(path); err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed for %s:\n", path)
		fmt.Fprintf(os.Stderr, "  - %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s is valid\n", path)
}
