// Command zappend is the CLI entry point (spec §6): it resolves
// configuration and slice arguments, then drives pkg/processor exactly
// the way the programmatic `process(slices, config, **overrides)`
// function does.
package main

import (
	"fmt"
	"os"

	"github.com/bcdev/zappend/cmd/zappend/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "zappend:", err)
		os.Exit(1)
	}
}
