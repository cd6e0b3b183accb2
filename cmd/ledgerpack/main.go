// Command ledgerpack replays execution events through a deterministic ledger
// and builds, validates and replays content-addressed replay bundles.
package main

import (
	"os"

	"github.com/roach88/ledgerpack/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
