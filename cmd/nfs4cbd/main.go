// Command nfs4cbd is a demonstration host for the callback engine: it
// loads configuration, wires the configured tuning into the engine,
// and serves Prometheus metrics. The engine itself is a library meant
// to be driven by a server's forward-path handlers (RunCB/ProbeCallback/
// ChangeCallback/ShutdownCallback); this binary exists to show that
// wiring and to give the metrics registry somewhere to run.
package main

import (
	"fmt"
	"os"

	"github.com/marmos91/nfs4cb/cmd/nfs4cbd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
