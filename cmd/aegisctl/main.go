// Command aegisctl is the module's single binary: it hosts the
// running replica set (serve), and offers offline diagnostics against
// the Event Store and Consensus Store (incidents, consensus) — three
// subcommand groups dispatched by flag.NewFlagSet rather than a
// subcommand framework, matching the teacher's cmd/*/main.go style.
package main

import (
	"fmt"
	"os"

	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(aerrors.KindValidation.ExitCode())
	}

	var err error
	switch os.Args[1] {
	case "incidents":
		err = runIncidents(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "consensus":
		err = runConsensus(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(aerrors.KindValidation.ExitCode())
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "aegisctl:", err)
		os.Exit(aerrors.KindOf(err).ExitCode())
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: aegisctl <command> [flags]

commands:
  incidents list   -incident <id>           list an incident's event log
  incidents verify -incident <id>           verify one incident's hash chain
  incidents repair -incident <id> -region <r> repair a corrupted incident from a replica region
  serve                                     host the replica set, consensus cluster, and coordinator
  consensus dump   -incident <id> [-limit n] dump recorded consensus rounds for an incident`)
}
