package main

import (
	"context"
	"flag"

	"github.com/aegisflow/aegis/internal/consensus"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

// runConsensus dispatches "consensus dump" against the consensus
// store's recorded round/vote history.
func runConsensus(args []string) error {
	if len(args) < 1 || args[0] != "dump" {
		return aerrors.New("aegisctl.consensus", aerrors.KindValidation, "expected subcommand: dump")
	}

	fs := flag.NewFlagSet("consensus dump", flag.ContinueOnError)
	incidentID := fs.String("incident", "", "incident ID to dump rounds for")
	limit := fs.Int("limit", 50, "maximum rounds to return")
	if err := fs.Parse(args[1:]); err != nil {
		return aerrors.Wrap(err, "aegisctl.consensus.dump", aerrors.KindValidation, "flag parse failed")
	}
	if *incidentID == "" {
		return aerrors.New("aegisctl.consensus.dump", aerrors.KindValidation, "-incident is required")
	}

	ctx := context.Background()
	pool, _, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := consensus.NewStore(pool)
	rounds, err := store.DumpRounds(ctx, *incidentID, *limit)
	if err != nil {
		return err
	}
	return printJSON(rounds)
}
