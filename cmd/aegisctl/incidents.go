package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/aegisflow/aegis/internal/bus"
	"github.com/aegisflow/aegis/internal/eventstore"
	"github.com/aegisflow/aegis/internal/external"
	aerrors "github.com/aegisflow/aegis/pkg/errors"
)

// runIncidents dispatches "incidents list|verify|repair" against a
// freshly-opened Event Store — an offline diagnostic path, never the
// live process serve hosts.
func runIncidents(args []string) error {
	if len(args) < 1 {
		return aerrors.New("aegisctl.incidents", aerrors.KindValidation, "expected a subcommand: list, verify, or repair")
	}

	ctx := context.Background()
	pool, cfg, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	var regions []string
	if cfg.EventStoreRegions != "" {
		regions = strings.Split(cfg.EventStoreRegions, ",")
	}

	store := eventstore.New(pool, bus.NewMessageBus(1), cfg.EventStoreMaxAppendRetries, cfg.EventRetentionDays,
		cfg.EventStoreReplicationTimeoutMS, regions)

	// The CLI's diagnostic mode never has a real cross-region replica
	// SDK in scope (spec.md's non-goal on per-cloud SDK bindings), so
	// "repair" below only succeeds against data this same process wrote
	// into the in-memory region store during this invocation — its real
	// use is exercising RepairFromReplica's logic against a store a
	// production deployment wires to actual replicated storage.
	store.SetReplicaWriter(external.NewMemRegionStore())

	switch args[0] {
	case "list":
		return runIncidentsList(ctx, store, args[1:])
	case "verify":
		return runIncidentsVerify(ctx, store, args[1:])
	case "repair":
		return runIncidentsRepair(ctx, store, args[1:])
	default:
		return aerrors.Newf("aegisctl.incidents", aerrors.KindValidation, "unknown incidents subcommand %q", args[0])
	}
}

func runIncidentsList(ctx context.Context, store *eventstore.Store, args []string) error {
	fs := flag.NewFlagSet("incidents list", flag.ContinueOnError)
	incidentID := fs.String("incident", "", "incident ID to list")
	from := fs.Uint64("from", 0, "list events from this sequence number onward")
	if err := fs.Parse(args); err != nil {
		return aerrors.Wrap(err, "aegisctl.incidents.list", aerrors.KindValidation, "flag parse failed")
	}
	if *incidentID == "" {
		return aerrors.New("aegisctl.incidents.list", aerrors.KindValidation, "-incident is required")
	}

	events, err := store.GetEvents(ctx, *incidentID, *from)
	if err != nil {
		return err
	}
	return printJSON(events)
}

func runIncidentsVerify(ctx context.Context, store *eventstore.Store, args []string) error {
	fs := flag.NewFlagSet("incidents verify", flag.ContinueOnError)
	incidentID := fs.String("incident", "", "incident ID to verify; omit to scan every incident for corruption")
	if err := fs.Parse(args); err != nil {
		return aerrors.Wrap(err, "aegisctl.incidents.verify", aerrors.KindValidation, "flag parse failed")
	}

	if *incidentID == "" {
		corrupt, err := store.DetectCorruption(ctx)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"corrupt_incidents": corrupt})
	}

	ok, err := store.VerifyIntegrity(ctx, *incidentID)
	if err != nil {
		return err
	}
	if !ok {
		return aerrors.Newf("aegisctl.incidents.verify", aerrors.KindCorruption, "incident %s failed hash-chain verification", *incidentID)
	}
	fmt.Fprintf(os.Stdout, "incident %s: chain intact\n", *incidentID)
	return nil
}

func runIncidentsRepair(ctx context.Context, store *eventstore.Store, args []string) error {
	fs := flag.NewFlagSet("incidents repair", flag.ContinueOnError)
	incidentID := fs.String("incident", "", "incident ID to repair")
	region := fs.String("region", "", "replica region to repair from")
	if err := fs.Parse(args); err != nil {
		return aerrors.Wrap(err, "aegisctl.incidents.repair", aerrors.KindValidation, "flag parse failed")
	}
	if *incidentID == "" || *region == "" {
		return aerrors.New("aegisctl.incidents.repair", aerrors.KindValidation, "-incident and -region are required")
	}

	if err := store.RepairFromReplica(ctx, *incidentID, *region); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "incident %s: repaired from region %s\n", *incidentID, *region)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
