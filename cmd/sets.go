package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"grimm.is/rulecheck/internal/config"
	"grimm.is/rulecheck/internal/firewall"
	"grimm.is/rulecheck/internal/logging"
)

// RunSets prints the member count of the named sets, or of the whole
// catalogue when names is empty. With members set, every member is listed.
func RunSets(ctx context.Context, configFile string, names []string, members bool, out io.Writer) error {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.Logging)

	ids := firewall.Catalogue()
	if len(names) > 0 {
		ids = ids[:0:0]
		for _, name := range names {
			id, err := firewall.ParseSetID(name)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
	}

	lister, _, err := kernelDeps(cfg.RuleCheck, logger)
	if err != nil {
		return err
	}
	cache := firewall.NewSetCache(lister, logging.Discard(), nil)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SET\tMEMBERS")
	for _, id := range ids {
		snap, err := cache.Read(ctx, id)
		if err != nil {
			return err
		}
		if snap.Unavailable {
			fmt.Fprintf(w, "%s\tunavailable\n", id)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\n", id, len(snap.Members))
		if members {
			for _, m := range snap.Members {
				fmt.Fprintf(w, "\t%s\n", m)
			}
		}
	}
	return w.Flush()
}
