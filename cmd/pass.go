package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"grimm.is/rulecheck/internal/config"
	"grimm.is/rulecheck/internal/firewall"
	"grimm.is/rulecheck/internal/logging"
	"grimm.is/rulecheck/internal/rulecheck"
	"grimm.is/rulecheck/internal/scheduler"
	"grimm.is/rulecheck/internal/services/dns"
	"grimm.is/rulecheck/internal/state"
)

// PassOptions configures a one-shot pass.
type PassOptions struct {
	ConfigFile string
	StateFile  string
	JSON       bool
}

// kernelDeps builds the set lister and resolver. Tests replace it.
var kernelDeps = func(cfg *config.RuleCheck, logger *logging.Logger) (firewall.SetLister, rulecheck.DomainResolver, error) {
	lister, err := firewall.NewSetLister(cfg.Backend, cfg.Table)
	if err != nil {
		return nil, nil, err
	}
	resolver, err := dns.NewResolver(cfg.DNS, logger.WithComponent("dns"))
	if err != nil {
		return nil, nil, err
	}
	return lister, resolver, nil
}

// reportOnly drops re-enforcement requests; the enforcement layer is not
// in this process.
type reportOnly struct{}

func (reportOnly) RequestReEnforcement(context.Context, rulecheck.Command) error { return nil }

// RunPass runs a single reconciliation pass right away and prints the
// verdicts.
func RunPass(ctx context.Context, opts PassOptions, out io.Writer) error {
	cfg, err := config.LoadFile(opts.ConfigFile)
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.Logging)

	store, policies, err := openPolicies(opts.StateFile, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	lister, resolver, err := kernelDeps(cfg.RuleCheck, logger)
	if err != nil {
		return err
	}
	if cfg.RuleCheck.Resolver == config.ResolverMapping {
		resolver = state.NewMappingStore(store, logger.WithComponent("state"))
	}

	rec, err := rulecheck.New(rulecheck.Config{
		SelfDomains:   cfg.RuleCheck.SelfDomains,
		SelfAddresses: cfg.RuleCheck.SelfAddresses,
	}, rulecheck.Deps{
		Switch:   policies,
		Policies: policies,
		Schedule: scheduler.NewEvaluator(nil, nil, logger),
		Resolver: resolver,
		Lister:   lister,
		Enforcer: reportOnly{},
		Logger:   logger.WithComponent("rulecheck"),
	})
	if err != nil {
		return err
	}

	report, err := rec.RunPass(ctx)
	if err != nil {
		return err
	}
	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(out, report)
	return nil
}

func printReport(out io.Writer, r *rulecheck.PassReport) {
	if r.Aborted {
		Printer.Fprintf(out, "Pass %s skipped: rules are globally disabled\n", r.ID)
		return
	}
	Printer.Fprintf(out, "Pass %s: %d loaded, %d eligible, %d drifted, %d failed, %d set queries\n",
		r.ID, r.Loaded, r.Eligible, r.Drifted, r.Failed, r.SetQueries)
	if len(r.Verdicts) == 0 {
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POLICY\tSTATUS\tSETS\tMISSING")
	for _, v := range r.Verdicts {
		status := "ok"
		if v.NeedsEnforcement {
			status = "DRIFT"
		}
		sets := make([]string, len(v.SetIDs))
		for i, id := range v.SetIDs {
			sets[i] = id.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.PolicyID, status, strings.Join(sets, ","), strings.Join(v.Missing, ","))
	}
	w.Flush()
}
