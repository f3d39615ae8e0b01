package cmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"grimm.is/rulecheck/internal/brand"
	"grimm.is/rulecheck/internal/logging"
	"grimm.is/rulecheck/internal/policy"
	"grimm.is/rulecheck/internal/rulecheck"
	"grimm.is/rulecheck/internal/scheduler"
	"grimm.is/rulecheck/internal/state"
)

// RunPolicy handles the policy database subcommands:
//
//	policy [-db path] import <file.json>
//	policy [-db path] list
//	policy [-db path] remove <id>
//	policy [-db path] disable-all on|off
//	policy [-db path] map <domain> <addr>...
//	policy [-db path] unmap <domain>
//	policy [-db path] mappings
func RunPolicy(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("policy", flag.ContinueOnError)
	fs.SetOutput(out)
	dbPath := fs.String("db", brand.DefaultStateFile(), "Policy database")
	if err := fs.Parse(args); err != nil {
		return err
	}
	args = fs.Args()
	if len(args) == 0 {
		return policyUsage()
	}

	store, policies, err := openPolicies(*dbPath, logging.Default())
	if err != nil {
		return err
	}
	defer store.Close()

	switch args[0] {
	case "import":
		if len(args) != 2 {
			return policyUsage()
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		var list []*policy.Policy
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("failed to parse %s: %w", args[1], err)
		}
		for _, p := range list {
			if err := policies.Put(p); err != nil {
				return err
			}
		}
		Printer.Fprintf(out, "Imported %d policies\n", len(list))

	case "list":
		list, err := policies.LoadActivePolicies(context.Background(), rulecheck.LoadOptions{IncludeDisabled: true})
		if err != nil {
			return err
		}
		sched := scheduler.NewEvaluator(nil, nil, logging.Discard())
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tACTION\tTARGET\tDIRECTION\tDISABLED\tNEXT")
		for _, p := range list {
			next := "-"
			if at, ok := sched.NextActivation(p); ok {
				next = at.Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\t%s\n",
				p.ID, p.Type, p.EffectiveAction(), p.Target, p.Direction, p.Disabled, next)
		}
		return w.Flush()

	case "remove":
		if len(args) != 2 {
			return policyUsage()
		}
		return policies.Remove(args[1])

	case "disable-all":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			return policyUsage()
		}
		return policies.SetGloballyDisabled(args[1] == "on")

	case "map":
		if len(args) < 3 {
			return policyUsage()
		}
		return state.NewMappingStore(store, logging.Default()).Record(args[1], args[2:])

	case "unmap":
		if len(args) != 2 {
			return policyUsage()
		}
		return state.NewMappingStore(store, logging.Default()).Forget(args[1])

	case "mappings":
		all, err := state.NewMappingStore(store, logging.Default()).List()
		if err != nil {
			return err
		}
		domains := make([]string, 0, len(all))
		for d := range all {
			domains = append(domains, d)
		}
		sort.Strings(domains)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DOMAIN\tADDRESSES")
		for _, d := range domains {
			fmt.Fprintf(w, "%s\t%s\n", d, strings.Join(all[d], ","))
		}
		return w.Flush()

	default:
		return policyUsage()
	}
	return nil
}

func policyUsage() error {
	return fmt.Errorf("usage: %s policy [-db path] import <file.json> | list | remove <id> | disable-all on|off | map <domain> <addr>... | unmap <domain> | mappings", brand.BinaryName)
}
