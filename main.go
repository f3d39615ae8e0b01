package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"grimm.is/rulecheck/cmd"
	"grimm.is/rulecheck/internal/brand"
	"grimm.is/rulecheck/internal/i18n"
)

var printer = i18n.NewCLIPrinter()

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runFlags := flag.NewFlagSet("run", flag.ExitOnError)
		configFile := runFlags.String("config", brand.DefaultConfigFile(), "Configuration file")
		runFlags.StringVar(configFile, "c", brand.DefaultConfigFile(), "Configuration file (short)")
		stateFile := runFlags.String("db", brand.DefaultStateFile(), "Policy database")
		listenAddr := runFlags.String("listen", "", "Serve /metrics and health endpoints on this address (e.g. :9108)")
		runFlags.Parse(os.Args[2:])

		if err := cmd.RunDaemon(cmd.RunOptions{
			ConfigFile: *configFile,
			StateFile:  *stateFile,
			ListenAddr: *listenAddr,
		}); err != nil {
			printer.Fprintf(os.Stderr, "Run failed: %v\n", err)
			os.Exit(1)
		}

	case "check":
		checkFlags := flag.NewFlagSet("check", flag.ExitOnError)
		verbose := checkFlags.Bool("verbose", false, "Print the normalized configuration")
		checkFlags.BoolVar(verbose, "v", false, "Verbose output (short)")
		showDiff := checkFlags.Bool("diff", false, "Show how the file differs from its normalized form")
		write := checkFlags.Bool("write", false, "Rewrite the file in normalized form")
		checkFlags.Parse(os.Args[2:])

		configFile := brand.DefaultConfigFile()
		if len(checkFlags.Args()) > 0 {
			configFile = checkFlags.Arg(0)
		}
		if err := cmd.RunCheck(configFile, cmd.CheckOptions{Verbose: *verbose, Diff: *showDiff, Write: *write}, os.Stdout); err != nil {
			printer.Fprintf(os.Stderr, "Check failed: %v\n", err)
			os.Exit(1)
		}

	case "pass":
		passFlags := flag.NewFlagSet("pass", flag.ExitOnError)
		configFile := passFlags.String("config", brand.DefaultConfigFile(), "Configuration file")
		passFlags.StringVar(configFile, "c", brand.DefaultConfigFile(), "Configuration file (short)")
		stateFile := passFlags.String("db", brand.DefaultStateFile(), "Policy database")
		asJSON := passFlags.Bool("json", false, "Print the pass report as JSON")
		passFlags.Parse(os.Args[2:])

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		err := cmd.RunPass(ctx, cmd.PassOptions{
			ConfigFile: *configFile,
			StateFile:  *stateFile,
			JSON:       *asJSON,
		}, os.Stdout)
		stop()
		if err != nil {
			printer.Fprintf(os.Stderr, "Pass failed: %v\n", err)
			os.Exit(1)
		}

	case "sets":
		setsFlags := flag.NewFlagSet("sets", flag.ExitOnError)
		configFile := setsFlags.String("config", brand.DefaultConfigFile(), "Configuration file")
		setsFlags.StringVar(configFile, "c", brand.DefaultConfigFile(), "Configuration file (short)")
		members := setsFlags.Bool("members", false, "List every member")
		setsFlags.Parse(os.Args[2:])

		if err := cmd.RunSets(context.Background(), *configFile, setsFlags.Args(), *members, os.Stdout); err != nil {
			printer.Fprintf(os.Stderr, "Sets failed: %v\n", err)
			os.Exit(1)
		}

	case "policy":
		if err := cmd.RunPolicy(os.Args[2:], os.Stdout); err != nil {
			printer.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}

	case "version":
		printer.Printf("%s %s (%s)\n", brand.Name, brand.Version, brand.GitCommit)

	case "help", "-h", "--help":
		printUsage()

	default:
		printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printer.Printf("%s - %s\n\n", brand.Name, brand.Description)
	printer.Printf("Usage: %s <command> [options]\n\n", brand.BinaryName)
	printer.Println("Commands:")
	printer.Println("  run      Run the periodic checker in the foreground")
	printer.Println("  check    Validate a configuration file")
	printer.Println("  pass     Run one reconciliation pass now and print the verdicts")
	printer.Println("  sets     Show the member counts of the kernel sets")
	printer.Println("  policy   Manage the policy database")
	printer.Println("  version  Print the version")
}
