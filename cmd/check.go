package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/rulecheck/internal/brand"
	"grimm.is/rulecheck/internal/config"
)

// CheckOptions selects the extra output of RunCheck.
type CheckOptions struct {
	// Verbose prints the normalized configuration.
	Verbose bool
	// Diff prints how the file differs from its normalized form.
	Diff bool
	// Write replaces an HCL file with its normalized form.
	Write bool
}

// RunCheck validates the configuration file and prints a summary.
func RunCheck(configFile string, opts CheckOptions, out io.Writer) error {
	if configFile == "" {
		return fmt.Errorf("usage: %s check [-v] [-diff] [-write] <config-file>", brand.BinaryName)
	}

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	rc := cfg.RuleCheck
	Printer.Fprintf(out, "Configuration valid!\n")
	Printer.Fprintf(out, "Enabled: %v\n", rc.IsEnabled())
	Printer.Fprintf(out, "Interval: %s\n", rc.IntervalDuration())
	Printer.Fprintf(out, "Startup delay: %s\n", rc.StartupDelayDuration())
	Printer.Fprintf(out, "Backend: %s\n", rc.Backend)
	Printer.Fprintf(out, "Self domains: %d\n", len(rc.SelfDomains))
	Printer.Fprintf(out, "DNS servers: %d\n", len(rc.DNS.Servers))

	if opts.Verbose {
		Printer.Fprintln(out)
		out.Write(config.GenerateHCL(cfg))
	}
	if opts.Diff {
		if err := printNormalizeDiff(configFile, cfg, out); err != nil {
			return err
		}
	}
	if opts.Write {
		if strings.ToLower(filepath.Ext(configFile)) == ".json" {
			return fmt.Errorf("refusing to rewrite %s as HCL", configFile)
		}
		if err := config.SaveHCL(cfg, configFile); err != nil {
			return err
		}
		Printer.Fprintf(out, "Wrote %s\n", configFile)
	}
	return nil
}

func printNormalizeDiff(configFile string, cfg *config.Config, out io.Writer) error {
	original, err := os.ReadFile(configFile)
	if err != nil {
		return err
	}
	normalized := string(config.GenerateHCL(cfg))
	if string(original) == normalized {
		Printer.Fprintf(out, "\nAlready normalized.\n")
		return nil
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(original)),
		B:        difflib.SplitLines(normalized),
		FromFile: configFile,
		ToFile:   "Normalized",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return err
	}
	Printer.Fprintln(out)
	io.WriteString(out, text)
	return nil
}
