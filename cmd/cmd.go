// Package cmd implements the rulecheck subcommands.
package cmd

import (
	"grimm.is/rulecheck/internal/config"
	"grimm.is/rulecheck/internal/i18n"
	"grimm.is/rulecheck/internal/logging"
	"grimm.is/rulecheck/internal/state"
)

// Printer writes user-facing output in the caller's locale.
var Printer = i18n.NewCLIPrinter()

// setupLogging installs the default logger described by cfg.
func setupLogging(cfg *config.Logging) *logging.Logger {
	lc := logging.DefaultConfig()
	if cfg != nil {
		if level, err := logging.ParseLevel(cfg.Level); err == nil {
			lc.Level = level
		}
		lc.JSON = cfg.JSON
	}
	logger := logging.New(lc)
	logging.SetDefault(logger)
	return logger
}

// openPolicies opens the policy database at path.
func openPolicies(path string, logger *logging.Logger) (*state.SQLiteStore, *state.PolicyStore, error) {
	store, err := state.NewSQLiteStore(state.DefaultOptions(path))
	if err != nil {
		return nil, nil, err
	}
	return store, state.NewPolicyStore(store, logger.WithComponent("state")), nil
}
