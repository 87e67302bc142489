package main

// Flag names for Viper binding, matching the CLI surface in the driver's
// external-interfaces contract.
const (
	FlagProject           = "project"
	FlagConfig            = "config"
	FlagMaxIterations     = "max-iterations"
	FlagModel             = "model"
	FlagPrompt            = "prompt"
	FlagTimeout           = "timeout"
	FlagMaxBudget         = "max-budget"
	FlagDryRun            = "dry-run"
	FlagVerbose           = "verbose"
	FlagJSONLog           = "json-log"
	FlagSmokeTest         = "smoke-test"
	FlagNoStagnationCheck = "no-stagnation-check"
	FlagSkipPreflight     = "skip-preflight"
)
