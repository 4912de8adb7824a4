package config

import (
	"os"
	"strconv"
)

// ApplyEnvVars applies MYCELIUM_* overrides on top of whatever file layers
// have already been merged into cfg, matching the teacher's explicit
// env-var-mapping layer (internal/config/envvars.go).
func ApplyEnvVars(cfg *Config) {
	if v := os.Getenv("MYCELIUM_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxParallel = n
		}
	}
	if v := os.Getenv("MYCELIUM_BRANCH_PREFIX"); v != "" {
		cfg.BranchPrefix = v
	}
	if v := os.Getenv("MYCELIUM_MAIN_BRANCH"); v != "" {
		cfg.MainBranch = v
	}
	if v := os.Getenv("MYCELIUM_SCOPE_MODE"); v != "" {
		cfg.ScopeMode = v
	}
	if v := os.Getenv("MYCELIUM_MANIFEST_ENFORCEMENT"); v != "" {
		cfg.Manifest.Enforcement = ManifestEnforcement(v)
	}
	if v := os.Getenv("MYCELIUM_BUDGET_MODE"); v != "" {
		cfg.Budgets.Mode = BudgetMode(v)
	}
	if v := os.Getenv("MYCELIUM_MAX_TOKENS_PER_TASK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Budgets.MaxTokensPerTask = n
		}
	}
	// ORCH_CANARY's *name* is itself configurable per spec §6; MYCELIUM_CANARY_VAR
	// lets an operator rename the env var the doctor canary sets.
	if v := os.Getenv("MYCELIUM_CANARY_VAR"); v != "" {
		cfg.Doctor.CanaryEnvVar = v
	}
	if v := os.Getenv("MYCELIUM_LOGGING_SQLITE_INDEX"); v != "" {
		cfg.Logging.SQLiteIndex = v == "1" || v == "true"
	}
}
