package config

// Default returns the built-in default configuration, the first layer of
// the merge order described in SPEC_FULL.md §1.1 / spec.md §4.C1.
func Default() *Config {
	return &Config{
		MaxParallel:  4,
		BranchPrefix: "mycelium/",
		CommitPrefix: "[mycelium]",
		MainBranch:   "main",
		ScopeMode:    "enforce",
		Docker: DockerConfig{
			NetworkMode:          "bridge",
			BootstrapMaxBytes:    64 * 1024,
			StopContainersOnExit: false,
		},
		Validator: ValidatorConfig{
			Test:         ValidatorSpec{Enabled: true, Mode: ModeBlock, TimeoutSeconds: 600},
			Style:        ValidatorSpec{Enabled: true, Mode: ModeWarn, TimeoutSeconds: 120},
			Architecture: ValidatorSpec{Enabled: false, Mode: ModeWarn, TimeoutSeconds: 120},
		},
		Doctor: DoctorConfig{
			TimeoutSeconds:       900,
			Mode:                 ModeBlock,
			CanaryMode:           CanaryOff,
			CanaryEnvVar:         "ORCH_CANARY",
			WarnOnUnexpectedPass: true,
		},
		Budgets: BudgetConfig{
			Mode:             BudgetOff,
			MaxTokensPerTask: 0,
		},
		Policy: PolicyConfig{
			MaxComponentsForScoped: 5,
		},
		Logging: LoggingConfig{
			SQLiteIndex: false,
		},
		Manifest: ManifestConfig{
			Enforcement: EnforcementWarn,
		},
	}
}
