// Package config loads and resolves mycelium's layered project configuration.
package config

// Config is the fully resolved project configuration.
type Config struct {
	Project string `yaml:"project"`

	MaxParallel  int    `yaml:"max_parallel"`
	BranchPrefix string `yaml:"branch_prefix"`
	CommitPrefix string `yaml:"commit_prefix"`
	MainBranch   string `yaml:"main_branch"`

	ScopeMode string `yaml:"scope_mode"` // "shadow" | "enforce"

	Docker    DockerConfig    `yaml:"docker"`
	Validator ValidatorConfig `yaml:"validator"`
	Doctor    DoctorConfig    `yaml:"doctor"`
	Budgets   BudgetConfig    `yaml:"budgets"`
	Policy    PolicyConfig    `yaml:"policy"`
	Logging   LoggingConfig   `yaml:"logging"`
	Manifest  ManifestConfig  `yaml:"manifest"`

	Resources ResourcesConfig `yaml:"resources"`
}

// ResourcesConfig declares the named logical resources manifest locks are
// checked against (spec §4.C9 step 2).
type ResourcesConfig struct {
	// Patterns maps a resource name to the doublestar glob patterns that
	// belong to it, e.g. {"db": ["migrations/**", "internal/db/**"]}.
	Patterns map[string][]string `yaml:"patterns"`
	// Order fixes resource lookup order so overlapping patterns resolve
	// deterministically; a resource absent from Order is never matched.
	Order []string `yaml:"order"`
}

// DockerConfig configures the container supervisor (spec §4.C6).
type DockerConfig struct {
	Image                string            `yaml:"image"`
	Env                  map[string]string `yaml:"env"`
	NetworkMode          string            `yaml:"network_mode"`
	User                 string            `yaml:"user"`
	MemoryBytes          int64             `yaml:"memory_bytes"`
	CPUQuota             int64             `yaml:"cpu_quota"`
	PidsLimit            int64             `yaml:"pids_limit"`
	Bootstrap            []string          `yaml:"bootstrap"`
	BootstrapMaxBytes    int               `yaml:"bootstrap_max_bytes"`
	StopContainersOnExit bool              `yaml:"stop_containers_on_exit"`
}

// ValidatorMode is the enforcement mode for a validator.
type ValidatorMode string

const (
	ModeOff   ValidatorMode = "off"
	ModeWarn  ValidatorMode = "warn"
	ModeBlock ValidatorMode = "block"
)

// ValidatorConfig configures the validator pipeline (spec §4.C8).
type ValidatorConfig struct {
	Test         ValidatorSpec `yaml:"test"`
	Style        ValidatorSpec `yaml:"style"`
	Architecture ValidatorSpec `yaml:"architecture"`
}

// ValidatorSpec configures one validator.
type ValidatorSpec struct {
	Enabled        bool          `yaml:"enabled"`
	Mode           ValidatorMode `yaml:"mode"`
	Command        string        `yaml:"command"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
}

// DoctorCanaryMode toggles the doctor canary double-run.
type DoctorCanaryMode string

const (
	CanaryOff DoctorCanaryMode = "off"
	CanaryEnv DoctorCanaryMode = "env"
)

// DoctorConfig configures the project-level doctor command and canary (spec §4.C8).
type DoctorConfig struct {
	Command              string           `yaml:"command"`
	TimeoutSeconds       int              `yaml:"timeout_seconds"`
	Mode                 ValidatorMode    `yaml:"mode"`
	CanaryMode           DoctorCanaryMode `yaml:"canary_mode"`
	CanaryEnvVar         string           `yaml:"canary_env_var"`
	WarnOnUnexpectedPass bool             `yaml:"warn_on_unexpected_pass"`
}

// BudgetMode toggles whether exceeding max_tokens_per_task is fatal.
type BudgetMode string

const (
	BudgetOff   BudgetMode = "off"
	BudgetBlock BudgetMode = "block"
)

// BudgetConfig configures per-task token budgets (spec §4.C10 step 6).
type BudgetConfig struct {
	Mode             BudgetMode `yaml:"mode"`
	MaxTokensPerTask int        `yaml:"max_tokens_per_task"`
}

// PolicyConfig configures the control-plane checkset selection (spec §4.C7).
type PolicyConfig struct {
	MaxComponentsForScoped int `yaml:"max_components_for_scoped"`
}

// LoggingConfig configures the JSONL event sink (spec §4.C12 / SPEC_FULL).
type LoggingConfig struct {
	SQLiteIndex bool `yaml:"sqlite_index"`
}

// ManifestEnforcement is the compliance gating mode (spec §4.C9).
type ManifestEnforcement string

const (
	EnforcementOff   ManifestEnforcement = "off"
	EnforcementWarn  ManifestEnforcement = "warn"
	EnforcementBlock ManifestEnforcement = "block"
)

// ManifestConfig configures manifest-compliance enforcement.
type ManifestConfig struct {
	Enforcement ManifestEnforcement `yaml:"manifest_enforcement"`
}
