package container

// Resources caps a worker container's resource usage.
type Resources struct {
	MemoryBytes int64
	CPUQuota    int64
	PidsLimit   int64
}

// Spec describes one worker container to create and start (spec §4.C6).
type Spec struct {
	Project     string
	Run         string
	Task        string
	Image       string
	Env         map[string]string
	Binds       []string // "hostPath:containerPath[:ro]"
	Workdir     string
	User        string
	NetworkMode string
	Resources   Resources
}

// labels returns the correlation labels every worker container carries,
// used both on create and on reattach-by-labels lookup.
func (s Spec) labels() map[string]string {
	return map[string]string{
		"mycelium.project": s.Project,
		"mycelium.run":     s.Run,
		"mycelium.task":    s.Task,
	}
}

// LogLine is one classified line of container output.
type LogLine struct {
	Raw        string
	Structured bool
	Type       string // set when Structured; e.g. "task.log", or the event's own type
	Payload    any    // set when Structured
}

// BootstrapResult records one bootstrap command's outcome.
type BootstrapResult struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}
