package cli

import (
	"log/slog"
	"path/filepath"

	"github.com/schollz/progressbar/v3"

	"github.com/mycelium-run/mycelium/internal/clock"
	"github.com/mycelium-run/mycelium/internal/compliance"
	"github.com/mycelium-run/mycelium/internal/config"
	"github.com/mycelium-run/mycelium/internal/container"
	"github.com/mycelium-run/mycelium/internal/controlplane"
	"github.com/mycelium-run/mycelium/internal/engine"
	"github.com/mycelium-run/mycelium/internal/events"
	"github.com/mycelium-run/mycelium/internal/ledger"
	"github.com/mycelium-run/mycelium/internal/paths"
	"github.com/mycelium-run/mycelium/internal/runstate"
	"github.com/mycelium-run/mycelium/internal/validator"
	"github.com/mycelium-run/mycelium/internal/vcs"
	"github.com/mycelium-run/mycelium/internal/workspace"
)

// resolveProject returns the absolute repo path and the logical project name
// flags resolve to, defaulting project to the repo's directory name (spec §6
// "project" keys every on-disk path).
func resolveProject() (repo, project string, err error) {
	repo, err = filepath.Abs(repoPath)
	if err != nil {
		return "", "", err
	}
	project = projectName
	if project == "" {
		project = filepath.Base(repo)
	}
	return repo, project, nil
}

// resolvePaths builds the PathsContext for the current invocation.
func resolvePaths(repo string) *paths.PathsContext {
	return paths.New(repo, homeDir)
}

// loadConfig resolves the layered config for project, per config.Load's merge
// order (spec §4.C1 layer order).
func loadConfig(p *paths.PathsContext, project string) (*config.Config, error) {
	return config.Load(p.ProjectConfig(project))
}

// engineDeps bundles every capability wired into an Engine for the run/resume
// commands, alongside the publisher so callers can Close it on exit.
type engineDeps struct {
	eng       *engine.Engine
	publisher events.Publisher
	sink      *clock.LogSink
}

// buildEngine wires every capability interface the run engine drives from
// concrete, CLI-level implementations (spec §9 "dynamic dispatch ->
// capability interfaces"; production wiring lives at the CLI boundary,
// exactly where internal/cli's teacher equivalent builds its backend).
func buildEngine(p *paths.PathsContext, cfg *config.Config, repo, project, runID string) (*engineDeps, error) {
	gitRunner := vcs.NewExecRunner()
	v := vcs.New(gitRunner)
	dockerRunner := container.NewExecRunner()
	docker := container.New(dockerRunner)
	ws := workspace.New(p, repo, v)

	var sinkOpts []clock.Option
	if cfg.Logging.SQLiteIndex {
		sinkOpts = append(sinkOpts, clock.WithSQLiteIndex(p.EventsIndexFile(project, runID)))
	}
	sink, err := clock.Open(p.OrchestratorLog(project, runID), runID, project, sinkOpts...)
	if err != nil {
		return nil, err
	}
	publisher := events.NewSinkPublisher(sink, slog.Default())

	shellRunner := validator.NewShellRunner(gitRunner)
	validators := validator.NewPipeline(shellRunner, &cfg.Validator)
	doctor := validator.NewDoctorRunner(shellRunner, &cfg.Doctor)

	extractor := controlplane.NewFileExtractor("")
	cpStore := controlplane.NewStore(p, extractor)

	ledgerStore := ledger.NewStore(p.Ledger())
	runStates := runstate.NewFileStore(p)

	deps := engine.Deps{
		Paths:        p,
		Config:       cfg,
		VCS:          v,
		Workspaces:   ws,
		Docker:       docker,
		Worker:       engine.NewContainerWorkerRunner(docker, &cfg.Docker, publisher),
		ControlPlane: cpStore,
		Resolver:     compliance.PatternResolver{Patterns: cfg.Resources.Patterns, Order: cfg.Resources.Order},
		Validators:   validators,
		Doctor:       doctor,
		Ledger:       ledgerStore,
		RunStates:    runStates,
		Publisher:    publisher,
		Clock:        clock.RealClock{},
	}

	return &engineDeps{eng: engine.New(deps), publisher: publisher, sink: sink}, nil
}

// latestRunID resolves the most recently started run for project, used when
// a command's --run-id flag is omitted.
func latestRunID(p *paths.PathsContext, project string) (string, error) {
	return newRunStateStore(p).LatestRunID(project)
}

// newRunStateStore builds the run-state store used by read-only CLI commands
// that don't need a full Engine (status, clean).
func newRunStateStore(p *paths.PathsContext) *runstate.FileStore {
	return runstate.NewFileStore(p)
}

func (d *engineDeps) Close() {
	if d.publisher != nil {
		d.publisher.Close()
	}
}

// watchBatchProgress renders a terminal progress bar over total tasks,
// advancing it by each batch's merged-task count as BatchComplete events
// arrive. It returns a stop func that unsubscribes and finishes the bar;
// callers defer it once the run call returns. A no-op in --json/--plain
// mode, matching the rest of the package's human-only rendering.
func watchBatchProgress(publisher events.Publisher, total int) func() {
	if jsonOut || plain || total == 0 {
		return func() {}
	}
	bar := progressbar.Default(int64(total), "running tasks")
	ch := publisher.Subscribe(events.GlobalTaskID)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			if e.Type != events.BatchComplete {
				continue
			}
			payload, ok := e.Payload.(map[string]any)
			if !ok {
				continue
			}
			merged, ok := payload["merged"].([]string)
			if !ok {
				continue
			}
			_ = bar.Add(len(merged))
		}
	}()
	return func() {
		publisher.Unsubscribe(events.GlobalTaskID, ch)
		<-done
		_ = bar.Finish()
	}
}
