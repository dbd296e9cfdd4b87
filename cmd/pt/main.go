// Package main — cmd/pt/main.go
//
// Process triage agent entrypoint.
//
// Startup sequence:
//  1. Load and validate the agent config.
//  2. Initialise the structured logger (zap), then load and validate
//     the priors, policy, and signature database. Invalid
//     configuration is fatal: the engine refuses to score.
//  3. Open the session store and calibration history.
//  4. Start the Prometheus metrics server.
//  5. Start the priors/policy hot-reload watcher.
//  6. Run: either one scan-decide-plan pass (default), a resume of a
//     previous plan (-resume), or the dormant daemon loop (-daemon)
//     driven by the memory pressure state machine.
//  7. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Exit codes: 0 all actions applied; 1 usage or config error;
// 2 partial application; 3 identity gate blocked all destructive
// actions.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joyshmitz/process-triage-sub005/internal/action"
	"github.com/joyshmitz/process-triage-sub005/internal/apply"
	"github.com/joyshmitz/process-triage-sub005/internal/blast"
	"github.com/joyshmitz/process-triage-sub005/internal/bundle"
	"github.com/joyshmitz/process-triage-sub005/internal/calibrate"
	"github.com/joyshmitz/process-triage-sub005/internal/collect"
	"github.com/joyshmitz/process-triage-sub005/internal/config"
	"github.com/joyshmitz/process-triage-sub005/internal/decision"
	"github.com/joyshmitz/process-triage-sub005/internal/goal"
	"github.com/joyshmitz/process-triage-sub005/internal/identity"
	"github.com/joyshmitz/process-triage-sub005/internal/inference"
	"github.com/joyshmitz/process-triage-sub005/internal/observability"
	"github.com/joyshmitz/process-triage-sub005/internal/planner"
	"github.com/joyshmitz/process-triage-sub005/internal/pressure"
	"github.com/joyshmitz/process-triage-sub005/internal/session"
	"github.com/joyshmitz/process-triage-sub005/internal/signature"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "/etc/process-triage/config.yaml", "Path to config.yaml")
	goalExpr := flag.String("goal", "", "Resource goal, e.g. 'free 2GB' or 'release port 8080'")
	resumeSession := flag.String("resume", "", "Session id whose plan should be resumed")
	exportSession := flag.String("export", "", "Session id to export as a canonical bundle")
	diffSessions := flag.String("diff", "", "Two session ids to compare, comma-separated (old,new)")
	daemon := flag.Bool("daemon", false, "Run the dormant daemon loop")
	dryRun := flag.Bool("dry-run", false, "Plan but do not execute")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Printf("pt %s (commit=%s built=%s)\n",
			config.Version, config.GitCommit, config.BuildTime)
		return 0
	}

	// ── Step 1: configuration ─────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		return 1
	}

	// ── Step 2: logger ────────────────────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		return 1
	}
	defer log.Sync() //nolint:errcheck

	log.Info("process triage starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Priors and policy: invalid documents are fatal at startup.
	watcher, err := config.NewWatcher(cfg.PriorsPath, cfg.PolicyPath,
		func(*config.PriorsDoc, *config.PolicyDoc) {
			log.Info("priors/policy reloaded")
		}, log)
	if err != nil {
		log.Error("priors/policy load failed — refusing to operate", zap.Error(err))
		return 1
	}

	sigDB, err := signature.LoadDatabase(cfg.SignaturesPath)
	if err != nil {
		log.Error("signature database load failed", zap.Error(err))
		return 1
	}

	// ── Step 3: stores ────────────────────────────────────────────────────────
	store, err := session.NewStore(cfg.SessionRoot)
	if err != nil {
		log.Error("session store open failed", zap.Error(err))
		return 1
	}

	history, err := calibrate.OpenHistory(cfg.HistoryDBPath)
	if err != nil {
		log.Error("calibration history open failed", zap.Error(err))
		return 1
	}
	defer history.Close() //nolint:errcheck

	// ── Step 4: metrics ───────────────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	// ── Step 5: hot reload ────────────────────────────────────────────────────
	go func() {
		if err := watcher.Run(ctx); err != nil {
			log.Warn("config watcher stopped", zap.Error(err))
		}
	}()

	// ── Signal handling ───────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Info("shutdown signal received", zap.String("signal", s.String()))
		cancel()
	}()

	eng := engine{
		cfg:     cfg,
		watcher: watcher,
		sigDB:   sigDB,
		store:   store,
		history: history,
		metrics: metrics,
		log:     log,
		dryRun:  *dryRun,
	}

	// ── Step 6: run mode ──────────────────────────────────────────────────────
	switch {
	case *diffSessions != "":
		return eng.diff(*diffSessions)
	case *exportSession != "":
		return eng.export(*exportSession)
	case *resumeSession != "":
		return eng.resume(ctx, *resumeSession)
	case *daemon:
		return eng.daemonLoop(ctx)
	default:
		return eng.oneShot(ctx, *goalExpr)
	}
}

// engine bundles the wired subsystems for the run modes.
type engine struct {
	cfg     *config.Config
	watcher *config.Watcher
	sigDB   *signature.Database
	store   *session.Store
	history *calibrate.History
	metrics *observability.Metrics
	log     *zap.Logger
	dryRun  bool
}

// oneShot performs one scan → infer → decide → plan → apply pass.
func (e *engine) oneShot(ctx context.Context, goalExpr string) int {
	sessionID, err := e.store.CreateSession()
	if err != nil {
		e.log.Error("session create failed", zap.Error(err))
		return 1
	}
	e.log.Info("session started", zap.String("session", sessionID))

	plan, err := e.scanAndPlan(ctx, sessionID, goalExpr)
	if err != nil {
		e.log.Error("scan failed", zap.Error(err))
		return 1
	}
	if len(plan.Actions) == 0 {
		e.log.Info("nothing to do")
		return 0
	}
	if e.dryRun {
		for _, pa := range plan.Actions {
			e.log.Info("planned (dry run)",
				zap.String("action", pa.ActionLabel),
				zap.Uint32("pid", pa.Identity.PID),
				zap.String("comm", pa.Comm),
				zap.String("why", pa.Rationale))
		}
		return 0
	}
	return e.execute(ctx, sessionID, plan)
}

// resume reloads a persisted plan and drives only its pending actions.
func (e *engine) resume(ctx context.Context, sessionID string) int {
	plan, err := apply.LoadPlan(e.store.PlanPath(sessionID), e.store.ExecutionLogPath(sessionID))
	if err != nil {
		e.log.Error("plan load failed", zap.Error(err))
		return 1
	}
	return e.applyPlan(ctx, sessionID, plan)
}

// daemonLoop runs the memory pressure state machine and scans on its
// recommended cadence.
func (e *engine) daemonLoop(ctx context.Context) int {
	monitor := pressure.NewMonitor(e.cfg.Pressure)
	interval := e.cfg.Pressure.NormalInterval

	for {
		select {
		case <-ctx.Done():
			e.log.Info("daemon loop stopped")
			return 0
		case <-time.After(interval):
		}

		sig, err := collect.ReadMemorySignals()
		if err != nil {
			e.log.Warn("memory signal read failed", zap.Error(err))
			continue
		}
		ev := monitor.Evaluate(sig)
		e.metrics.PressureMode.Set(float64(ev.Mode))
		if ev.Transitioned {
			e.metrics.PressureTransitionsTotal.Inc()
			e.log.Info("pressure transition", zap.String("explanation", ev.Explanation))
		}
		interval = ev.ScanInterval

		switch ev.Action {
		case pressure.ActionGeneratePlan, pressure.ActionUrgentPlan:
			sessionID, err := e.store.CreateSession()
			if err != nil {
				e.log.Error("session create failed", zap.Error(err))
				continue
			}
			plan, err := e.scanAndPlan(ctx, sessionID, "")
			if err != nil {
				e.log.Error("pressure scan failed", zap.Error(err))
				continue
			}
			if ev.Action == pressure.ActionUrgentPlan && !e.dryRun {
				e.execute(ctx, sessionID, plan)
			} else {
				e.log.Info("mitigation plan generated",
					zap.String("session", sessionID),
					zap.Int("actions", len(plan.Actions)))
			}
		default:
			// Continue / IncreaseCadence: the interval update above is
			// the whole response.
		}
	}
}

// scanAndPlan runs the synchronous pipeline against one point-in-time
// snapshot.
func (e *engine) scanAndPlan(ctx context.Context, sessionID, goalExpr string) (*planner.Plan, error) {
	priorsDoc, policyDoc := e.watcher.Current()
	priorSet, err := priorsDoc.PriorSet()
	if err != nil {
		return nil, err
	}
	policy, err := policyDoc.Policy(priorsDoc.InterventionModel())
	if err != nil {
		return nil, err
	}
	infEngine := inference.NewEngine(priorSet)
	decEngine := decision.NewEngine(policy)

	scanner := collect.NewQuickScanner(e.log)
	scanner.Timeout = e.cfg.ScanTimeout
	started := time.Now()
	records, err := scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}
	e.metrics.ScansTotal.WithLabelValues("quick").Inc()
	e.metrics.ScanDuration.WithLabelValues("quick").Observe(time.Since(started).Seconds())
	e.metrics.ProcessesScanned.Set(float64(len(records)))

	// Blast-radius table from the same snapshot.
	table := make(map[uint32]blast.ProcEntry, len(records))
	for _, r := range records {
		table[r.Identity.PID] = blast.ProcEntry{Comm: r.Comm, PPID: r.PPID}
	}
	parents := make(map[uint32]string, len(records))
	for _, r := range records {
		parents[r.Identity.PID] = r.Comm
	}

	var inputs []planner.Input
	var persisted []session.PersistedProcess
	var inferences []session.PersistedInference
	var ledgers []inference.EvidenceLedger

	for _, rec := range records {
		res := e.classify(rec, parents[rec.PPID], infEngine)
		e.metrics.ClassificationsTotal.WithLabelValues(res.Classification.String()).Inc()
		_, top := res.Posterior.Top()
		e.metrics.TopPosterior.Observe(top)

		radius := blast.Compute(blast.Input{PID: rec.Identity.PID, Table: table})

		feas := decision.FeasibilityFor(rec.State, rec.Identity.Quality, false, os.Geteuid() == 0)
		outcome := decEngine.Decide(decision.Request{
			Posterior:   res.Posterior,
			Feasibility: feas,
			CVaR: decision.CVaRTriggers{
				LowConfidence:   res.Confidence == inference.ConfidenceLow,
				HighBlastRadius: radius.Summary == "HIGH",
			},
		})
		e.metrics.DecisionsTotal.WithLabelValues(outcome.ActionLabel).Inc()

		// Deep-scan anything we intend to act on: the extra detail
		// (fd counts, io, wchan) feeds goal contributions and the
		// operator summary, and a vanished process drops out here
		// instead of at signal time.
		vanished := false
		if outcome.OptimalAction != decision.ActionKeep {
			if deep, err := collect.NewDeepScanner(e.log).Augment(rec); err == nil {
				rec = deep.ProcessRecord
			} else {
				vanished = true
			}
		}

		if !vanished {
			inputs = append(inputs, planner.Input{
				Record:          rec,
				Result:          res,
				Outcome:         outcome,
				Blast:           &radius,
				Tier:            1,
				ExpectedBenefit: float64(rec.RSSBytes),
			})
		}

		persisted = append(persisted, session.PersistedProcess{
			PID:      rec.Identity.PID,
			StartID:  rec.Identity.StartID,
			Comm:     rec.Comm,
			Cmdline:  rec.Cmdline,
			UID:      rec.Identity.UID,
			RSSBytes: rec.RSSBytes,
			State:    rec.State.String(),
		})
		inferences = append(inferences, session.PersistedInference{
			StartID:            rec.Identity.StartID,
			Classification:     res.Classification.String(),
			Score:              int(res.Posterior.Get(inference.ClassAbandoned) * 100),
			RecommendedAction:  outcome.ActionLabel,
			PosteriorAbandoned: res.Posterior.Get(inference.ClassAbandoned),
			PosteriorZombie:    res.Posterior.Get(inference.ClassZombie),
		})
		ledgers = append(ledgers, res.Ledger)
	}

	if err := e.store.WriteSnapshot(sessionID, &session.Snapshot{
		Processes: persisted, Inferences: inferences,
	}); err != nil {
		e.log.Warn("snapshot persist failed", zap.Error(err))
	} else {
		e.metrics.SnapshotsWrittenTotal.Inc()
	}

	if data, err := json.MarshalIndent(ledgers, "", "  "); err == nil {
		if err := os.WriteFile(e.store.LedgerPath(sessionID), data, 0o644); err != nil {
			e.log.Warn("ledger persist failed", zap.Error(err))
		}
	}

	if goalExpr != "" {
		inputs, err = e.applyGoal(goalExpr, inputs)
		if err != nil {
			return nil, err
		}
	}

	return planner.NewBuilder().Build(inputs), nil
}

// classify runs the signature fast path, falling back to full
// inference.
func (e *engine) classify(rec collect.ProcessRecord, parentComm string, eng *inference.Engine) inference.Result {
	best := e.sigDB.Best(signature.Subject{
		Comm:       rec.Comm,
		Cmdline:    rec.Cmdline,
		ParentComm: parentComm,
	})
	if res, ok, _ := signature.TryFastPath(e.cfg.FastPath, best, rec.Identity.PID, rec.Identity.StartID); ok {
		e.metrics.FastPathTotal.WithLabelValues("bypassed").Inc()
		return res
	}
	e.metrics.FastPathTotal.WithLabelValues("declined").Inc()
	e.metrics.InferenceEvalsTotal.Inc()

	return eng.Evaluate(rec.Identity.PID, rec.Identity.StartID, featuresFrom(rec))
}

// featuresFrom maps one observation to the inference feature vector.
func featuresFrom(rec collect.ProcessRecord) inference.FeatureVector {
	orphan := 0.0
	if rec.PPID == 1 {
		orphan = 0.9
	}
	tty := 0.0
	if rec.TTY != "" {
		tty = 1.0
	}
	return inference.FeatureVector{
		CPUFraction:  rec.CPUPercent / 100,
		OrphanProb:   orphan,
		TTYAttached:  tty,
		RuntimeHours: rec.Elapsed.Hours(),
		Category:     commandCategory(rec.Comm),
	}
}

// commandCategory buckets comm into the Dirichlet's category set:
// 0 interpreters/runtimes, 1 build/test tools, 2 shells, 3 other.
func commandCategory(comm string) int {
	switch comm {
	case "node", "python", "python3", "ruby", "java", "deno", "bun":
		return 0
	case "make", "cargo", "go", "gcc", "clang", "jest", "pytest", "webpack", "tsc":
		return 1
	case "bash", "zsh", "sh", "fish":
		return 2
	default:
		return 3
	}
}

// applyGoal narrows the plan inputs to the optimizer's selection.
func (e *engine) applyGoal(goalExpr string, inputs []planner.Input) ([]planner.Input, error) {
	g, err := goal.Parse(goalExpr)
	if err != nil {
		return nil, err
	}
	targets := goal.Requirements(g)

	byID := make(map[string]planner.Input, len(inputs))
	var candidates []goal.Candidate
	for _, in := range inputs {
		if in.Outcome.OptimalAction == decision.ActionKeep {
			continue
		}
		id := in.Record.Identity.StartID
		byID[id] = in
		contribs := map[string]float64{
			"memory_bytes": float64(in.Record.RSSBytes),
			"cpu_fraction": in.Record.CPUPercent / 100,
			"fd_count":     float64(in.Record.FDCount),
		}
		for _, p := range in.Record.Ports {
			contribs[fmt.Sprintf("port:%d", p)] = 1
		}
		candidates = append(candidates, goal.Candidate{
			ID:           id,
			ExpectedLoss: in.Outcome.Rationale.ExpectedLosses[in.Outcome.OptimalAction],
			Contribs:     contribs,
		})
	}

	result := goal.Optimize(goal.AlgorithmGreedy, targets, candidates, goal.Constraints{})
	if !result.Feasible {
		e.log.Warn("goal not fully achievable with current candidates",
			zap.String("goal", goalExpr))
	}

	var selected []planner.Input
	for _, id := range result.Selected {
		selected = append(selected, byID[id])
	}
	return selected, nil
}

// execute persists and applies a plan, returning the process exit
// code.
func (e *engine) execute(ctx context.Context, sessionID string, plan *planner.Plan) int {
	planned := make([]apply.PlannedAction, 0, len(plan.Actions))
	byIdentity := make(map[apply.Identity]planner.PlanAction, len(plan.Actions))
	for _, pa := range plan.Actions {
		id := apply.Identity{PID: pa.Identity.PID, StartID: pa.Identity.StartID, UID: pa.Identity.UID}
		planned = append(planned, apply.PlannedAction{
			Identity:     id,
			Action:       pa.ActionLabel,
			ExpectedLoss: pa.ExpectedLoss,
			Rationale:    pa.Rationale,
		})
		byIdentity[id] = pa
	}

	execPlan := apply.NewExecutionPlan(sessionID, planned)
	if err := apply.SavePlan(e.store.PlanPath(sessionID), execPlan); err != nil {
		e.log.Error("plan persist failed", zap.Error(err))
		return 1
	}
	return e.applyPlanWith(ctx, sessionID, execPlan, byIdentity)
}

// applyPlan drives a loaded plan with freshly constructed runners.
func (e *engine) applyPlan(ctx context.Context, sessionID string, execPlan *apply.ExecutionPlan) int {
	return e.applyPlanWith(ctx, sessionID, execPlan, nil)
}

func (e *engine) applyPlanWith(ctx context.Context, sessionID string, execPlan *apply.ExecutionPlan, byIdentity map[apply.Identity]planner.PlanAction) int {
	provider := action.NewLiveIdentityProvider()
	signals := action.NewSignalRunner(action.DefaultSignalConfig(), provider, e.log)
	renice := action.NewReniceRunner(action.DefaultReniceConfig(), provider, e.log)

	driver := apply.NewDriver(e.log)
	driver.LogPath = e.store.ExecutionLogPath(sessionID)

	result := driver.Resume(ctx, execPlan, collect.LookupIdentity, func(a apply.PlannedAction) error {
		pa, ok := byIdentity[a.Identity]
		if !ok {
			// Resumed plans reconstruct the runner view from the
			// persisted tuple.
			pa = planner.PlanAction{
				Identity: identity.ProcessIdentity{
					PID:     a.Identity.PID,
					StartID: a.Identity.StartID,
					UID:     a.Identity.UID,
					Quality: identity.QualityFull,
				},
				ActionLabel: a.Action,
				Timeouts:    planner.TimeoutsFor(decision.ActionKill),
			}
		}
		var err error
		switch a.Action {
		case "renice":
			err = renice.Execute(&pa)
		default:
			err = signals.Execute(&pa)
		}
		status := "applied"
		if err != nil {
			status = action.KindOf(err).String()
			if action.KindOf(err) == action.KindIdentityMismatch {
				e.metrics.IdentityMismatchTotal.Inc()
			}
		}
		e.metrics.ActionsTotal.WithLabelValues(a.Action, status).Inc()
		return err
	})

	e.metrics.PlanActionsPending.Set(float64(len(execPlan.PendingActions())))
	e.recordOutcomes(result)
	e.summarize(result)
	return result.ExitCode()
}

// recordOutcomes feeds apply results into the calibration loop: the
// intervention priors are refit from (applied, failed) counts and the
// new parameter set is versioned for rollback.
func (e *engine) recordOutcomes(result apply.Result) {
	attempts := uint64(result.NewlyApplied + result.Failed)
	if attempts == 0 {
		return
	}

	priorsDoc, _ := e.watcher.Current()
	params := map[string]calibrate.ParamValue{}
	for className, row := range priorsDoc.Intervention {
		for actName, b := range row {
			params["intervention."+className+"."+actName] = calibrate.ParamValue{
				Kind: calibrate.ParamBeta, Alpha: b.Alpha, Beta: b.Beta,
			}
		}
	}
	if len(params) == 0 {
		return
	}

	var obs []calibrate.BetaObservation
	perAction := map[string][2]uint64{} // action → {successes, trials}
	for _, entry := range result.Entries {
		if entry.Status != apply.StatusApplied && entry.Status != apply.StatusFailed {
			continue
		}
		c := perAction[entry.Action]
		if entry.Status == apply.StatusApplied {
			c[0]++
		}
		c[1]++
		perAction[entry.Action] = c
	}
	for path := range params {
		for actName, c := range perAction {
			if strings.HasSuffix(path, "."+actName) {
				obs = append(obs, calibrate.BetaObservation{
					Path: path, Successes: c[0], Trials: c[1],
				})
			}
		}
	}

	refit := calibrate.ComputeRefit(obs, nil, nil, params, e.cfg.Calibration)
	if !refit.HasChanges {
		return
	}
	if refit.ClampedMajority {
		e.log.Warn("refit clamped a majority of parameters — not persisting",
			zap.Int("changes", len(refit.Changes)))
		return
	}
	for _, ch := range refit.Changes {
		params[ch.Path] = ch.After
	}
	if n, err := e.history.Append("post-apply refit", refit.ObservationCount, params); err != nil {
		e.log.Warn("calibration history append failed", zap.Error(err))
	} else {
		e.log.Info("priors refit recorded", zap.Uint64("version", n),
			zap.Int("changes", len(refit.Changes)))
	}
}

// diff compares the latest snapshots of two sessions and logs the
// per-process deltas.
func (e *engine) diff(spec string) int {
	oldID, newID, ok := strings.Cut(spec, ",")
	if !ok || oldID == "" || newID == "" {
		e.log.Error("diff wants old,new session ids", zap.String("got", spec))
		return 1
	}
	latest := func(id string) (*session.Snapshot, error) {
		snaps, err := e.store.Snapshots(id)
		if err != nil {
			return nil, err
		}
		if len(snaps) == 0 {
			return nil, fmt.Errorf("session %s has no snapshots", id)
		}
		return snaps[len(snaps)-1], nil
	}
	oldSnap, err := latest(oldID)
	if err != nil {
		e.log.Error("old session load failed", zap.Error(err))
		return 1
	}
	newSnap, err := latest(newID)
	if err != nil {
		e.log.Error("new session load failed", zap.Error(err))
		return 1
	}

	d := session.ComputeDiff(oldSnap, newSnap, session.DefaultDiffConfig())
	e.log.Info("session diff",
		zap.Int("new", d.Summary.NewCount),
		zap.Int("resolved", d.Summary.ResolvedCount),
		zap.Int("changed", d.Summary.ChangedCount),
		zap.Int("unchanged", d.Summary.UnchangedCount),
		zap.Int("worsened", d.Summary.WorsenedCount),
		zap.Int("improved", d.Summary.ImprovedCount),
	)
	for _, delta := range d.Deltas {
		if delta.Kind == session.DeltaUnchanged {
			continue
		}
		e.log.Info("delta",
			zap.String("kind", delta.KindLabel),
			zap.Uint32("pid", delta.PID),
			zap.String("start_id", delta.StartID),
			zap.Int("score_drift", delta.ScoreDrift),
			zap.Bool("worsened", delta.Worsened),
		)
	}
	return 0
}

// export writes the canonical bundle for a finished session.
func (e *engine) export(sessionID string) int {
	dir := e.store.SessionDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		e.log.Error("session read failed", zap.Error(err))
		return 1
	}
	var files []bundle.File
	for _, ent := range entries {
		if ent.IsDir() || strings.HasSuffix(ent.Name(), ".zip") {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, ent.Name()))
		if err != nil {
			e.log.Error("session file read failed",
				zap.String("file", ent.Name()), zap.Error(err))
			return 1
		}
		files = append(files, bundle.File{Path: ent.Name(), Content: content})
	}

	out := filepath.Join(dir, sessionID+".zip")
	if err := bundle.Write(out, sessionID, files); err != nil {
		e.log.Error("bundle write failed", zap.Error(err))
		return 1
	}
	if _, err := bundle.Read(out); err != nil {
		e.log.Error("bundle verification failed", zap.Error(err))
		return 1
	}
	e.log.Info("bundle exported", zap.String("path", out))
	return 0
}

// summarize prints the user-facing outcome: every skipped or failed
// action with its kind, a remediation sentence, and the identity that
// was targeted.
func (e *engine) summarize(result apply.Result) {
	e.log.Info("apply finished",
		zap.String("session", result.SessionID),
		zap.Int("previously_applied", result.PreviouslyApplied),
		zap.Int("newly_applied", result.NewlyApplied),
		zap.Int("skipped_identity_mismatch", result.SkippedIdentityMismatch),
		zap.Int("skipped_process_gone", result.SkippedProcessGone),
		zap.Int("failed", result.Failed),
	)
	for _, entry := range result.Entries {
		if entry.Status == apply.StatusApplied {
			continue
		}
		remedy := "Inspect the execution log and re-run with -resume."
		switch entry.Error {
		case string(apply.ReasonPidReused):
			remedy = "Re-scan before acting: the PID now belongs to a different process."
		case string(apply.ReasonUidChanged):
			remedy = "Verify ownership: the process changed UID since planning."
		case string(apply.ReasonProcessGone):
			remedy = "No action needed: the process already exited."
		}
		e.log.Warn("action not applied",
			zap.String("status", string(entry.Status)),
			zap.String("action", entry.Action),
			zap.Uint32("pid", entry.Identity.PID),
			zap.String("start_id", entry.Identity.StartID),
			zap.Uint32("uid", entry.Identity.UID),
			zap.String("remediation", remedy),
		)
	}
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
