// legatord is the agent control plane server and operational CLI: it serves
// the HTTP API by default, and exposes migrate/run_worker/snapshot_daily/
// survival_rollup/lifecycle_automation as subcommands for cron-driven or
// one-shot operational use (see config/ for the .env and action registry
// this binary reads on boot).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/marcus-qen/legatorcp/pkg/api"
	"github.com/marcus-qen/legatorcp/pkg/approval"
	"github.com/marcus-qen/legatorcp/pkg/audit"
	"github.com/marcus-qen/legatorcp/pkg/capability"
	"github.com/marcus-qen/legatorcp/pkg/config"
	"github.com/marcus-qen/legatorcp/pkg/database"
	"github.com/marcus-qen/legatorcp/pkg/egress"
	"github.com/marcus-qen/legatorcp/pkg/eventlog"
	"github.com/marcus-qen/legatorcp/pkg/growth"
	"github.com/marcus-qen/legatorcp/pkg/policy"
	"github.com/marcus-qen/legatorcp/pkg/principal"
	"github.com/marcus-qen/legatorcp/pkg/projection"
	"github.com/marcus-qen/legatorcp/pkg/redaction"
	"github.com/marcus-qen/legatorcp/pkg/runlifecycle"
	"github.com/marcus-qen/legatorcp/pkg/telemetry"
	"github.com/marcus-qen/legatorcp/pkg/version"
	"github.com/marcus-qen/legatorcp/pkg/worker"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// services bundles every constructed dependency shared across subcommands.
type services struct {
	db         *database.Client
	cfg        config.Config
	writer     *eventlog.Writer
	principals *principal.Resolver
	caps       *capability.Service
	approvals  *approval.Service
	runs       *runlifecycle.Manager
	gate       *policy.Gate
	egressB    *egress.Broker
	growthRec  *growth.Recorder
	auditor    *audit.Verifier
}

// loadEnv loads the .env file from CONFIG_DIR (default ./config).
// Subcommands read CONFIG_DIR directly rather than via flag.Parse so a
// subcommand's own flags (e.g. run_worker's -once, the job subcommands'
// -cron) never collide with it.
func loadEnv() {
	configDir := getEnv("CONFIG_DIR", "./config")
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("no env file at %s, continuing with existing environment variables", envPath)
	} else {
		log.Printf("loaded environment from %s", envPath)
	}
}

func buildServices(ctx context.Context) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load database config: %w", err)
	}

	db, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	registry, err := config.LoadActionRegistry(cfg.ActionRegistryPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load action registry: %w", err)
	}
	if err := config.SeedActionRegistry(ctx, db.Pool, registry); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed action registry: %w", err)
	}

	scanner := redaction.NewScanner()
	writer := eventlog.NewWriter(db.Pool, scanner)
	principals := principal.NewResolver(db.Pool)
	caps := capability.NewService(db.Pool, writer)
	approvals := approval.NewService(db.Pool, writer)
	runs := runlifecycle.NewManager(db.Pool, writer, cfg.LeaseTTL)
	growthRec := growth.NewRecorder(db.Pool, writer)
	quota := policy.NewQuotaLimiter(cfg.DefaultEgressPerHour)
	gate := policy.NewGate(db.Pool, writer, principals, caps, approvals, growthRec, quota, cfg)
	egressB := egress.NewBroker(db.Pool, writer, gate)
	auditor := audit.NewVerifier(db.Pool)

	return &services{
		db:         db,
		cfg:        cfg,
		writer:     writer,
		principals: principals,
		caps:       caps,
		approvals:  approvals,
		runs:       runs,
		gate:       gate,
		egressB:    egressB,
		growthRec:  growthRec,
		auditor:    auditor,
	}, nil
}

func main() {
	if len(os.Args) < 2 {
		runServe()
		return
	}

	switch os.Args[1] {
	case "migrate":
		runMigrate()
	case "migrate_status":
		runMigrateStatus()
	case "run_worker":
		runRunWorker()
	case "snapshot_daily":
		runSnapshotDaily()
	case "survival_rollup":
		runSurvivalRollup()
	case "lifecycle_automation":
		runLifecycleAutomation()
	case "-config-dir", "-h", "-help", "--help":
		runServe()
	default:
		log.Fatalf("unknown subcommand %q (want migrate|migrate_status|run_worker|snapshot_daily|survival_rollup|lifecycle_automation, or no subcommand to serve)", os.Args[1])
	}
}

// runServe is the default command: start the HTTP API and, if configured,
// the embedded runtime worker and projection runner in-process.
func runServe() {
	loadEnv()
	ctx := context.Background()

	svc, err := buildServices(ctx)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer svc.db.Close()

	shutdownTracing, err := telemetry.InitTraceProvider(ctx, svc.cfg.OTLPEndpoint, version.Full())
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutCtx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	runner := projection.NewRunner(svc.db.Pool, "projection-catchup", 2*time.Second)
	runnerCtx, cancelRunner := context.WithCancel(ctx)
	runner.Start(runnerCtx)
	defer func() {
		cancelRunner()
		runner.Stop()
	}()

	var w *worker.Worker
	if svc.cfg.RunWorkerEmbedded {
		w = worker.New(svc.writer, svc.runs, svc.gate, svc.egressB, worker.Config{
			WorkspaceID:  svc.cfg.RunWorkerWorkspaceID,
			PollInterval: time.Duration(svc.cfg.RunWorkerPollMS) * time.Millisecond,
		})
		workerCtx, cancelWorker := context.WithCancel(ctx)
		w.Start(workerCtx)
		defer func() {
			cancelWorker()
			w.Stop()
		}()
		log.Printf("embedded runtime worker started for workspace %q", svc.cfg.RunWorkerWorkspaceID)
	}

	server := api.NewServer(svc.cfg, api.Deps{
		Pool:       svc.db.Pool,
		Writer:     svc.writer,
		Principals: svc.principals,
		Caps:       svc.caps,
		Approvals:  svc.approvals,
		Runs:       svc.runs,
		Gate:       svc.gate,
		Egress:     svc.egressB,
		Growth:     svc.growthRec,
		Auditor:    svc.auditor,
	})

	addr := ":" + svc.cfg.HTTPPort
	log.Printf("legatord %s listening on %s (enforcement=%s)", version.Full(), addr, svc.cfg.EnforcementMode)
	if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
		log.Fatalf("serve: %v", err)
	}
}

// runMigrate applies pending migrations and exits.
func runMigrate() {
	loadEnv()
	ctx := context.Background()

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}
	db, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	defer db.Close()
	log.Printf("migrations applied")
}

// runMigrateStatus reports the current schema_migrations version without
// applying anything.
func runMigrateStatus() {
	loadEnv()
	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}
	v, dirty, err := database.Status(dbCfg.DSN())
	if err != nil {
		log.Fatalf("migrate_status: %v", err)
	}
	fmt.Printf("version=%d dirty=%t\n", v, dirty)
}

// runRunWorker drives the embedded runtime worker either once (exit after
// one claim cycle, useful from cron) or in a poll loop until terminated.
func runRunWorker() {
	fs := flag.NewFlagSet("run_worker", flag.ExitOnError)
	once := fs.Bool("once", false, "claim and run a single cycle then exit")
	fs.Parse(os.Args[2:])

	loadEnv()
	ctx := context.Background()

	svc, err := buildServices(ctx)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer svc.db.Close()

	w := worker.New(svc.writer, svc.runs, svc.gate, svc.egressB, worker.Config{
		WorkspaceID:  svc.cfg.RunWorkerWorkspaceID,
		PollInterval: time.Duration(svc.cfg.RunWorkerPollMS) * time.Millisecond,
	})

	if *once {
		if err := w.RunOnce(ctx); err != nil && err != runlifecycle.ErrNoRunAvailable {
			log.Fatalf("run_worker: %v", err)
		}
		return
	}

	sigCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.Start(sigCtx)
	log.Printf("run_worker polling workspace %q every %dms", svc.cfg.RunWorkerWorkspaceID, svc.cfg.RunWorkerPollMS)
	select {}
}

// runOnSchedule is the shared entry point for snapshot_daily,
// survival_rollup, and lifecycle_automation: each runs its job body once
// and exits when invoked with no flags (the one-shot cron-driven CLI
// invocation the subcommand names imply), or, when given `-cron`, stays
// resident and re-runs the job on that schedule via robfig/cron — for
// deployments that run legatord as a long-lived job scheduler instead of
// wiring an external cron entry per subcommand.
func runOnSchedule(name string, fs *flag.FlagSet, job func(ctx context.Context, svc *services) int) {
	cronExpr := fs.String("cron", "", "cron expression to re-run this job on a schedule instead of once (e.g. \"0 3 * * *\")")
	fs.Parse(os.Args[2:])

	loadEnv()
	ctx := context.Background()

	svc, err := buildServices(ctx)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer svc.db.Close()

	if svc.cfg.RunWorkerWorkspaceID == "" {
		log.Fatalf("%s: RUN_WORKER_WORKSPACE_ID must be set", name)
	}

	if *cronExpr == "" {
		if failures := job(ctx, svc); failures > 0 {
			os.Exit(1)
		}
		return
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(*cronExpr, func() {
		if failures := job(ctx, svc); failures > 0 {
			log.Printf("%s: %d failures this run (scheduler stays up)", name, failures)
		}
	}); err != nil {
		log.Fatalf("%s: invalid -cron expression %q: %v", name, *cronExpr, err)
	}
	scheduler.Start()
	log.Printf("%s: scheduled on %q for workspace %q", name, *cronExpr, svc.cfg.RunWorkerWorkspaceID)
	select {}
}

// runSnapshotDaily computes yesterday's daily snapshot for every agent in
// the configured workspace.
func runSnapshotDaily() {
	runOnSchedule("snapshot_daily", flag.NewFlagSet("snapshot_daily", flag.ExitOnError), func(ctx context.Context, svc *services) int {
		workspaceID := svc.cfg.RunWorkerWorkspaceID
		snapshotDate := time.Now().UTC().AddDate(0, 0, -1)
		agents, err := svc.growthRec.ListAgents(ctx, workspaceID)
		if err != nil {
			log.Printf("snapshot_daily: list agents: %v", err)
			return 1
		}

		failures := 0
		for _, a := range agents {
			if err := svc.growthRec.ComputeDailySnapshot(ctx, workspaceID, a.AgentID, snapshotDate); err != nil {
				log.Printf("snapshot_daily: agent %s: %v", a.AgentID, err)
				failures++
			}
		}
		log.Printf("snapshot_daily: processed %d agents, %d failures", len(agents), failures)
		return failures
	})
}

// runSurvivalRollup computes yesterday's cost/value ledger row for every
// agent in the configured workspace.
func runSurvivalRollup() {
	runOnSchedule("survival_rollup", flag.NewFlagSet("survival_rollup", flag.ExitOnError), func(ctx context.Context, svc *services) int {
		workspaceID := svc.cfg.RunWorkerWorkspaceID
		ledgerDate := time.Now().UTC().AddDate(0, 0, -1)
		agents, err := svc.growthRec.ListAgents(ctx, workspaceID)
		if err != nil {
			log.Printf("survival_rollup: list agents: %v", err)
			return 1
		}

		failures := 0
		for _, a := range agents {
			if err := svc.growthRec.RollupSurvivalLedger(ctx, workspaceID, "agent", a.AgentID, ledgerDate); err != nil {
				log.Printf("survival_rollup: agent %s: %v", a.AgentID, err)
				failures++
			}
		}
		log.Printf("survival_rollup: processed %d agents, %d failures", len(agents), failures)
		return failures
	})
}

// runLifecycleAutomation advances each agent's ACTIVE/PROBATION/SUNSET
// state machine by one day using the configured hysteresis thresholds.
// Should run after survival_rollup has produced today's ledger row, so a
// scheduled invocation's -cron expression should trail survival_rollup's.
func runLifecycleAutomation() {
	runOnSchedule("lifecycle_automation", flag.NewFlagSet("lifecycle_automation", flag.ExitOnError), func(ctx context.Context, svc *services) int {
		workspaceID := svc.cfg.RunWorkerWorkspaceID
		thresholds := growth.LifecycleThresholds{
			ProbationEntryStreak: svc.cfg.ProbationEntryThreshold,
			ProbationExitStreak:  svc.cfg.ProbationExitStreak,
			SunsetStreak:         svc.cfg.SunsetProbationStreak,
		}

		ledgerDate := time.Now().UTC().AddDate(0, 0, -1)
		agents, err := svc.growthRec.ListAgents(ctx, workspaceID)
		if err != nil {
			log.Printf("lifecycle_automation: list agents: %v", err)
			return 1
		}

		failures := 0
		for _, a := range agents {
			state, err := svc.growthRec.AdvanceLifecycle(ctx, workspaceID, a.AgentID, ledgerDate, thresholds)
			if err != nil {
				log.Printf("lifecycle_automation: agent %s: %v", a.AgentID, err)
				failures++
				continue
			}
			log.Printf("lifecycle_automation: agent %s -> %s", a.AgentID, state)
		}
		return failures
	})
}
