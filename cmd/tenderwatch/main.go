package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/tenderwatch/internal/app"
	"github.com/ternarybob/tenderwatch/internal/common"
	"github.com/ternarybob/tenderwatch/internal/models"
	svcconfig "github.com/ternarybob/tenderwatch/internal/services/config"
	"github.com/ternarybob/tenderwatch/internal/services/scheduler"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths

	portalList   = flag.String("portals", "portals.csv", "Portal list CSV (Name, BaseURL, Keyword)")
	portalURL    = flag.String("url", "", "Run a single portal by name (or base URL)")
	settingsPath = flag.String("settings", "tenderwatch_settings.json", "Shared JSON settings file")
	outputDir    = flag.String("output", "", "Export directory (overrides config)")
	logPath      = flag.String("log", "", "Log file path (overrides config)")
	jobID        = flag.String("job-id", "", "Job identifier for log correlation")
	jsonEvents   = flag.Bool("json-events", false, "Emit NDJSON events on stdout")
	deptWorkers  = flag.Int("dept-workers", 1, "Department workers within a portal (GUI-mode knob)")
	batchMode    = flag.String("mode", "", "Batch mode: sequential or parallel (overrides config)")
	maxParallel  = flag.Int("max-parallel", 0, "Parallel worker cap (overrides config)")
	onlyNew      = flag.Bool("only-new", false, "Skip tenders already in the store")
	deltaMode    = flag.String("delta", "", "Delta sweep mode: quick or full")
	resume       = flag.Bool("resume", false, "Resume an interrupted batch from the checkpoint")
	watchMode    = flag.Bool("watch", false, "Stay up after the batch, watching portals for changes")

	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Tenderwatch version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup order: config files, settings overlay, flag overrides, logger,
	// banner, service graph
	if len(configFiles) == 0 {
		if _, err := os.Stat("tenderwatch.toml"); err == nil {
			configFiles = append(configFiles, "tenderwatch.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	settings, err := svcconfig.LoadSettings(*settingsPath, common.GetLogger())
	if err != nil {
		arbor.NewLogger().Fatal().Str("path", *settingsPath).Err(err).Msg("Failed to load settings file")
		os.Exit(1)
	}
	settings.Apply(config)

	applyFlagOverrides(config)

	if err := common.Validate(config); err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	logger = common.InitLogger(config, *logPath)
	common.PrintBanner(common.GetVersion())

	job := *jobID
	if job == "" {
		job = common.NewJobID()
	}
	logger.Info().
		Str("job_id", job).
		Strs("config_files", configFiles).
		Str("mode", config.Batch.Mode).
		Msg("Configuration loaded")

	if *deptWorkers > 1 {
		logger.Debug().Int("dept_workers", *deptWorkers).Msg("Department workers above 1 only apply in GUI mode")
	}

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
		os.Exit(1)
	}
	defer application.Close()

	if *jsonEvents {
		attachJSONEvents(application.Events, job)
	}

	// One stop token: OS signals and internal stop requests share it
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer signalCancel()
	stop := scheduler.NewStopSignal(signalCtx)
	ctx := stop.Context()

	portals, err := resolvePortals(application)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to resolve portals")
		os.Exit(1)
	}

	exitCode := 0
	if args := flag.Args(); len(args) > 0 && args[0] == "department" {
		exitCode = runDepartmentCommand(ctx, application, portals, args[1:])
	} else {
		exitCode = runBatchCommand(ctx, application, portals, settings)
	}

	if stop.Stopped() {
		logger.Info().Msg("Stopped on request; progress checkpointed")
	}
	os.Exit(exitCode)
}

// runBatchCommand runs the configured batch and, in watch mode, stays up
// draining watch-triggered requests until a stop signal.
func runBatchCommand(ctx context.Context, application *app.App, portals []models.Portal, settings *svcconfig.Settings) int {
	opts := scheduler.BatchOptions{
		Portals:     portals,
		Mode:        config.Batch.Mode,
		MaxParallel: config.Batch.MaxParallel,
		Scope:       models.ScopeAll,
		OnlyNew:     config.Batch.OnlyNew || *onlyNew,
		DeltaMode:   config.Batch.DeltaMode,
		Resume:      *resume,
	}
	if *portalURL != "" {
		opts.Scope = models.ScopeSelected
	}

	report, err := application.Scheduler.RunBatch(ctx, opts)
	if err != nil {
		logger.Error().Err(err).Msg("Batch failed")
		return 1
	}
	logger.Info().
		Int("completed", report.CompletedPortals).
		Int("failed", report.FailedPortals).
		Int("tenders", report.Totals.Tenders).
		Msg("Batch finished")

	if !*watchMode || ctx.Err() != nil {
		if report.CompletedPortals == 0 && report.FailedPortals > 0 {
			return 1
		}
		return 0
	}

	if err := application.StartWatcher(ctx, portals, settings.RefreshWatchPortals); err != nil {
		logger.Error().Err(err).Msg("Starting refresh watcher failed")
		return 1
	}
	logger.Info().Msg("Watching portals - Press Ctrl+C to stop")

	drainInterval := time.Duration(config.Refresh.LoopSeconds) * time.Second
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0
		case <-ticker.C:
			if _, err := application.Scheduler.DrainPending(ctx, portals); err != nil {
				logger.Warn().Err(err).Msg("Draining pending queue failed")
			}
		}
	}
}

// runDepartmentCommand scrapes selected departments of a single portal:
// tenderwatch --url <portal> department [--all] [--filter <substring>] [names...]
func runDepartmentCommand(ctx context.Context, application *app.App, portals []models.Portal, args []string) int {
	fs := flag.NewFlagSet("department", flag.ExitOnError)
	all := fs.Bool("all", false, "Scrape all departments")
	filter := fs.String("filter", "", "Keep departments whose name contains this substring")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if len(portals) != 1 {
		logger.Error().Msg("The department command needs a single portal; pass --url")
		return 2
	}
	names := fs.Args()
	if !*all && len(names) == 0 {
		logger.Error().Msg("The department command needs --all or a list of department names")
		return 2
	}

	opts := scheduler.BatchOptions{
		Portals:          portals,
		Mode:             scheduler.ModeSequential,
		Scope:            models.ScopeSelected,
		DepartmentFilter: *filter,
		OnlyNew:          config.Batch.OnlyNew || *onlyNew,
		DeltaMode:        config.Batch.DeltaMode,
	}
	if !*all {
		opts.SelectedDepartments = names
	}

	report, err := application.Scheduler.RunBatch(ctx, opts)
	if err != nil {
		logger.Error().Err(err).Msg("Department run failed")
		return 1
	}
	if report.CompletedPortals == 0 {
		return 1
	}
	return 0
}

// resolvePortals builds the portal set for this invocation: the whole list,
// or the one named by --url (a raw base URL is accepted too).
func resolvePortals(application *app.App) ([]models.Portal, error) {
	portals, err := svcconfig.LoadPortalList(*portalList, logger)
	if err != nil {
		if *portalURL == "" {
			return nil, err
		}
		logger.Warn().Err(err).Msg("Portal list unavailable, continuing with --url only")
	}

	if *portalURL == "" {
		if len(portals) == 0 {
			return nil, fmt.Errorf("portal list %s is empty", *portalList)
		}
		return portals, nil
	}

	selected, unknown := svcconfig.SelectPortals(portals, []string{*portalURL})
	if len(selected) == 1 {
		return selected, nil
	}
	if len(unknown) == 1 && common.ExtractHostname(*portalURL) != "" {
		// Not in the list but parseable as a URL; run it ad hoc
		return []models.Portal{models.NewPortal(common.KeywordFromURL(*portalURL), *portalURL, "")}, nil
	}
	return nil, fmt.Errorf("portal %q not found in %s", *portalURL, *portalList)
}

// applyFlagOverrides lays command-line flags over the loaded configuration
func applyFlagOverrides(cfg *common.Config) {
	if *outputDir != "" {
		cfg.Export.DownloadDirectory = *outputDir
	}
	if *batchMode != "" {
		cfg.Batch.Mode = *batchMode
	}
	if *maxParallel > 0 {
		cfg.Batch.MaxParallel = *maxParallel
	}
	if *deltaMode != "" {
		cfg.Batch.DeltaMode = *deltaMode
	}
	if *watchMode {
		cfg.Refresh.Enabled = true
	}
}
