package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/procctl/internal/config"
	"github.com/3leaps/procctl/internal/observability"
	"github.com/3leaps/procctl/internal/server"
	"github.com/3leaps/procctl/internal/server/handlers"
	"github.com/3leaps/procctl/pkg/jobregistry"
	"github.com/3leaps/procctl/pkg/jobs"
	"github.com/3leaps/procctl/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job server",
	Long: `Start the HTTP job server.

Endpoints:
  POST   /v1/jobs              submit a job spec (JSON)
  GET    /v1/jobs              list tracked jobs
  GET    /v1/jobs/{id}         job status and progress
  GET    /v1/jobs/{id}/result  result of a finished job
  DELETE /v1/jobs/{id}         kill a job
  GET    /health, /metrics, /version`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides server.host)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides server.port)")
}

func serveOverrides() map[string]any {
	srv := map[string]any{}
	if serveHost != "" {
		srv["host"] = serveHost
	}
	if servePort != 0 {
		srv["port"] = servePort
	}
	if len(srv) == 0 {
		return nil
	}
	return map[string]any{"server": srv}
}

// runtimeDeps are the long-lived components shared by serve and run.
type runtimeDeps struct {
	cfg      *config.Config
	logger   *zap.Logger
	fs       afero.Fs
	registry *jobregistry.Registry
	catalog  *jobs.Catalog
	journal  *jobregistry.Journal
}

// buildRuntime wires storage, journal, registry and catalog from cfg.
// metricsReg may be nil.
func buildRuntime(cfg *config.Config, logger *zap.Logger, metricsReg prometheus.Registerer, withEviction bool) (*runtimeDeps, error) {
	fs := afero.NewOsFs()
	factory, err := storage.NewFactory(fs, cfg.Jobs.StorageRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}

	opts := []jobregistry.Option{
		jobregistry.WithLogger(logger),
		jobregistry.WithMaxConcurrent(cfg.Jobs.MaxConcurrent),
		jobregistry.WithKillWait(cfg.Jobs.KillWait),
		jobregistry.WithShutdownTimeout(cfg.Jobs.ShutdownTimeout),
	}
	if withEviction {
		opts = append(opts, jobregistry.WithEviction(cfg.Jobs.CheckInterval(), cfg.Jobs.GracePeriod()))
	}
	if metricsReg != nil {
		opts = append(opts, jobregistry.WithMetrics(jobregistry.NewMetrics(metricsReg)))
	}

	var journal *jobregistry.Journal
	if cfg.Jobs.JournalRoot != "" {
		journal = jobregistry.NewJournal(fs, cfg.Jobs.JournalRoot)
		if n, err := journal.MarkAbandoned(); err != nil {
			logger.Warn("Failed to mark abandoned jobs", zap.Error(err))
		} else if n > 0 {
			logger.Info("Marked abandoned jobs", zap.Int("count", n))
		}
		last, err := journal.LastID()
		if err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
		opts = append(opts,
			jobregistry.WithJournal(journal),
			jobregistry.WithSequence(jobregistry.NewSequence(int64(last))),
		)
	}

	catalog := jobs.Default(jobs.Options{
		OutputRoot: cfg.Jobs.OutputRoot,
		Opener:     jobs.NewOpener(jobs.OpenerConfig{Fs: fs, S3: cfg.Providers.S3}),
		Logger:     logger,
	})

	return &runtimeDeps{
		cfg:      cfg,
		logger:   logger,
		fs:       fs,
		registry: jobregistry.New(jobregistry.FactoryFrom(factory), opts...),
		catalog:  catalog,
		journal:  journal,
	}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, serveOverrides())
	if err != nil {
		return exitError(ExitConfigError, "Invalid configuration", err)
	}
	logger, err := observability.InitLogger(cfg.Logging, binaryName)
	if err != nil {
		return exitError(ExitConfigError, "Failed to initialize logger", err)
	}
	defer func() { _ = logger.Sync() }()

	var promReg *prometheus.Registry
	var metricsReg prometheus.Registerer
	if cfg.Metrics.Enabled {
		promReg = prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metricsReg = promReg
	}

	deps, err := buildRuntime(cfg, logger, metricsReg, true)
	if err != nil {
		return exitError(ExitFailure, "Failed to start job registry", err)
	}
	deps.registry.Start()

	if cfg.Health.Enabled {
		hm := handlers.InitHealthManager(versionInfo.Version)
		hm.RegisterChecker("registry", registryHealthChecker{registry: deps.registry})
		hm.RegisterChecker("storage", storageHealthChecker{fs: deps.fs, root: cfg.Jobs.StorageRoot})
	}

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithJobs(deps.registry, deps.catalog),
		server.WithTimeouts(cfg.Server),
		server.WithHealth(cfg.Health.Enabled),
	}
	if promReg != nil {
		opts = append(opts, server.WithMetrics(promReg))
	}
	srv := server.New(cfg.Server.Host, cfg.Server.Port, opts...)

	logger.Info("Starting procctl server",
		zap.String("addr", srv.Addr()),
		zap.String("version", versionInfo.Version),
		zap.String("storage_root", cfg.Jobs.StorageRoot),
		zap.Duration("eviction_interval", cfg.Jobs.CheckInterval()),
		zap.Duration("eviction_grace", cfg.Jobs.GracePeriod()),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown did not complete", zap.Error(err))
	}
	if err := deps.registry.Close(); err != nil {
		logger.Warn("Job registry closed with errors", zap.Error(err))
	}
	logger.Info("Server stopped")

	if serveErr != nil {
		return exitError(ExitUnavailable, "Server failed", serveErr)
	}
	return nil
}

type registryHealthChecker struct {
	registry *jobregistry.Registry
}

func (c registryHealthChecker) CheckHealth(context.Context) error {
	if c.registry == nil || c.registry.Closed() {
		return errors.New("job registry is closed")
	}
	return nil
}

// storageHealthChecker verifies the storage root accepts new files.
type storageHealthChecker struct {
	fs   afero.Fs
	root string
}

func (c storageHealthChecker) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.fs.MkdirAll(c.root, 0o755); err != nil {
		return fmt.Errorf("storage root: %w", err)
	}
	f, err := afero.TempFile(c.fs, c.root, ".health-*")
	if err != nil {
		return fmt.Errorf("storage root not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return c.fs.Remove(name)
}
