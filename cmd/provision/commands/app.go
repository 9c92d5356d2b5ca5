package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/openfroyo/provisioner/pkg/config"
	"github.com/openfroyo/provisioner/pkg/engine"
	"github.com/openfroyo/provisioner/pkg/orchestrator"
	"github.com/openfroyo/provisioner/pkg/policy"
	"github.com/openfroyo/provisioner/pkg/providers/local"
	"github.com/openfroyo/provisioner/pkg/stores"
	"github.com/openfroyo/provisioner/pkg/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultDatabase is used when neither --db nor the configuration names one.
const DefaultDatabase = "provisioner.db"

const shutdownTimeout = 10 * time.Second

// app holds the components wired for one command invocation.
type app struct {
	config    *config.Config
	resolver  *config.Resolver
	store     *stores.SQLiteStore
	backend   *local.Backend
	rules     *policy.Engine
	validator *policy.Validator
	watcher   *policy.Loader
	telemetry *telemetry.Telemetry
	orch      *orchestrator.Orchestrator
	logger    zerolog.Logger
}

// loadConfig reads the --config files over the builtin defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(log.Logger).Load(configPaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newApp wires configuration, storage, policies, telemetry and the
// orchestrator from the global flags.
func newApp(ctx context.Context) (*app, error) {
	logger := log.Logger

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	settings := cfg.Settings

	a := &app{
		config:   cfg,
		resolver: config.NewResolver(cfg),
		logger:   logger,
	}

	path := firstNonEmpty(dbPath, settings.Database, DefaultDatabase)
	a.store, err = stores.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	a.backend = local.New(a.store, local.WithLogger(logger))
	if sandboxFile != "" {
		fixtures, err := local.LoadFixtures(sandboxFile)
		if err == nil {
			err = a.backend.Seed(ctx, fixtures)
		}
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	if err := a.initPolicies(ctx, append(settings.PolicyPaths, policyPaths...)); err != nil {
		a.Close(ctx)
		return nil, err
	}

	if err := a.initTelemetry(ctx, settings); err != nil {
		a.Close(ctx)
		return nil, err
	}

	metrics := a.telemetry.Metrics
	if err := metrics.Serve(ctx, logger); err != nil {
		a.Close(ctx)
		return nil, err
	}

	retry := engine.NewRetryExecutor(
		engine.WithRetryLogger(logger),
		engine.WithRetryHook(metrics.RetryHook()),
	)
	gate := engine.NewIdempotencyGate(
		engine.WithStrictExisting(settings.StrictExisting),
		engine.WithGateLogger(logger),
	)

	a.orch = orchestrator.New(a.backend,
		orchestrator.WithValidator(a.validator),
		orchestrator.WithConfig(a.resolver),
		orchestrator.WithEventSink(a.telemetry.Events),
		orchestrator.WithRunRecorder(a.store),
		orchestrator.WithAuditLog(a.store, actor),
		orchestrator.WithRetryExecutor(retry),
		orchestrator.WithGate(gate),
		orchestrator.WithTracer(a.telemetry.Tracer),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithLogger(a.telemetry.Logger),
		orchestrator.WithNameMode(settings.NameMode),
		orchestrator.WithDefaultRetryPolicy(settings.Retry.Policy("")),
		orchestrator.WithDeploymentPrefix(settings.DeploymentPrefix),
	)

	return a, nil
}

func (a *app) initPolicies(ctx context.Context, paths []string) error {
	rules, err := policy.NewEngine(ctx, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(paths) > 0 {
		if err := rules.LoadPolicies(ctx, paths); err != nil {
			return err
		}
		if watchPolicies {
			a.watcher = policy.NewLoader(a.logger)
			reload := func(ctx context.Context, policies []policy.Policy) error {
				if err := rules.ReplacePolicies(ctx, policies); err != nil {
					return err
				}
				return disablePolicies(rules, disabledPolicies)
			}
			if err := a.watcher.Watch(ctx, paths, reload); err != nil {
				return err
			}
		}
	}
	if err := disablePolicies(rules, disabledPolicies); err != nil {
		return err
	}
	a.rules = rules
	a.validator = policy.NewValidator(a.logger, policy.WithRules(rules))
	return nil
}

// disablePolicies turns off the named policies.
func disablePolicies(rules *policy.Engine, names []string) error {
	for _, name := range names {
		if err := rules.SetEnabled(name, false); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) initTelemetry(ctx context.Context, settings config.Settings) error {
	cfg, err := telemetry.ConfigForProfile(telemetryProfile)
	if err != nil {
		return err
	}
	cfg.ServiceVersion = buildVersion
	cfg.Events.Capacity = settings.Events.Capacity
	cfg.Events.File = settings.Events.File
	cfg.Metrics.ListenAddress = metricsAddr
	if otlpEndpoint != "" {
		cfg.Tracing.Endpoint = otlpEndpoint
	}
	switch tracing {
	case "":
		// The profile decides.
	case "none":
		cfg.Tracing.Enabled = false
	default:
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = tracing
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	opts := []telemetry.Option{
		telemetry.WithEventStoreOptions(telemetry.WithPersister(a.store)),
	}
	// Without a profile the CLI's global logger is kept.
	if telemetryProfile == "" {
		opts = append(opts, telemetry.WithLogger(telemetry.NewLoggerFrom(a.logger)))
	}
	if ac := settings.Events.Archive; ac != nil {
		archive := telemetry.ArchiveConfig{
			Bucket:    ac.Bucket,
			Prefix:    ac.Prefix,
			Region:    ac.Region,
			Endpoint:  ac.Endpoint,
			AccessKey: ac.AccessKey,
			SecretKey: ac.SecretKey,
		}
		for _, k := range ac.Kinds {
			archive.Kinds = append(archive.Kinds, engine.EventKind(k))
		}
		opts = append(opts, telemetry.WithArchive(archive))
	}

	t, err := telemetry.NewTelemetry(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.telemetry = t
	return nil
}

// Close drains telemetry into the store before closing it.
func (a *app) Close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to stop policy watcher")
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn().Err(err).Msg("Telemetry shutdown incomplete")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("Failed to close database")
		}
	}
}

// openStore opens only the database, for commands that do not provision.
func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path := firstNonEmpty(dbPath, cfg.Settings.Database, DefaultDatabase)
	store, err := stores.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	return store, nil
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "provision"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
