package commands

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/dataconservancy/dcs-ingest/pkg/config"
	"github.com/dataconservancy/dcs-ingest/pkg/deposit"
	"github.com/dataconservancy/dcs-ingest/pkg/extract"
	"github.com/dataconservancy/dcs-ingest/pkg/ingest"
	"github.com/dataconservancy/dcs-ingest/pkg/policy"
	"github.com/dataconservancy/dcs-ingest/pkg/services"
	"github.com/dataconservancy/dcs-ingest/pkg/stores"
	"github.com/dataconservancy/dcs-ingest/pkg/telemetry"
)

// app holds the wired components of one dcsingest process.
type app struct {
	cfg       *config.Config
	tel       *telemetry.Telemetry
	store     *stores.SQLiteStore
	registry  *services.Registry
	policies  *policy.Engine
	loader    *policy.Loader
	manager   *deposit.Manager
	sequencer *ingest.PhaseSequencer
}

// loadConfig loads and validates the configuration at path.
func loadConfig(ctx context.Context, path string) (*config.Config, error) {
	cfg, err := config.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// relativeTo resolves p against the directory of the configuration file.
func relativeTo(cfg *config.Config, p string) string {
	if p == "" || filepath.IsAbs(p) || len(cfg.SourceFiles) == 0 {
		return p
	}
	return filepath.Join(filepath.Dir(cfg.SourceFiles[0]), p)
}

// newApp wires telemetry, the store, services, policies and the deposit
// manager from cfg.
func newApp(ctx context.Context, cfg *config.Config, version string) (*app, error) {
	a := &app{cfg: cfg}

	tel, err := telemetry.NewTelemetry(cfg.ToTelemetry(version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.tel = tel
	logger := tel.Logger.NewComponentLogger("app")

	var allocator ingest.IdAllocator = ingest.UUIDAllocator{}
	if cfg.NeedsStore() {
		store, err := stores.Open(ctx, stores.Config{Path: relativeTo(cfg, cfg.Store.Path)})
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		a.store = store
		if cfg.IDs.Allocator == "sqlite" {
			allocator = store
		}
	}

	if err := a.registerServices(ctx, allocator); err != nil {
		a.Close(ctx)
		return nil, err
	}

	if err := cfg.Validate(a.registry.IDs()...); err != nil {
		a.Close(ctx)
		return nil, err
	}

	phases := make([]ingest.Phase, 0, len(cfg.Phases))
	for _, pc := range cfg.Phases {
		svcs, err := a.registry.Resolve(pc.Services...)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		phases = append(phases, ingest.Phase{Number: pc.Number, PauseAfter: pc.PauseAfter, Services: svcs})
	}
	a.sequencer, err = ingest.NewPhaseSequencer(phases...)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	baseDir := relativeTo(cfg, cfg.Deposits.BaseDir)
	opts := []deposit.Option{
		deposit.WithAllocator(allocator),
		deposit.WithDetector(extract.MimeDetector{}),
		deposit.WithCleaner(deposit.DirectoryCleaner{Root: baseDir}),
		deposit.WithTelemetry(tel),
	}
	if a.store != nil && cfg.Store.Archive {
		opts = append(opts, deposit.WithArchive(a.store))
	}

	a.manager, err = deposit.NewManager(deposit.Config{
		BaseDir:          baseDir,
		PackagingProfile: cfg.Deposits.PackagingProfile,
		CacheCapacity:    cfg.Deposits.CacheCapacity,
		IDBatchSize:      cfg.IDs.BatchSize,
	}, a.sequencer, &extract.Selector{
		Strict:  cfg.Deposits.StrictPackaging,
		TempDir: cfg.Deposits.TempDir,
	}, opts...)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"phases":   len(phases),
		"services": len(a.registry.IDs()),
		"store":    a.store != nil,
	}).Debug("ingest pipeline ready")
	return a, nil
}

// registerServices builds the service registry: built-ins, scripts and the
// policy service.
func (a *app) registerServices(ctx context.Context, allocator ingest.IdAllocator) error {
	cfg := a.cfg
	a.registry = services.NewBuiltinRegistry(allocator)

	for _, sc := range cfg.Scripts {
		svc, err := services.LoadScriptService(sc.Name, relativeTo(cfg, sc.File), sc.Timeout.Std())
		if err != nil {
			return fmt.Errorf("failed to load script %s: %w", sc.Name, err)
		}
		if err := a.registry.Register(svc); err != nil {
			return err
		}
	}

	engine, err := policy.NewEngine(a.tel.Logger.Zerolog())
	if err != nil {
		return fmt.Errorf("failed to create policy engine: %w", err)
	}
	a.policies = engine

	paths := make([]string, len(cfg.Policies.Paths))
	for i, p := range cfg.Policies.Paths {
		paths[i] = relativeTo(cfg, p)
	}
	if len(paths) > 0 {
		if err := engine.LoadPolicies(ctx, paths); err != nil {
			return fmt.Errorf("failed to load policies: %w", err)
		}
	}
	if err := a.disablePolicies(); err != nil {
		return err
	}

	if cfg.Policies.Watch && len(paths) > 0 {
		a.loader = policy.NewLoader(a.tel.Logger.Zerolog())
		reload := func(policies []policy.Policy) error {
			if err := engine.SetPolicies(ctx, policies); err != nil {
				return err
			}
			return a.disablePolicies()
		}
		if err := a.loader.Watch(ctx, paths, reload); err != nil {
			return fmt.Errorf("failed to watch policies: %w", err)
		}
	}

	return a.registry.Register(policy.NewService(engine, cfg.Policies.Enforce))
}

func (a *app) disablePolicies() error {
	for _, name := range a.cfg.Policies.Disabled {
		if err := a.policies.DisablePolicy(name); err != nil {
			return fmt.Errorf("failed to disable policy %s: %w", name, err)
		}
	}
	return nil
}

// Close releases the store, the policy watcher and telemetry exporters.
func (a *app) Close(ctx context.Context) {
	if a.loader != nil {
		if err := a.loader.StopWatching(); err != nil {
			log.Warn().Err(err).Msg("Failed to stop policy watcher")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}
	if a.tel != nil {
		if err := a.tel.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to shut down telemetry")
		}
	}
}
