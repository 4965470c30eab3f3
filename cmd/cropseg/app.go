package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/satellitecrops/cropseg/checkpoints"
	"github.com/satellitecrops/cropseg/config"
	"github.com/satellitecrops/cropseg/engine/process"
	"github.com/satellitecrops/cropseg/internal/logging"
	"github.com/satellitecrops/cropseg/internal/status"
	"github.com/satellitecrops/cropseg/internal/telemetry"
	"github.com/satellitecrops/cropseg/layers"
	"github.com/satellitecrops/cropseg/pipeline"
	"github.com/satellitecrops/cropseg/registry"
	"github.com/satellitecrops/cropseg/vision/dataset"
)

// app holds everything a command needs, built from the config.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *registry.Store
	mirror   *registry.RedisMirror
	recorder *telemetry.Recorder
	runner   *pipeline.Runner
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	sets, _ := cmd.Flags().GetStringArray("set")
	if err := cfg.ApplyOverrides(sets); err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger := logging.New(level)

	format, err := checkpoints.ParseFormat(cfg.Registry.Format)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		recorder: telemetry.New(),
	}

	storeOpts := []registry.Option{
		registry.WithFormat(format),
		registry.WithLogger(logger),
	}
	if cfg.Registry.ModelTarget == config.TargetRedis {
		redisCfg := cfg.Registry.Redis
		a.mirror = registry.NewRedisMirror(redisCfg.Addr, redisCfg.Password, redisCfg.DB,
			registry.WithPrefix(redisCfg.Prefix),
			registry.WithTTL(redisCfg.TTL))
		if err := a.mirror.Ping(ctx); err != nil {
			a.mirror.Close()
			return nil, err
		}
		storeOpts = append(storeOpts, registry.WithMirror(a.mirror))
	}
	a.store = registry.New(cfg.Registry.Path, storeOpts...)

	loader := dataset.NewEOPatchLoader()
	loader.BandsFeature = cfg.Loader.BandsFeature
	loader.MaskFeature = cfg.Loader.MaskFeature
	loader.TimeIndex = cfg.Loader.TimeIndex
	loader.Workers = cfg.Loader.Workers

	builder := process.NewBuilder(cfg.Engine.Command, cfg.Engine.Args,
		process.WithEnv(cfg.Engine.Env...),
		process.WithWorkDir(cfg.Engine.WorkDir),
		process.WithLogger(logger))

	runnerOpts := []pipeline.Option{
		pipeline.WithMinCropsCoverage(cfg.MinCropsCoverage),
		pipeline.WithUNet(layers.UNetConfig{
			BaseFilters: cfg.Model.BaseFilters,
			Depth:       cfg.Model.Depth,
			DropoutRate: cfg.Model.DropoutRate,
		}),
		pipeline.WithStatus(status.New()),
		pipeline.WithLogger(logger),
		pipeline.WithRecorder(a.recorder),
	}
	if cfg.Seed != 0 {
		runnerOpts = append(runnerOpts, pipeline.WithSeed(uint64(cfg.Seed)))
	}
	a.runner = pipeline.NewRunner(loader, builder, a.store, runnerOpts...)

	return a, nil
}

func (a *app) params() pipeline.Params {
	t := a.cfg.Train
	return pipeline.Params{
		Optimizer:       t.Optimizer,
		LearningRate:    t.LearningRate,
		Momentum:        t.Momentum,
		Rho:             t.Rho,
		Loss:            t.Loss,
		BatchSize:       t.BatchSize,
		Patience:        t.Patience,
		Alpha:           t.Alpha,
		Gamma:           t.Gamma,
		ValidationSplit: t.ValidationSplit,
		TestSize:        t.TestSize,
		Epochs:          t.Epochs,
	}
}

// close flushes metrics and releases connections.
func (a *app) close() {
	if path := a.cfg.Metrics.Textfile; path != "" {
		if err := a.recorder.WriteTextfile(path); err != nil {
			a.logger.Warn("failed to export metrics", "error", err)
		}
	}
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
}

// setup loads the config and builds the app for cmd.
func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	return newApp(ctx, cfg)
}
