// Package hivetrain provides a top-level convenience entry point for building
// a started hierarchical training scheduler from configuration.
//
// Usage:
//
//	import "github.com/BaSui01/hivetrain"
//
//	s, err := hivetrain.New(cfg.Scheduler, model, source, weights)
//	defer s.Shutdown(ctx)
//	res, err := s.RunEpoch(ctx)
//
// This is a thin wrapper around [scheduler.Build] and [scheduler.Scheduler.Start].
// Use [NewTrainer] when the caller wants the full training loop.
package hivetrain

import (
	"github.com/BaSui01/hivetrain/config"
	"github.com/BaSui01/hivetrain/scheduler"
	"github.com/BaSui01/hivetrain/trainer"
)

// SchedulerConfig converts the YAML/env scheduler section into a scheduler.Config.
// A zero worker count resolves to NumCPU-1 (at least 1).
func SchedulerConfig(cfg config.SchedulerConfig) scheduler.Config {
	return scheduler.Config{
		Workers:       config.ResolveWorkerCount(cfg.WorkerCount),
		Fanout:        cfg.Fanout,
		MaxDepth:      cfg.MaxHierarchyDepth,
		QueueCapacity: cfg.QueueCapacity,
		MaxGradNorm:   cfg.MaxGradNorm,
		LearningRate:  cfg.LearningRate,
		ChunkSize:     cfg.ChunkSize,
		LockOSThreads: cfg.LockOSThreads,
	}
}

// SchedulerOptions returns the options implied by cfg (spin/park tuning).
func SchedulerOptions(cfg config.SchedulerConfig) []scheduler.Option {
	return []scheduler.Option{scheduler.WithSpinPark(cfg.SpinIterations, cfg.ParkInterval)}
}

// New builds and starts a scheduler. Structural errors are returned, not panicked.
// Options passed by the caller are applied after those derived from cfg.
func New(cfg config.SchedulerConfig, model scheduler.Model, source scheduler.BatchSource, initialWeights []float64, opts ...scheduler.Option) (*scheduler.Scheduler, error) {
	all := append(SchedulerOptions(cfg), opts...)
	s, err := scheduler.Build(SchedulerConfig(cfg), model, source, initialWeights, all...)
	if err != nil {
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}
	return s, nil
}

// TrainerConfig converts the trainer section. The learning-rate schedule decays
// from the scheduler's base rate over the configured number of epochs.
func TrainerConfig(cfg *config.Config) trainer.Config {
	tc := cfg.Trainer
	return trainer.Config{
		Schedule: trainer.LRSchedule{
			BaseLR:       cfg.Scheduler.LearningRate,
			MinLR:        tc.MinLearningRate,
			WarmupEpochs: tc.WarmupEpochs,
			DecayEpochs:  tc.Epochs,
		},
		MaxGradNorm:            cfg.Scheduler.MaxGradNorm,
		CheckpointEvery:        tc.CheckpointEvery,
		KeepCheckpoints:        tc.KeepCheckpoints,
		MaxConsecutiveFailures: tc.MaxConsecutiveFailures,
		EarlyStopPatience:      tc.EarlyStopPatience,
		EarlyStopMinDelta:      tc.EarlyStopMinDelta,
		EpochTimeout:           tc.EpochTimeout,
	}
}

// NewTrainer wraps a started scheduler in a training loop configured from cfg.
func NewTrainer(s *scheduler.Scheduler, cfg *config.Config, opts ...trainer.Option) (*trainer.Trainer, error) {
	return trainer.New(s, TrainerConfig(cfg), opts...)
}
