package app

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Executor names accepted by Config.Executor. ExecutorAll runs every
// strategy on each request and checks that they agree.
const (
	ExecutorSequential = "sequential"
	ExecutorParallel   = "parallel"
	ExecutorReactor    = "reactor"
	ExecutorAll        = "all"
)

var executorNames = []string{ExecutorSequential, ExecutorParallel, ExecutorReactor, ExecutorAll}

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	PlanPaths   []string // .hcl / .json files or directories
	RequestPath string   // optional JSON request file

	Executor    string
	CPUWorkers  int
	IOWorkers   int
	Deadline    time.Duration // run-wide, 0 = none
	NodeTimeout time.Duration // 0 = operator default
	Repeat      int

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	PrintRegistry   bool
}

func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.PlanPaths) == 0 && !cfg.PrintRegistry {
		return nil, errors.New("PlanPaths is a required configuration field and cannot be empty")
	}
	if cfg.Executor == "" {
		cfg.Executor = ExecutorReactor
	}
	if !slices.Contains(executorNames, cfg.Executor) {
		return nil, fmt.Errorf("invalid executor '%s': must be one of %v", cfg.Executor, executorNames)
	}
	if cfg.CPUWorkers < 1 || cfg.IOWorkers < 1 {
		return nil, errors.New("worker counts must be at least 1")
	}
	if cfg.Deadline < 0 || cfg.NodeTimeout < 0 {
		return nil, errors.New("deadline and node timeout cannot be negative")
	}
	if cfg.Repeat == 0 {
		cfg.Repeat = 1
	}
	if cfg.Repeat < 0 {
		return nil, errors.New("repeat cannot be negative")
	}
	return &cfg, nil
}
