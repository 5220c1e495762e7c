package main

import (
	"github.com/jonathan/customs-lookup/internal/archive"
	"github.com/jonathan/customs-lookup/internal/lookup"
	"github.com/jonathan/customs-lookup/internal/portal"
	"github.com/jonathan/customs-lookup/internal/review"
	"github.com/jonathan/customs-lookup/internal/solver"
	"github.com/jonathan/customs-lookup/internal/training"

	"go.uber.org/zap"
)

func newArchive() *archive.Store {
	return archive.New(appCfg.Paths.FailureDir, appCfg.Paths.CorpusDir)
}

// loadSolver always returns a solver; a disabled one is logged and left for callers to reject.
func loadSolver() *solver.Context {
	s, err := solver.Load(appCfg.Paths.ModelDir)
	if err != nil {
		logger.Warn("solver disabled", zap.String("model_dir", appCfg.Paths.ModelDir), zap.Error(err))
	}
	return s
}

func browserOptions(headless bool) portal.BrowserOptions {
	opts := portal.DefaultBrowserOptions()
	opts.Headless = headless
	opts.ElementTimeout = appCfg.Portal.ElementTimeout
	return opts
}

func lookupConfig() lookup.Config {
	p := appCfg.Portal
	cfg := lookup.DefaultConfig()
	cfg.URL = p.URL
	cfg.BusinessID = p.BusinessID
	cfg.PersonalID = p.PersonalID
	cfg.Selectors = p.Selectors
	cfg.MaxAttempts = p.MaxAttempts
	cfg.ResultWait = p.ResultWait
	cfg.AttemptPause = p.AttemptPause
	cfg.ReloadPause = p.ReloadPause
	return cfg
}

func reviewConfig() review.Config {
	cfg := review.DefaultConfig()
	cfg.Samples = appCfg.Review.Samples
	cfg.Threshold = appCfg.Review.Threshold
	cfg.VotePause = appCfg.Review.VotePause
	return cfg
}

func trainingConfig() training.Config {
	cfg := training.DefaultConfig()
	cfg.CorpusDir = appCfg.Paths.CorpusDir
	cfg.ModelDir = appCfg.Paths.ModelDir
	return cfg
}

// trainArgs re-invokes this binary's train command with the same configuration.
func trainArgs() []string {
	args := []string{"train"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if appCfg.Verbose {
		args = append(args, "--verbose")
	}
	return args
}
