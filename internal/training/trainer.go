package training

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// ProcessTrainer retrains by running the train command in a child process, keeping the CPU-bound fit away from
// the caller's goroutines and memory.
type ProcessTrainer struct {
	Executable string
	Args       []string
	logger     *zap.Logger
}

// NewProcessTrainer re-invokes the running binary with args.
func NewProcessTrainer(args []string, logger *zap.Logger) (*ProcessTrainer, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, &Error{Message: "cannot locate own executable", Cause: err}
	}
	return &ProcessTrainer{Executable: exe, Args: args, logger: logger}, nil
}

// Train runs the child process to completion.
func (p *ProcessTrainer) Train(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, p.Executable, p.Args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	p.logger.Info("starting training process", zap.String("exe", p.Executable), zap.Strings("args", p.Args))
	err := cmd.Run()
	p.logger.Debug("training process output", zap.String("output", out.String()))
	if err != nil {
		return &Error{Message: fmt.Sprintf("training process failed: %s", tail(out.String(), 5)), Cause: err}
	}
	p.logger.Info("training process finished")
	return nil
}

func tail(s string, lines int) string {
	parts := strings.Split(strings.TrimSpace(s), "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, " | ")
}

// InProcess trains inside the current process.
type InProcess struct {
	Config Config
	Logger *zap.Logger
	// Reports receives the report of every successful run.
	Reports func(Report)
}

// Train runs the pipeline once.
func (t *InProcess) Train(ctx context.Context) error {
	rep, err := Run(ctx, t.Config, t.Logger)
	if err != nil {
		return err
	}
	if t.Reports != nil {
		t.Reports(rep)
	}
	return nil
}
