package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/customs-lookup/internal/classifier"
)

var solveSamples int

var solveCmd = &cobra.Command{
	Use:   "solve <image>...",
	Short: "Read CAPTCHA images with the current model",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSolveCmd,
}

func init() {
	solveCmd.Flags().IntVarP(&solveSamples, "samples", "n", 1, "Readings per image; more than one samples with dropout")
	rootCmd.AddCommand(solveCmd)
}

func runSolveCmd(cmd *cobra.Command, args []string) error {
	s := loadSolver()
	if !s.Ready() {
		return s.Cause()
	}

	mode := classifier.Deterministic
	if solveSamples > 1 {
		mode = classifier.Sampling
	}
	out := cmd.OutOrStdout()
	for _, path := range args {
		readings := make([]string, 0, solveSamples)
		for i := 0; i < max(solveSamples, 1); i++ {
			label, err := s.SolveFile(path, mode)
			if err != nil {
				logger.Debug("unreadable", zap.String("image", path), zap.Error(err))
				label = "-"
			}
			readings = append(readings, label)
		}
		fmt.Fprintf(out, "%s\t%s\n", path, strings.Join(readings, " "))
	}
	return nil
}
