package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runServe bool

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Review archived CAPTCHAs if there are any, then look up pending declarations",
	Long: `Runs the whole cycle: when the failure archive holds images, a review session re-reads them and retrains on
the agreed labels; the lookup batch then runs with the refreshed model.`,
	RunE: runAllCmd,
}

func init() {
	runCommand.Flags().BoolVar(&runServe, "serve", false, "Run the review phase behind the web console")
	runCommand.Flags().StringSliceVarP(&lookupDeclarations, "declaration", "d", nil, "Declaration number to look up (repeatable)")
	runCommand.Flags().BoolVar(&lookupHeaded, "headed", false, "Show the browser window")
	rootCmd.AddCommand(runCommand)
}

func runAllCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	images, err := newArchive().List()
	if err != nil {
		return err
	}
	if len(images) > 0 {
		logger.Info("review phase", zap.Int("archived", len(images)))
		sum, err := reviewPhase(ctx, runServe)
		if err != nil {
			return fmt.Errorf("review phase failed: %w", err)
		}
		printer.PrintReviewSummary(sum)
	} else {
		logger.Info("review phase skipped, archive is empty")
	}

	// lookupPhase loads the solver afresh, so a model retrained above is picked up.
	return lookupPhase(ctx, cmd.Flags().Changed("headed"))
}
