package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/customs-lookup/internal/review"
	"github.com/jonathan/customs-lookup/internal/server"
	"github.com/jonathan/customs-lookup/internal/training"
)

var (
	reviewServe       bool
	reviewKeepServing bool
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Re-read archived CAPTCHAs by consensus and retrain on the agreed labels",
	Long: `Samples the model several times on every archived CAPTCHA. Images whose readings agree often enough are moved into
the training corpus under that label; the model is retrained once if any image was accepted.

With --serve the session runs behind a local web console that streams every vote and lets a person label the
images the vote could not settle.`,
	RunE: runReviewCmd,
}

func init() {
	reviewCmd.Flags().BoolVar(&reviewServe, "serve", false, "Run the review behind the web console")
	reviewCmd.Flags().BoolVar(&reviewKeepServing, "keep-serving", false, "With --serve, keep the console up after the session ends")
	rootCmd.AddCommand(reviewCmd)
}

func runReviewCmd(cmd *cobra.Command, _ []string) error {
	sum, err := reviewPhase(cmd.Context(), reviewServe)
	if err != nil {
		return err
	}
	printer.PrintReviewSummary(sum)
	return nil
}

func newReviewer() (*review.Reviewer, error) {
	trainer, err := training.NewProcessTrainer(trainArgs(), logger)
	if err != nil {
		return nil, err
	}
	return review.New(newArchive(), loadSolver(), trainer, reviewConfig(), logger), nil
}

// reviewPhase runs one review session, in the terminal or behind the console.
func reviewPhase(ctx context.Context, serve bool) (review.Summary, error) {
	rv, err := newReviewer()
	if err != nil {
		return review.Summary{}, err
	}
	if !serve {
		return rv.ReviewAll(ctx, printer.PrintReviewEvent)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		sum        review.Summary
		sessionErr error
		ran        bool
	)
	srv := server.New(server.Config{
		Addr: appCfg.Review.ListenAddr,
		OnSessionDone: func(s review.Summary, err error) {
			sum, sessionErr, ran = s, err, true
			if !reviewKeepServing {
				cancel()
			}
		},
	}, newArchive(), rv, logger)

	logger.Info("review console", zap.String("url", "http://"+appCfg.Review.ListenAddr))
	if err := srv.Start(serveCtx); err != nil {
		return review.Summary{}, err
	}
	if !ran {
		logger.Info("review console closed before a session ran")
	}
	if sessionErr != nil {
		logger.Warn("review session failed", zap.Error(sessionErr))
	}
	return sum, sessionErr
}
