package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/customs-lookup/internal/training"
)

var (
	trainEpochs int
	trainSeed   int64
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit the CAPTCHA model on the labelled corpus",
	Long: `Segments every labelled corpus image into glyphs, extends the label codec with any new symbols, trains the glyph
classifier and installs the new weights and codec together.`,
	RunE: runTrainCmd,
}

func init() {
	trainCmd.Flags().IntVar(&trainEpochs, "epochs", 0, "Training epochs (default 30)")
	trainCmd.Flags().Int64Var(&trainSeed, "seed", 0, "Seed for initialisation, shuffling and the split (default 42)")
	rootCmd.AddCommand(trainCmd)
}

func runTrainCmd(cmd *cobra.Command, _ []string) error {
	cfg := trainingConfig()
	if cmd.Flags().Changed("epochs") {
		cfg.Train.Epochs = trainEpochs
	}
	if cmd.Flags().Changed("seed") {
		cfg.Train.Seed = trainSeed
	}

	t := &training.InProcess{Config: cfg, Logger: logger, Reports: func(r training.Report) {
		printer.PrintTrainingReport(&r)
	}}
	return t.Train(cmd.Context())
}
