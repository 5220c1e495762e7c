package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/customs-lookup/internal/classifier"
	"github.com/jonathan/customs-lookup/internal/training"
	"github.com/jonathan/customs-lookup/internal/types"
)

var relabelTrain bool

var relabelCmd = &cobra.Command{
	Use:   "relabel",
	Short: "Label archived CAPTCHAs by hand",
	Long: `Walks the CAPTCHAs left in the failure archive after review and asks for the characters in each. Labelled images
move into the training corpus; with --train the model is refitted afterwards.`,
	RunE: runRelabelCmd,
}

func init() {
	relabelCmd.Flags().BoolVar(&relabelTrain, "train", false, "Retrain when at least one image was labelled")
	rootCmd.AddCommand(relabelCmd)
}

func runRelabelCmd(cmd *cobra.Command, _ []string) error {
	s := loadSolver()
	var guess func(string) string
	if s.Ready() {
		guess = func(path string) string {
			label, err := s.SolveFile(path, classifier.Deterministic)
			if err != nil {
				return ""
			}
			return label
		}
	}

	res, err := relabelLoop(cmd.InOrStdin(), cmd.OutOrStdout(), newArchive(), guess)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "labelled %d, deleted %d, skipped %d\n", res.Moved, res.Deleted, res.Skipped)

	if relabelTrain && res.Moved > 0 {
		t := &training.InProcess{Config: trainingConfig(), Logger: logger, Reports: func(r training.Report) {
			printer.PrintTrainingReport(&r)
		}}
		return t.Train(cmd.Context())
	}
	return nil
}

type relabelStore interface {
	List() ([]types.ArchiveImage, error)
	FailurePath(name string) (string, error)
	MoveToCorpus(name, label string) (string, error)
	Remove(name string) error
}

type relabelResult struct {
	Moved   int
	Deleted int
	Skipped int
}

// relabelLoop prompts once per archived image until input ends or the operator quits. guess may be nil.
func relabelLoop(in io.Reader, out io.Writer, store relabelStore, guess func(path string) string) (relabelResult, error) {
	var res relabelResult
	images, err := store.List()
	if err != nil {
		return res, err
	}
	if len(images) == 0 {
		fmt.Fprintln(out, "archive is empty")
		return res, nil
	}

	sc := bufio.NewScanner(in)
	for i, img := range images {
		path, err := store.FailurePath(img.Name)
		if err != nil {
			return res, err
		}
		hint := ""
		if guess != nil {
			hint = guess(path)
		}

	prompt:
		for {
			fmt.Fprintf(out, "[%d/%d] %s\n", i+1, len(images), path)
			if hint != "" {
				fmt.Fprintf(out, "label (enter = %s, s = skip, d = delete, q = quit): ", hint)
			} else {
				fmt.Fprint(out, "label (s = skip, d = delete, q = quit): ")
			}
			if !sc.Scan() {
				return res, sc.Err()
			}

			answer := strings.TrimSpace(sc.Text())
			switch {
			case answer == "q":
				return res, nil
			case answer == "s", answer == "" && hint == "":
				res.Skipped++
				break prompt
			case answer == "d":
				if err := store.Remove(img.Name); err != nil {
					return res, err
				}
				res.Deleted++
				break prompt
			}

			if answer == "" {
				answer = hint
			}
			req := types.LabelRequest{Label: answer}
			if err := req.Validate(); err != nil {
				fmt.Fprintf(out, "%q is not a %d-character label\n", answer, types.CaptchaLength)
				continue
			}
			newName, err := store.MoveToCorpus(img.Name, answer)
			if err != nil {
				return res, err
			}
			fmt.Fprintf(out, "→ %s\n", newName)
			res.Moved++
			break
		}
	}
	return res, nil
}
