package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/customs-lookup/internal/classifier"
	"github.com/jonathan/customs-lookup/internal/portal"
	"github.com/jonathan/customs-lookup/internal/types"
)

var (
	collectCount   int
	collectPreview string
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Build the training corpus by labelling fresh portal CAPTCHAs by hand",
	Long: `Opens the portal in a visible browser, shows each CAPTCHA and stores it in the training corpus under the characters
typed for it. Use it to bootstrap a corpus before the first training run.`,
	RunE: runCollectCmd,
}

func init() {
	collectCmd.Flags().IntVarP(&collectCount, "count", "n", 100, "Number of CAPTCHAs to label")
	collectCmd.Flags().StringVar(&collectPreview, "preview", "", "Also write each CAPTCHA to this file for viewing")
	rootCmd.AddCommand(collectCmd)
}

func runCollectCmd(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	browser, err := portal.NewBrowser(browserOptions(false), logger)
	if err != nil {
		return err
	}
	defer browser.Close()
	if err := browser.Navigate(ctx, appCfg.Portal.URL); err != nil {
		return err
	}

	var guess func([]byte) string
	if s := loadSolver(); s.Ready() {
		guess = func(data []byte) string {
			label, err := s.Solve(data, classifier.Deterministic)
			if err != nil {
				return ""
			}
			return label
		}
	}

	src := &portalChallenges{page: browser, sel: appCfg.Portal.Selectors}
	n, err := collectLoop(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), src, newArchive(), guess, collectCount, collectPreview)
	fmt.Fprintf(cmd.OutOrStdout(), "collected %d\n", n)
	return err
}

type challengeSource interface {
	Current(ctx context.Context) ([]byte, error)
	Refresh(ctx context.Context) error
}

type corpusWriter interface {
	AddToCorpus(data []byte, label, ext string) (string, error)
}

// portalChallenges reads CAPTCHAs off the lookup form.
type portalChallenges struct {
	page portal.Page
	sel  portal.Selectors
}

func (p *portalChallenges) Current(ctx context.Context) ([]byte, error) {
	src, err := p.page.ReadAttribute(ctx, p.sel.CaptchaImage, "src")
	if err != nil {
		return nil, err
	}
	return portal.DecodeCaptchaSource(src)
}

func (p *portalChallenges) Refresh(ctx context.Context) error {
	return p.page.Click(ctx, p.sel.RefreshButton)
}

// collectLoop labels up to count challenges. An empty answer skips the challenge, q stops.
func collectLoop(ctx context.Context, in io.Reader, out io.Writer, src challengeSource, store corpusWriter, guess func([]byte) string, count int, preview string) (int, error) {
	sc := bufio.NewScanner(in)
	collected := 0
	for collected < count {
		if err := ctx.Err(); err != nil {
			return collected, err
		}
		data, err := src.Current(ctx)
		if err != nil {
			return collected, err
		}
		if preview != "" {
			if err := os.WriteFile(preview, data, 0o644); err != nil {
				return collected, err
			}
		}

		hint := ""
		if guess != nil {
			hint = guess(data)
		}
		fmt.Fprintf(out, "[%d/%d] ", collected+1, count)
		if hint != "" {
			fmt.Fprintf(out, "model reads %s; ", hint)
		}
		fmt.Fprint(out, "type the characters (enter = skip, q = quit): ")
		if !sc.Scan() {
			return collected, sc.Err()
		}
		answer := strings.TrimSpace(sc.Text())
		if answer == "q" {
			return collected, nil
		}

		if answer != "" {
			req := types.LabelRequest{Label: answer}
			if err := req.Validate(); err != nil {
				fmt.Fprintf(out, "%q is not a %d-character label, skipped\n", answer, types.CaptchaLength)
			} else {
				name, err := store.AddToCorpus(data, answer, ".png")
				if err != nil {
					return collected, err
				}
				fmt.Fprintf(out, "saved %s\n", name)
				collected++
			}
		}

		if err := src.Refresh(ctx); err != nil {
			return collected, err
		}
	}
	return collected, nil
}
