// Package observability provides the process logger and formatted console output for the CLI.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/customs-lookup/internal/review"
	"github.com/jonathan/customs-lookup/internal/sink"
	"github.com/jonathan/customs-lookup/internal/training"
	"github.com/jonathan/customs-lookup/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
	// barWidth is the number of cells in a progress bar
	barWidth = 20
)

// Printer handles formatted console output
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %s │\n", pad(title, boxWidth-4))
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %s │\n", pad(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// pad truncates or right-pads s to width runes. Result values are Vietnamese, so widths count runes, not bytes.
func pad(s string, width int) string {
	r := []rune(s)
	if len(r) > width {
		return string(r[:width-3]) + "..."
	}
	return s + strings.Repeat(" ", width-len(r))
}

func progressBar(percent int) string {
	percent = max(0, min(100, percent))
	filled := percent * barWidth / 100
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled) + "]"
}

// PrintLookupEvent writes one line per event of a lookup batch.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintLookupEvent(ev types.LookupEvent) {
	switch ev.Kind {
	case types.EventProgress:
		fmt.Fprintf(p.out, "%s %3d%%  %s\n", progressBar(ev.Value), ev.Value, ev.Message)
	case types.EventResult:
		p.PrintResult(ev.Declaration, ev.Data)
	case types.EventError:
		fmt.Fprintf(p.out, "  ✗ %s\n", ev.Message)
	case types.EventFinalError:
		fmt.Fprintf(p.out, "⚠ %s: %s\n", ev.Declaration, ev.Message)
	case types.EventFatalError:
		fmt.Fprintf(p.out, "⛔ %s\n", ev.Message)
	case types.EventStopped:
		fmt.Fprintf(p.out, "■ %s\n", ev.Message)
	case types.EventDone:
		fmt.Fprintf(p.out, "%s 100%%  %s\n", progressBar(100), ev.Message)
	default:
		fmt.Fprintln(p.out, ev.String())
	}
}

// PrintResult outputs the portal's result rows for one declaration, in the portal's order.
func (p *Printer) PrintResult(declaration string, fields map[string]string) {
	var sb strings.Builder
	for _, name := range types.ResultFields {
		if v, ok := fields[name]; ok {
			sb.WriteString(fmt.Sprintf("%s: %s\n", name, v))
		}
	}
	for name, v := range fields {
		if !types.IsResultField(name) {
			sb.WriteString(fmt.Sprintf("%s: %s\n", name, v))
		}
	}
	if sb.Len() == 0 {
		sb.WriteString("(no data)\n")
	}
	p.printBox("DECLARATION "+declaration, strings.TrimSuffix(sb.String(), "\n"))
}

// PrintBatchSummary outputs the totals of a drained batch.
func (p *Printer) PrintBatchSummary(total int, st sink.Stats) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Declarations:   %d\n", total))
	sb.WriteString(fmt.Sprintf("Results:        %d\n", st.Results))
	sb.WriteString(fmt.Sprintf("Written:        %d\n", st.Written))
	if st.WriteFailures > 0 {
		sb.WriteString(fmt.Sprintf("Write failures: %d\n", st.WriteFailures))
	}
	sb.WriteString(fmt.Sprintf("Failed events:  %d\n", st.Failures))
	if st.Last.Kind != "" {
		sb.WriteString(fmt.Sprintf("Ended with:     %s", st.Last.Kind))
	}
	p.printBox("LOOKUP SUMMARY", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintReviewEvent writes one line per event of a review session.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintReviewEvent(ev review.Event) {
	switch ev.Type {
	case review.EventImageList:
		fmt.Fprintf(p.out, "Found %d archived images\n", len(ev.Images))
		count := min(len(ev.Images), maxItemsToShow)
		for _, name := range ev.Images[:count] {
			fmt.Fprintf(p.out, "  • %s\n", name)
		}
		if len(ev.Images) > maxItemsToShow {
			fmt.Fprintf(p.out, "  ... and %d more\n", len(ev.Images)-maxItemsToShow)
		}
	case review.EventPrediction:
		pred := ev.Prediction
		if pred == "" {
			pred = "(unsolved)"
		}
		fmt.Fprintf(p.out, "  %s #%d → %s\n", ev.Image, ev.Attempt, pred)
	case review.EventConsensusFound:
		fmt.Fprintf(p.out, "✓ %s = %q (%d votes) → %s\n", ev.Image, ev.Label, ev.Votes, ev.NewName)
	case review.EventConsensusFailed:
		fmt.Fprintf(p.out, "✗ %s: no consensus, left in archive\n", ev.Image)
	case review.EventTrainingStarted:
		fmt.Fprintln(p.out, "Retraining model...")
	case review.EventTrainingFinished:
		fmt.Fprintln(p.out, "Retraining finished")
	case review.EventError:
		fmt.Fprintf(p.out, "⚠ %s\n", ev.Message)
	case review.EventAllDone:
		fmt.Fprintln(p.out, "Review complete")
	}
}

// PrintReviewSummary outputs the totals of a review session.
func (p *Printer) PrintReviewSummary(s review.Summary) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Session:  %s\n", s.SessionID))
	sb.WriteString(fmt.Sprintf("Reviewed: %d\n", s.Reviewed))
	sb.WriteString(fmt.Sprintf("Accepted: %d\n", s.Accepted))
	sb.WriteString(fmt.Sprintf("Rejected: %d\n", s.Rejected))
	if s.Trained {
		sb.WriteString("Model retrained")
	} else {
		sb.WriteString("Model unchanged")
	}
	p.printBox("REVIEW SUMMARY", sb.String())
}

// PrintTrainingReport outputs corpus statistics, the loss curve ends and holdout accuracy.
func (p *Printer) PrintTrainingReport(r *training.Report) {
	if r == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Corpus images: %d (%d used)\n", r.Corpus.Images, r.Corpus.Used))
	if n := len(r.Corpus.Skipped); n > 0 {
		count := min(n, 3)
		sb.WriteString(fmt.Sprintf("Skipped:       %s", strings.Join(r.Corpus.Skipped[:count], ", ")))
		if n > count {
			sb.WriteString(fmt.Sprintf(" ... and %d more", n-count))
		}
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("Glyphs:        %d (train %d, holdout %d)\n", r.Glyphs, r.TrainSize, r.HoldoutSize))
	sb.WriteString(fmt.Sprintf("Classes:       %d\n", len(r.Classes)))
	if len(r.NewSymbols) > 0 {
		sb.WriteString(fmt.Sprintf("New symbols:   %s\n", strings.Join(r.NewSymbols, " ")))
	}
	if n := len(r.Losses); n > 0 {
		sb.WriteString(fmt.Sprintf("Loss:          %.4f → %.4f over %d epochs\n", r.Losses[0], r.Losses[n-1], n))
	}
	if r.HoldoutSize > 0 {
		sb.WriteString(fmt.Sprintf("Accuracy:      %.2f%%", r.Accuracy*100))
	} else {
		sb.WriteString("Accuracy:      n/a (no holdout)")
	}
	p.printBox("TRAINING REPORT", sb.String())
}
