package main

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonathan/customs-lookup/internal/db"
	"github.com/jonathan/customs-lookup/internal/lookup"
	"github.com/jonathan/customs-lookup/internal/portal"
	"github.com/jonathan/customs-lookup/internal/sheets"
	"github.com/jonathan/customs-lookup/internal/sink"
	"github.com/jonathan/customs-lookup/internal/types"
)

var (
	lookupDeclarations []string
	lookupHeaded       bool
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Look up customs declarations on the portal",
	Long: `Looks up each declaration on the customs portal, solving its CAPTCHA with the local model.

Declarations come from --declaration flags or, when none are given, from the configured spreadsheet (rows whose
result column is still empty). Results are written back to the spreadsheet and, when DATABASE_URL is set, to
PostgreSQL.`,
	RunE: runLookupCmd,
}

func init() {
	lookupCmd.Flags().StringSliceVarP(&lookupDeclarations, "declaration", "d", nil, "Declaration number to look up (repeatable)")
	lookupCmd.Flags().BoolVar(&lookupHeaded, "headed", false, "Show the browser window")
	rootCmd.AddCommand(lookupCmd)
}

func runLookupCmd(cmd *cobra.Command, _ []string) error {
	return lookupPhase(cmd.Context(), cmd.Flags().Changed("headed"))
}

// lookupPhase gathers tasks, runs one batch and writes its results.
func lookupPhase(ctx context.Context, headedSet bool) error {
	tasks, stores, err := gatherTasks(ctx)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		logger.Info("no declarations to look up")
		return nil
	}

	var database *db.DB
	if appCfg.DatabaseURL != "" {
		database, err = db.Connect(ctx, appCfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	var runID uuid.UUID
	if database != nil {
		id, err := database.CreateRun(ctx, taskSource(), len(tasks))
		if err != nil {
			return err
		}
		runID = id
		stores = append(stores, database.Results(id))
	}

	var store sink.Store
	if len(stores) > 0 {
		store = sink.NewRetryingStore(sink.Multi(stores), logger)
	}

	headless := appCfg.Portal.IsHeadless()
	if headedSet {
		headless = !lookupHeaded
	}
	stats, err := runBatch(ctx, tasks, store, headless)
	if err != nil {
		return err
	}

	if database != nil {
		// The batch may have been interrupted; record the outcome regardless.
		if err := database.CompleteRun(context.WithoutCancel(ctx), runID, db.RunStatusFor(stats.Last.Kind)); err != nil {
			logger.Warn("failed to complete run record", zap.Error(err))
		}
	}
	if stats.Last.Kind == types.EventFatalError {
		return fmt.Errorf("lookup aborted: %s", stats.Last.Message)
	}
	return nil
}

func taskSource() string {
	if len(lookupDeclarations) > 0 {
		return "cli"
	}
	return "sheet"
}

// gatherTasks returns the declarations of this batch and the stores their results go to.
func gatherTasks(ctx context.Context) ([]types.DeclarationTask, []sink.Store, error) {
	if len(lookupDeclarations) > 0 {
		tasks := make([]types.DeclarationTask, 0, len(lookupDeclarations))
		for _, n := range lookupDeclarations {
			t := types.DeclarationTask{Number: n}
			if err := t.Validate(); err != nil {
				return nil, nil, fmt.Errorf("invalid declaration %q: %w", n, err)
			}
			tasks = append(tasks, t)
		}
		return tasks, nil, nil
	}

	sc := appCfg.Sheets
	if sc.URL == "" {
		return nil, nil, fmt.Errorf("no declarations: pass --declaration or configure sheets.url")
	}
	client, err := sheets.New(ctx, sc.URL, sc.CredentialsFile, sheets.Options{
		SheetName:   sc.SheetName,
		ReadColumn:  sc.ReadColumn,
		WriteColumn: sc.WriteColumn,
		ResultField: sc.ResultField,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := client.PendingTasks(ctx)
	if err != nil {
		return nil, nil, err
	}
	return tasks, []sink.Store{client}, nil
}

// runBatch drives one worker over tasks. An interrupt asks the worker to stop at its next checkpoint so the
// batch still ends with STOPPED rather than being cut off mid-declaration.
func runBatch(ctx context.Context, tasks []types.DeclarationTask, store sink.Store, headless bool) (sink.Stats, error) {
	solv := loadSolver()

	browser, err := portal.NewBrowser(browserOptions(headless), logger)
	if err != nil {
		return sink.Stats{}, err
	}
	defer browser.Close()

	var stop atomic.Bool
	release := context.AfterFunc(ctx, func() {
		logger.Info("stop requested, finishing current step")
		stop.Store(true)
	})
	defer release()

	worker := lookup.NewWorker(browser, solv, newArchive(), lookupConfig(), logger)
	workCtx := context.WithoutCancel(ctx)
	events := worker.Start(workCtx, tasks, &stop)

	stats := sink.Drain(workCtx, events, tasks, store, printer.PrintLookupEvent, logger)
	printer.PrintBatchSummary(len(tasks), stats)
	return stats, nil
}
