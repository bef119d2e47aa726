package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/recoverydesk/case-service/config"
	"github.com/recoverydesk/case-service/internal/app"
	"github.com/recoverydesk/case-service/internal/ingest"
	"github.com/recoverydesk/case-service/internal/progress"
	"github.com/recoverydesk/case-service/internal/registry"
	"github.com/recoverydesk/case-service/internal/types"
)

var (
	ingestBatchSize int
	ingestDelay     time.Duration
	ingestWebhook   string
	ingestStore     string
)

// ingestCmd represents the ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest one account file into the record store",
	Long: `Run one ingestion task inline: decode the file, resolve every row into a
customer and a case, commit in batches and print progress until the task ends.
The task registry is in-process; the record store is chosen with --store.`,
	Example: `  case-service ingest ./accounts.csv
  case-service ingest ./accounts.xlsx --batch-size 50 --store sqlite
  case-service ingest ./accounts.csv --webhook http://localhost:5678/webhook/ingest`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	registerIngestFlags(ingestCmd)
}

func registerIngestFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&ingestBatchSize, "batch-size", 0, "Rows per commit batch (default from config)")
	cmd.Flags().DurationVar(&ingestDelay, "delay", 0, "Pause after each batch (default from config)")
	cmd.Flags().StringVar(&ingestWebhook, "webhook", "", "Relay decoded rows to this URL")
	cmd.Flags().StringVar(&ingestStore, "store", "", "Record store: memory, sqlite or postgres (default from config)")
}

// applyIngestFlags overrides c with the flags the user passed
func applyIngestFlags(cmd *cobra.Command, c *config.Config) {
	if ingestBatchSize > 0 {
		c.Ingestion.BatchSize = ingestBatchSize
	}
	if cmd.Flags().Changed("delay") {
		c.Ingestion.BatchDelay = ingestDelay
	}
	if ingestWebhook != "" {
		c.Webhook.URL = ingestWebhook
	}
	if ingestStore != "" {
		c.Store.Driver = ingestStore
	}
}

func runIngest(cmd *cobra.Command, args []string) error {
	path, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("cannot read %s: %w", args[0], err)
	}

	applyIngestFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := app.NewResolver(st, cfg.Ingestion, logger)
	if err != nil {
		return err
	}
	runnerCfg, err := app.RunnerConfig(cfg.Ingestion)
	if err != nil {
		return err
	}

	reg := registry.NewMemory()
	runner := ingest.NewRunner(reg, res, app.NewDispatcher(cfg.Webhook, logger), runnerCfg, logger)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = runner.Shutdown(sctx)
	}()

	id, err := reg.Create(ctx, &types.Task{
		Status:   types.StatusReceived,
		Message:  "file received",
		Filepath: path,
		Filename: filepath.Base(path),
	})
	if err != nil {
		return err
	}

	snapshots, err := progress.NewStreamer(reg, 100*time.Millisecond, logger).Subscribe(ctx, id)
	if err != nil {
		return err
	}
	if err := runner.Trigger(ctx, id); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for snap := range snapshots {
		fmt.Fprintf(out, "%-10s %5d/%-5d %s\n", snap.Status, snap.CurrentAssigned, snap.TotalRows, snap.Message)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("interrupted")
	}

	task, err := reg.Get(context.Background(), id)
	if err != nil {
		return err
	}
	displayTask(cmd, task)

	if task.Status == types.StatusError {
		return fmt.Errorf("ingestion failed")
	}
	return nil
}

func displayTask(cmd *cobra.Command, task *types.Task) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "TASK\tSTATUS\tROWS\tCASES\tCUSTOMERS\tSKIPPED\tFAILED BATCHES")
	fmt.Fprintln(w, "----\t------\t----\t-----\t---------\t-------\t--------------")

	result := types.TaskResult{}
	if task.Result != nil {
		result = *task.Result
	}
	fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
		task.ID, task.Status, task.TotalRows,
		result.CasesCreated, result.CustomersCreated, result.RowsSkipped, result.BatchesFailed)
	w.Flush()

	if len(task.Errors) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "\nErrors (%d):\n", len(task.Errors))
		for i, e := range task.Errors {
			if i >= 20 {
				fmt.Fprintf(cmd.OutOrStdout(), "  ... and %d more\n", len(task.Errors)-20)
				break
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", e)
		}
	}
}
