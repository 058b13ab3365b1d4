package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one rate poll against the configured store and exit",
	Long: `Poll fetches the CBR daily rates and the Binance prices once, applies
them to the configured store, prints the run summary as JSON and exits.
Changes are published on NATS when it is configured.`,
	RunE: runPoll,
}

func runPoll(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	defer func() {
		if err := app.Close(context.Background()); err != nil {
			slog.Warn("shutdown completed with errors", "err", err)
		}
	}()

	sum, err := app.poller.RunOnce(ctx)
	out := map[string]any{"status": "ok", "summary": sum}
	if err != nil {
		out["status"] = "error"
		out["error"] = err.Error()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(out); encErr != nil {
		fmt.Fprintf(os.Stdout, `{"status":%q}`+"\n", out["status"])
	}

	if err != nil {
		return fmt.Errorf("poll failed: %w", err)
	}
	return nil
}
