package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted operation queue",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	q, closeQueue, err := openQueue(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open queue", "error", err)
		os.Exit(1)
	}
	defer closeQueue()

	items := q.GetQueueItems()
	fmt.Printf("Queue: %d/%d entries (storage: %s)\n\n", len(items), cfg.Queue.MaxQueueSize, cfg.Storage.Driver)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tOPERATION\tRETRIES\tNEXT RETRY\tCREATED\tLAST ERROR")
	for _, e := range items {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			e.ID,
			e.OperationType,
			e.RetryCount,
			e.NextRetryTime.Format(time.RFC3339),
			e.CreatedAt.Format(time.RFC3339),
			e.LastError,
		)
	}
	_ = w.Flush()
}
