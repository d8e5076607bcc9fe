package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove every queued operation and the persisted queue",
	Run:   runPurge,
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}

func runPurge(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	ctx := context.Background()
	q, closeQueue, err := openQueue(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open queue", "error", err)
		os.Exit(1)
	}
	defer closeQueue()

	count := q.GetQueueSize()
	if err := q.Clear(ctx); err != nil {
		slog.Error("Failed to purge queue", "error", err)
		closeQueue()
		os.Exit(1)
	}

	fmt.Printf("Purged %d queued operations\n", count)
}
