package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/outbox/internal/core/domain"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [operation_type] [payload_json]",
	Short: "Add an operation to the persisted queue",
	Long: `Add an operation to the persisted queue. It is delivered the next time the
service runs with connectivity. Operation types: status_update, read_receipts,
message_delivered, presence_pulse, typing_pulse.`,
	Args: cobra.ExactArgs(2),
	Run:  runEnqueue,
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) {
	op := domain.OperationType(args[0])
	payload, err := domain.DecodePayload(op, json.RawMessage(args[1]))
	if err != nil {
		fmt.Printf("Invalid operation: %v\n", err)
		os.Exit(1)
	}

	cfg := loadConfig()
	ctx := context.Background()
	q, closeQueue, err := openQueue(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open queue", "error", err)
		os.Exit(1)
	}
	defer closeQueue()

	id, err := q.Enqueue(ctx, payload)
	if err != nil {
		slog.Error("Failed to enqueue operation", "error", err)
		closeQueue()
		os.Exit(1)
	}

	fmt.Printf("Enqueued %s as %s (queue size %d)\n", op, id, q.GetQueueSize())
}
