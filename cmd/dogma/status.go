package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/centraldogma-project/centraldogma/internal/command"
	"github.com/centraldogma-project/centraldogma/internal/executor"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Inspect or change the server's write-availability status",
}

// statusSetCmd exercises UpdateServerStatus end to end (command
// decoding, audit trail), but its effect is scoped to
// this one process: this CLI opens a fresh Standalone executor per
// invocation rather than talking to a long-running daemon, so there is
// no resident ServerStatus for a separate "status get" call to observe
// afterward. A real deployment sets status against the running node's
// RPC surface (out of scope here, see spec §6).
var statusSetCmd = &cobra.Command{
	Use:   "set <WRITABLE|REPLICATION_ONLY|READ_ONLY>",
	Short: "Set the server status for the lifetime of this invocation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := executor.ServerStatus(args[0])
		switch status {
		case executor.StatusWritable, executor.StatusReplicationOnly, executor.StatusReadOnly:
		default:
			return fmt.Errorf("unknown status %q", args[0])
		}

		m, ex, err := openExecutor()
		if err != nil {
			return err
		}
		defer m.Close()

		payload, err := json.Marshal(command.UpdateServerStatusPayload{Status: string(status)})
		if err != nil {
			return err
		}
		c := command.Command{Type: command.TypeUpdateServerStatus, Author: authorName, Timestamp: time.Now().Unix(), Payload: payload}
		if _, err := ex.Execute(context.Background(), c); err != nil {
			return err
		}
		fmt.Println(ex.Status())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.AddCommand(statusSetCmd)
}
