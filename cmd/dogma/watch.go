package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/centraldogma-project/centraldogma/internal/revision"
)

var (
	watchLastKnown string
	watchTimeout   time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch <project> <repo> <pattern>",
	Short: "Long-poll for the next change under a path pattern",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, repo, patternStr := args[0], args[1], args[2]

		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()

		r, err := m.GetRepository(context.Background(), project, repo)
		if err != nil {
			return err
		}

		lastKnown, err := revision.Parse(watchLastKnown)
		if err != nil {
			return fmt.Errorf("parse --last-known: %w", err)
		}

		result, err := r.Watch(cmd.Context(), lastKnown, patternStr, watchTimeout)
		if err != nil {
			return err
		}
		if result.IsTimeout {
			fmt.Println("timeout")
			return nil
		}
		fmt.Println(result.Revision)
		return nil
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchLastKnown, "last-known", "head", "last revision the caller has already observed")
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 60*time.Second, "how long to wait for a matching change before giving up")
	rootCmd.AddCommand(watchCmd)
}
