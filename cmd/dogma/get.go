package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/centraldogma-project/centraldogma/internal/query"
	"github.com/centraldogma-project/centraldogma/internal/revision"
)

var (
	getRev       string
	getJSONPath  string
	getPrintJSON bool
)

var getCmd = &cobra.Command{
	Use:   "get <project> <repo> <path>",
	Short: "Read an entry at a revision, optionally evaluating a JSON path query",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, repo, path := args[0], args[1], args[2]

		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()

		r, err := m.GetRepository(context.Background(), project, repo)
		if err != nil {
			return err
		}

		rev, err := revision.Parse(getRev)
		if err != nil {
			return fmt.Errorf("parse --rev: %w", err)
		}

		if getJSONPath != "" {
			e, err := r.GetQuery(context.Background(), rev, query.JSONPath(path, getJSONPath))
			if err != nil {
				return err
			}
			return printEntryContent(e.Content)
		}

		e, err := r.Get(context.Background(), rev, path)
		if err != nil {
			return err
		}
		return printEntryContent(e.Content)
	},
}

func printEntryContent(content json.RawMessage) error {
	if len(content) == 0 {
		return nil
	}
	if _, err := os.Stdout.Write(content); err != nil {
		return err
	}
	fmt.Println()
	return nil
}

func init() {
	getCmd.Flags().StringVar(&getRev, "rev", "-1", "revision to read at (absolute or relative, e.g. -1 for HEAD)")
	getCmd.Flags().StringVar(&getJSONPath, "jsonpath", "", "evaluate this JSON path expression against the entry instead of returning it raw")
	rootCmd.AddCommand(getCmd)
}
