package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/centraldogma-project/centraldogma/internal/repository"
	"github.com/centraldogma-project/centraldogma/internal/revision"
)

var (
	findRev   string
	findMax   int
	findPaths bool
)

var findCmd = &cobra.Command{
	Use:   "find <project> <repo> <pattern>",
	Short: "List entries matching a path pattern at a revision",
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

		rev, err := revision.Parse(findRev)
		if err != nil {
			return fmt.Errorf("parse --rev: %w", err)
		}

		results, err := r.Find(context.Background(), rev, patternStr, repository.FindOptions{
			FetchContent: !findPaths,
			MaxEntries:   findMax,
		})
		if err != nil {
			return err
		}
		for _, res := range results {
			if findPaths {
				fmt.Println(res.Path)
				continue
			}
			fmt.Printf("%s\t%s\n", res.Path, res.Entry.Content)
		}
		return nil
	},
}

func init() {
	findCmd.Flags().StringVar(&findRev, "rev", "-1", "revision to search at")
	findCmd.Flags().IntVar(&findMax, "max", 0, "maximum number of results (0 means unlimited)")
	findCmd.Flags().BoolVar(&findPaths, "paths-only", false, "print matched paths only, skipping content fetch")
	rootCmd.AddCommand(findCmd)
}
