package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/centraldogma-project/centraldogma/internal/change"
	"github.com/centraldogma-project/centraldogma/internal/command"
)

var (
	pushBase    int64
	pushSummary string
	pushDetail  string
	pushMarkup  string
	pushFile    string
	pushForce   bool
)

var pushCmd = &cobra.Command{
	Use:   "push <project> <repo>",
	Short: "Commit a batch of changes read as a JSON array of Change objects",
	Long: `push reads a JSON array of Change objects (see internal/change.Change)
from --file, or stdin if --file is omitted, and commits them as one
revision built on --base.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, repo := args[0], args[1]

		var raw []byte
		var err error
		if pushFile != "" {
			raw, err = os.ReadFile(pushFile)
		} else {
			raw, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("read changes: %w", err)
		}

		var changes []change.Change
		if err := json.Unmarshal(raw, &changes); err != nil {
			return fmt.Errorf("parse changes: %w", err)
		}

		m, ex, err := openExecutor()
		if err != nil {
			return err
		}
		defer m.Close()

		base := pushBase
		if base < 0 {
			r, err := m.GetRepository(context.Background(), project, repo)
			if err != nil {
				return fmt.Errorf("resolve current head: %w", err)
			}
			base = r.Head()
		}

		pushCmd, err := command.NewPush(project, repo, base, pushSummary, pushDetail,
			change.MarkupKind(pushMarkup), changes, authorName, time.Now().Unix())
		if err != nil {
			return err
		}
		if pushForce {
			pushCmd = command.WrapForcePush(pushCmd)
		}

		result, err := ex.Execute(context.Background(), pushCmd)
		if err != nil {
			return err
		}
		fmt.Println(result.Revision)
		return nil
	},
}

func init() {
	pushCmd.Flags().Int64Var(&pushBase, "base", -1, "base revision this push is built on (negative resolves to current HEAD)")
	pushCmd.Flags().StringVar(&pushSummary, "summary", "", "commit summary")
	pushCmd.Flags().StringVar(&pushDetail, "detail", "", "commit detail")
	pushCmd.Flags().StringVar(&pushMarkup, "markup", string(change.MarkupPlaintext), "markup kind of --detail (PLAINTEXT or MARKDOWN)")
	pushCmd.Flags().StringVar(&pushFile, "file", "", "file containing a JSON array of changes (default: stdin)")
	pushCmd.Flags().BoolVar(&pushForce, "force", false, "bypass non-WRITABLE server status (spec's ForcePush)")
	rootCmd.AddCommand(pushCmd)
}
