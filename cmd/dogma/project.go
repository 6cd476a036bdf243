package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/centraldogma-project/centraldogma/internal/command"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Create, remove, and list projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProjectCommand(command.TypeCreateProject, command.CreateProjectPayload{Name: args[0]})
	},
}

var projectRemoveCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Soft-delete a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProjectCommand(command.TypeRemoveProject, command.RemoveProjectPayload{Name: args[0]})
	},
}

var projectUnremoveCmd = &cobra.Command{
	Use:   "unremove <name>",
	Short: "Restore a soft-deleted project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProjectCommand(command.TypeUnremoveProject, command.RemoveProjectPayload{Name: args[0]})
	},
}

var projectPurgeCmd = &cobra.Command{
	Use:   "purge <name>",
	Short: "Permanently delete a soft-deleted project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProjectCommand(command.TypePurgeProject, command.RemoveProjectPayload{Name: args[0]})
	},
}

var projectListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()

		projects, err := m.ListProjects(context.Background())
		if err != nil {
			return err
		}
		for _, p := range projects {
			fmt.Println(p.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectCreateCmd, projectRemoveCmd, projectUnremoveCmd, projectPurgeCmd, projectListCmd)
}

// runProjectCommand marshals payload, wraps it as typ, and executes it
// through a fresh Standalone executor against --root-dir.
func runProjectCommand(typ command.Type, payload any) error {
	m, ex, err := openExecutor()
	if err != nil {
		return err
	}
	defer m.Close()

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	cmd := command.Command{Type: typ, Author: authorName, Timestamp: time.Now().Unix(), Payload: data}
	_, err = ex.Execute(context.Background(), cmd)
	return err
}
