package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/centraldogma-project/centraldogma/internal/command"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Create, remove, migrate, and list repositories",
}

var repoCreateCmd = &cobra.Command{
	Use:   "create <project> <name>",
	Short: "Create a new repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRepoCommand(command.TypeCreateRepository, command.CreateRepositoryPayload{Project: args[0], Name: args[1]})
	},
}

var repoRemoveCmd = &cobra.Command{
	Use:   "rm <project> <name>",
	Short: "Soft-delete a repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRepoCommand(command.TypeRemoveRepository, command.RepositoryNamePayload{Project: args[0], Name: args[1]})
	},
}

var repoUnremoveCmd = &cobra.Command{
	Use:   "unremove <project> <name>",
	Short: "Restore a soft-deleted repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRepoCommand(command.TypeUnremoveRepository, command.RepositoryNamePayload{Project: args[0], Name: args[1]})
	},
}

var repoPurgeCmd = &cobra.Command{
	Use:   "purge <project> <name>",
	Short: "Permanently delete a soft-deleted repository",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRepoCommand(command.TypePurgeRepository, command.RepositoryNamePayload{Project: args[0], Name: args[1]})
	},
}

var repoMigrateEncryptCmd = &cobra.Command{
	Use:   "migrate-encrypt <project> <name>",
	Short: "Migrate a repository's object store to the encrypted backend",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRepoCommand(command.TypeMigrateToEncryptedRepository, command.MigrateToEncryptedRepositoryPayload{Project: args[0], Name: args[1]})
	},
}

var repoListCmd = &cobra.Command{
	Use:   "ls <project>",
	Short: "List repositories in a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()

		repos, err := m.ListRepositories(context.Background(), args[0])
		if err != nil {
			return err
		}
		for _, r := range repos {
			fmt.Println(r)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(repoCmd)
	repoCmd.AddCommand(repoCreateCmd, repoRemoveCmd, repoUnremoveCmd, repoPurgeCmd, repoMigrateEncryptCmd, repoListCmd)
}

func runRepoCommand(typ command.Type, payload any) error {
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
