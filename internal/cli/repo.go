package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cperrin88/starpack/pkg/config"
	"github.com/cperrin88/starpack/pkg/errs"
	"github.com/cperrin88/starpack/pkg/repoindex"
	"github.com/spf13/cobra"
)

// NewRepoCmd creates the repo command with subcommands.
func NewRepoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage repositories and build repository indexes",
	}

	cmd.AddCommand(
		newRepoListCmd(),
		newRepoAddCmd(),
		newRepoRemoveCmd(),
		newRepoIndexCmd(),
		newRepoAddMissingCmd(),
	)

	return cmd
}

func newRepoListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured repository URLs",
		RunE: func(*cobra.Command, []string) error {
			return runRepoList()
		},
	}
}

func newRepoAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add URL",
		Short: "Add a repository URL to repos.conf",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runRepoAdd(args[0])
		},
	}
}

func newRepoRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove URL",
		Short: "Remove a repository URL from repos.conf",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runRepoRemove(args[0])
		},
	}
}

func newRepoIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index DIR",
		Short: "Build repo.db.yaml for every .starpack archive in DIR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepoIndex(cmd.Context(), args[0])
		},
	}
}

func newRepoAddMissingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-missing DIR",
		Short: "Index only the .starpack archives in DIR not yet in repo.db.yaml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepoAddMissing(cmd.Context(), args[0])
		},
	}
}

func runRepoList() error {
	repos, err := config.LoadRepos(config.New(installRoot()).ReposConf())
	if err != nil {
		return err
	}
	for _, r := range repos {
		fmt.Println(r)
	}
	return nil
}

func runRepoAdd(url string) error {
	path := config.New(installRoot()).ReposConf()
	repos, err := config.LoadRepos(path)
	if err != nil && !errors.Is(err, errs.ErrNoRepositories) {
		return err
	}
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	for _, r := range repos {
		if r == url {
			return nil
		}
	}
	repos = append(repos, url)
	return config.SaveRepos(path, repos)
}

func runRepoRemove(url string) error {
	path := config.New(installRoot()).ReposConf()
	repos, err := config.LoadRepos(path)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(url, "/") {
		url += "/"
	}
	var kept []string
	for _, r := range repos {
		if r != url {
			kept = append(kept, r)
		}
	}
	return config.SaveRepos(path, kept)
}

func runRepoIndex(ctx context.Context, dir string) error {
	ix := repoindex.NewIndexer()
	if err := ix.BuildIndex(ctx, dir); err != nil {
		return fmt.Errorf("failed to build repository index: %w", err)
	}
	return nil
}

func runRepoAddMissing(ctx context.Context, dir string) error {
	ix := repoindex.NewIndexer()
	if err := ix.AugmentIndex(ctx, dir); err != nil {
		return fmt.Errorf("failed to augment repository index: %w", err)
	}
	return nil
}
