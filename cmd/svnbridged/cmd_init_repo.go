package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/svnbridge/svnbridged/internal/config"
	"github.com/svnbridge/svnbridged/internal/gitobj"
)

func newInitRepoCmd() *cobra.Command {
	var repoName string
	var configPath string

	cmd := &cobra.Command{
		Use:   "init-repo [git-dir]",
		Short: "Create an empty bridged repository and a starter config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			gitDirArg := ".svnbridge-git"
			if len(args) > 0 {
				gitDirArg = args[0]
			}
			abs, err := filepath.Abs(gitDirArg)
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}

			if err := initGitDirLayout(abs); err != nil {
				return err
			}

			store := gitobj.NewDiskStore(abs)
			root, err := gitobj.WriteTree(store, &gitobj.TreeObj{})
			if err != nil {
				return fmt.Errorf("write empty tree: %w", err)
			}
			commitHash, err := gitobj.WriteCommit(store, &gitobj.CommitObj{
				TreeHash:           root,
				Author:             "svnbridged",
				Committer:          "svnbridged",
				Timestamp:          time.Now().Unix(),
				CommitterTimestamp: time.Now().Unix(),
				Message:            "initial empty commit",
			})
			if err != nil {
				return fmt.Errorf("write initial commit: %w", err)
			}

			refPath := filepath.Join(abs, "refs", "heads", "main")
			if err := os.MkdirAll(filepath.Dir(refPath), 0o755); err != nil {
				return fmt.Errorf("create refs dir: %w", err)
			}
			if err := os.WriteFile(refPath, []byte(string(commitHash)+"\n"), 0o644); err != nil {
				return fmt.Errorf("write refs/heads/main: %w", err)
			}

			if repoName == "" {
				repoName = filepath.Base(abs)
			}
			if configPath == "" {
				configPath = "svnbridged.toml"
			}
			if err := config.WriteDefault(configPath, repoName, abs); err != nil {
				return fmt.Errorf("write config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "initialized empty svnbridged repository %q in %s\n", repoName, abs+string(filepath.Separator))
			fmt.Fprintf(cmd.OutOrStdout(), "wrote starter config to %s\n", configPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&repoName, "name", "", "repository name (defaults to the git-dir's base name)")
	cmd.Flags().StringVar(&configPath, "config", "", "path to write the starter config (default svnbridged.toml)")
	return cmd
}

// initGitDirLayout creates the directory skeleton a GitDir handle expects:
// a HEAD file pointing at refs/heads/main and an empty objects/refs tree.
func initGitDirLayout(gitDir string) error {
	if err := os.MkdirAll(filepath.Join(gitDir, "objects"), 0o755); err != nil {
		return fmt.Errorf("create objects dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(gitDir, "refs", "heads"), 0o755); err != nil {
		return fmt.Errorf("create refs dir: %w", err)
	}
	headPath := filepath.Join(gitDir, "HEAD")
	if _, err := os.Stat(headPath); os.IsNotExist(err) {
		if err := os.WriteFile(headPath, []byte("ref: refs/heads/main\n"), 0o644); err != nil {
			return fmt.Errorf("write HEAD: %w", err)
		}
	}
	return nil
}
