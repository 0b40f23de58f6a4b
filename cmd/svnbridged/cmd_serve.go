package main

import (
	"fmt"
	"net"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/svnbridge/svnbridged/internal/auth"
	"github.com/svnbridge/svnbridged/internal/config"
	"github.com/svnbridge/svnbridged/internal/gitobj"
	"github.com/svnbridge/svnbridged/internal/locktable"
	"github.com/svnbridge/svnbridged/internal/logging"
	"github.com/svnbridge/svnbridged/internal/revindex"
	"github.com/svnbridge/svnbridged/internal/session"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the SVN bridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.Default()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			srv, err := buildServer(cfg, log)
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", cfg.Server.ListenAddr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", cfg.Server.ListenAddr, err)
			}
			log.Printf("svnbridged listening on %s", cfg.Server.ListenAddr)
			return srv.Serve(ln)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "svnbridged.toml", "path to svnbridged.toml")
	return cmd
}

// buildServer wires a Server from a loaded config: one revision index, lock
// table, and versioned-FS stack per configured repository, and a single
// chained authenticator and static ACL shared across all of them.
func buildServer(cfg *config.Config, log *logging.Logger) (*session.Server, error) {
	authn := buildAuthenticator(cfg)
	acl := auth.NewStaticACL(aclEntries(cfg.Auth.ACL))

	srv := session.NewServer(authn, acl, log)
	srv.IdleTimeout = cfg.Server.IdleTimeout.Duration
	srv.EditorTimeout = cfg.Server.EditorTimeout.Duration

	for _, rc := range cfg.Repositories {
		repo, err := openRepositoryFromConfig(rc)
		if err != nil {
			return nil, fmt.Errorf("open repository %q: %w", rc.Name, err)
		}
		srv.AddRepository(repo)
		log.Printf("registered repository %q at %s (ref %s)", rc.Name, rc.GitDir, rc.Ref)
	}

	return srv, nil
}

func openRepositoryFromConfig(rc config.RepositoryConfig) (*session.Repository, error) {
	store := gitobj.NewDiskStore(rc.GitDir)
	gitDir := revindex.NewGitDir(rc.GitDir)

	metaDir := filepath.Join(rc.GitDir, "svnbridge")
	revs, err := revindex.Open(metaDir)
	if err != nil {
		return nil, fmt.Errorf("open revision index: %w", err)
	}
	locks, err := locktable.Open(metaDir)
	if err != nil {
		return nil, fmt.Errorf("open lock table: %w", err)
	}

	return session.OpenRepository(rc.Name, store, revs, gitDir, locks, rc.Ref, rc.AnonymousRead)
}

// buildAuthenticator offers CRAM-MD5 when passwords are configured and
// SSH-CERT when an authorized-keys file is configured; ANONYMOUS is offered
// whenever any repository allows anonymous read.
func buildAuthenticator(cfg *config.Config) *auth.ChainAuthenticator {
	allowAnon := false
	for _, rc := range cfg.Repositories {
		if rc.AnonymousRead {
			allowAnon = true
		}
	}

	var mechs []auth.Mechanism
	if len(cfg.Auth.Passwords) > 0 {
		mechs = append(mechs, auth.NewCRAMMD5(cfg.Auth.Passwords))
	}
	if cfg.Auth.AuthorizedKeysPath != "" {
		keys, err := loadAuthorizedKeys(cfg.Auth.AuthorizedKeysPath)
		if err == nil {
			if sshCert, err := auth.NewSSHCert(keys); err == nil {
				mechs = append(mechs, sshCert)
			}
		}
	}

	return auth.NewChainAuthenticator(allowAnon, mechs...)
}

func aclEntries(rows []config.ACLConfig) []auth.ACLEntry {
	entries := make([]auth.ACLEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, auth.ACLEntry{User: r.User, PathGlob: r.PathGlob, Access: r.Access})
	}
	return entries
}
