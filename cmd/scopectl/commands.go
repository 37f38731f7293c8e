package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-scope-resolver/internal/credentials"
	"github.com/xela07ax/spaceai-scope-resolver/internal/domain"
	"github.com/xela07ax/spaceai-scope-resolver/internal/infra"
	"github.com/xela07ax/spaceai-scope-resolver/internal/repository/manifest"
	"github.com/xela07ax/spaceai-scope-resolver/internal/resolver"
)

type rootOptions struct {
	configFile string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "scopectl",
		Short:         "Scope resolver operations tool",
		Long:          "Validate resolver configuration, inspect endpoint derivation and resolve execution contexts against a manifest file.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default: ./config.yaml or ./configs/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging to stderr")

	cmd.AddCommand(
		validateConfigCmd(opts),
		endpointsCmd(opts),
		validateManifestCmd(),
		resolveCmd(opts),
		invalidateCmd(opts),
	)
	return cmd
}

func (o *rootOptions) logger() *zap.Logger {
	if !o.verbose {
		return zap.NewNop()
	}
	l, err := infra.NewLogger(infra.LoggerConfig{Level: "debug", Format: "console"})
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func (o *rootOptions) load() (*infra.Config, *credentials.Table, error) {
	cfg, err := infra.LoadConfig(o.configFile)
	if err != nil {
		return nil, nil, err
	}
	table := credentials.NewTable()
	if err := cfg.Validate(table); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, table, nil
}

func validateConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Validate cloud settings and resource endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			cloud := cfg.Cloud.Settings()
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %s cloud, %d resource(s) configured\n", cloud.Environment, len(cloud.Resources))
			return nil
		},
	}
}

func endpointsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "endpoints",
		Short: "Print derived endpoint and audience for every configured resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, table, err := opts.load()
			if err != nil {
				return err
			}
			cloud := cfg.Cloud.Settings()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RESOURCE\tAUTH MODE\tENDPOINT\tAUDIENCE")
			for _, kind := range cloud.ResourceKinds() {
				url, audience, err := table.Endpoint(cloud.Environment, kind, cloud.OverridesFor(kind))
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", kind, cloud.AuthModeFor(kind), url, audience)
			}
			return w.Flush()
		},
	}
}

func validateManifestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-manifest <file>",
		Short: "Validate a YAML scope manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := manifest.Open(args[0])
			if err != nil {
				return err
			}
			groups, agents, actions := s.Counts()
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d group(s), %d agent(s), %d action(s)\n", groups, agents, actions)
			return nil
		},
	}
}

func resolveCmd(opts *rootOptions) *cobra.Command {
	var (
		manifestPath string
		userID       string
		agentName    string
		hint         string
		groupID      string
		listOnly     bool
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve an execution context against a manifest file",
		Example: `  scopectl resolve --manifest scopes.yaml --user alice --agent helper
  scopectl resolve --manifest scopes.yaml --user alice --hint group --group g-platform --list`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, table, err := opts.load()
			if err != nil {
				return err
			}
			store, err := manifest.Open(manifestPath)
			if err != nil {
				return err
			}
			logger := opts.logger()

			secrets := credentials.EnvSecrets{}
			creds := credentials.NewResolver(table, secrets,
				credentials.DefaultSources(&http.Client{Timeout: cfg.Credentials.AttemptTimeout}),
				cfg.Credentials.Reliability(), nil, logger)
			engine := resolver.NewEngine(resolver.Deps{
				Store:       store,
				Members:     store,
				Credentials: creds,
				Secrets:     secrets,
				FanOutLimit: cfg.Resolver.FanOutLimit,
			}, logger)

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if listOnly {
				agents, warnings, err := engine.Agents(cmd.Context(), cfg.Settings(), userID, domain.ScopeHint(hint), groupID)
				if err != nil {
					return err
				}
				return enc.Encode(map[string]any{"agents": agents, "warnings": warnings})
			}

			ec, err := engine.Resolve(cmd.Context(), cfg.Settings(), resolver.Request{
				UserID:        userID,
				AgentName:     agentName,
				ScopeHint:     domain.ScopeHint(hint),
				ActiveGroupID: groupID,
			})
			if err != nil {
				return err
			}
			return enc.Encode(ec.View())
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "YAML scope manifest")
	cmd.Flags().StringVarP(&userID, "user", "u", "", "user id")
	cmd.Flags().StringVarP(&agentName, "agent", "a", "", "explicit agent name")
	cmd.Flags().StringVar(&hint, "hint", string(domain.HintNewConversation), "scope hint: new_conversation, personal, group")
	cmd.Flags().StringVarP(&groupID, "group", "g", "", "active group id (group sessions)")
	cmd.Flags().BoolVar(&listOnly, "list", false, "list visible agents instead of resolving")
	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func invalidateCmd(opts *rootOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "invalidate [user-id...]",
		Short: "Publish a membership cache invalidation to running resolvers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return fmt.Errorf("pass user ids or --all")
			}
			cfg, err := infra.LoadConfig(opts.configFile)
			if err != nil {
				return err
			}

			rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			defer rdb.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			ids := args
			if all {
				ids = []string{resolver.InvalidateAllUsers}
			}
			if err := resolver.PublishInvalidation(ctx, rdb, infra.RedisChanMembershipInvalidate, ids...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "published invalidation for %d target(s) to %s\n", len(ids), infra.RedisChanMembershipInvalidate)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "flush membership cache for all users")
	return cmd
}
