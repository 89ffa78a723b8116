package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/tradepost/internal/api"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long:  "Starts the JSON API under /api/v1 with /healthz and /metrics. Stops on SIGINT or SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRuntime(configPath)
			if err != nil {
				return err
			}
			defer r.Close()
			if r.cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret (or TRADEPOST_JWT_SECRET) is required to serve")
			}
			if addr == "" {
				addr = r.cfg.Server.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "Tradepost API listening on %s\n", addr)
			return api.Start(ctx, api.StartOpts{
				Addr: addr,
				Options: api.Options{
					Service:   r.svc,
					Secret:    []byte(r.cfg.Auth.JWTSecret),
					Issuer:    r.cfg.Auth.Issuer,
					RateRPS:   r.cfg.Server.RateRPS,
					RateBurst: r.cfg.Server.RateBurst,
				},
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Tradepost config file")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		configPath string
		as         uint
		ttl        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			tok, err := api.IssueToken([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, as, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Tradepost config file")
	cmd.Flags().UintVar(&as, "as", 0, "user ID to issue the token for (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 2*time.Hour, "token lifetime")
	cmd.MarkFlagRequired("as")
	return cmd
}
