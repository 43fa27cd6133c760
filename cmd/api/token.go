package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tails/api/internal/app"
	"tails/api/internal/session"
)

var (
	tokenOwner string
	tokenName  string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for an owner",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// Issuing a token never touches the document store.
		service := app.New(cfg, nil, newLogger(cfg))
		if strings.TrimSpace(cfg.RedisURL) != "" {
			registry, err := session.NewRedisStore(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("redis connection failed: %w", err)
			}
			defer registry.Close()
			service.WithTokenRegistry(registry)
		}

		issued, err := service.IssueToken(cmd.Context(), tokenOwner, tokenName, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), issued.Token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenOwner, "owner", "", "owner id the token authenticates")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name carried in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (defaults to the configured access TTL)")
	_ = tokenCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(tokenCmd)
}
