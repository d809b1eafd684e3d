package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"wastedesk/backend/internal/config"
	"wastedesk/backend/internal/domain"
	"wastedesk/backend/internal/httpapi"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Print the effective configuration and validate it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadRuntime()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if cfg.ConfigFile == "" {
			if path, err := config.ConfigPath(); err == nil {
				fmt.Fprintf(out, "no config file found; looked for %s\n", path)
			}
		}
		for _, line := range cfg.Describe() {
			fmt.Fprintln(out, line)
		}
		if err := validateSecurityConfig(cfg); err != nil {
			return fmt.Errorf("invalid security configuration: %w", err)
		}
		fmt.Fprintln(out, "ok")
		return nil
	},
}

var (
	newUserRole     string
	newUserPassword string
)

var createUserCmd = &cobra.Command{
	Use:   "create-user <username>",
	Short: "Add an admin or supervisor login",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadRuntime()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("create-user needs DATABASE_URL; the in-memory store does not outlive this command")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		b, err := openBackends(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer b.close(log)

		auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), b.accounts)
		account, err := auth.CreateUser(ctx, args[0], newUserPassword, newUserRole)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", account.Username, account.Role)
		return nil
	},
}

func init() {
	createUserCmd.Flags().StringVar(&newUserRole, "role", domain.RoleSupervisor, "role of the new user: admin or supervisor")
	createUserCmd.Flags().StringVar(&newUserPassword, "password", "", "password of the new user (at least 6 characters)")
	_ = createUserCmd.MarkFlagRequired("password")
}
