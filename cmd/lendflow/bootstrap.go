package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lendflow/lendflow/internal/auth"
	"github.com/lendflow/lendflow/internal/platform/db"
)

var bootstrapFlags struct {
	email    string
	name     string
	password string
}

var bootstrapAdminCmd = &cobra.Command{
	Use:   "bootstrap-admin",
	Short: "Create the first platform administrator",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if bootstrapFlags.email == "" || bootstrapFlags.password == "" {
			return errors.New("--email and --password are required")
		}
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		pool, err := db.New(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		svc := auth.NewService(auth.NewRepository(pool), auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL, cfg.JWTIssuer), nil, logger)
		name := bootstrapFlags.name
		if name == "" {
			name = "Platform Admin"
		}
		id, err := svc.BootstrapAdmin(ctx, bootstrapFlags.email, name, bootstrapFlags.password)
		if err != nil {
			return err
		}
		logger.Info("platform admin created", "actor_id", id, "email", bootstrapFlags.email)
		return nil
	},
}

func init() {
	bootstrapAdminCmd.Flags().StringVar(&bootstrapFlags.email, "email", "", "administrator email")
	bootstrapAdminCmd.Flags().StringVar(&bootstrapFlags.name, "name", "", "administrator display name")
	bootstrapAdminCmd.Flags().StringVar(&bootstrapFlags.password, "password", "", "initial password, at least 8 characters")
}
