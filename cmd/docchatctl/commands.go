package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"docchat-backend/internal/queue"
	"docchat-backend/internal/quota"
	"docchat-backend/internal/shared/auth"
	"docchat-backend/internal/shared/storage/db"
)

func migrateCmd(env *cliEnv) *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := env.loadConfig()
			if strings.TrimSpace(cfg.DatabaseURL) == "" {
				return errors.New("DATABASE_URL is required")
			}
			ctx := cmd.Context()
			sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultMigrateOptions()))
			if err != nil {
				return fmt.Errorf("connect: %w", err)
			}
			defer sqlDB.Close()

			if status {
				version, err := db.Version(ctx, sqlDB)
				if err != nil {
					return err
				}
				pending, err := db.Pending(ctx, sqlDB)
				if err != nil {
					return err
				}
				if pending == nil {
					pending = []int64{}
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"version": version, "pending": pending})
			}
			if err := db.RunMigrations(ctx, sqlDB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "Show the applied version and pending migrations without applying them")
	return cmd
}

func reconcileCmd(env *cliEnv) *cobra.Command {
	var (
		tenant            string
		clearReservations bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute committed quota usage from stored documents",
		Long: `Recompute each tenant's document count and storage bytes from the
documents table and overwrite the ledger where they differ.

Use --clear-reservations only when no API or worker process is running.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := env.app(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			opts := quota.ReconcileOptions{ClearReservations: clearReservations}
			if tenant != "" {
				d, err := app.Ledger.Reconcile(ctx, tenant, opts)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), d)
			}
			drifts, err := app.Ledger.ReconcileAll(ctx, opts)
			if err != nil {
				return err
			}
			if drifts == nil {
				drifts = []quota.Drift{}
			}
			return printJSON(cmd.OutOrStdout(), drifts)
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Reconcile a single tenant")
	cmd.Flags().BoolVar(&clearReservations, "clear-reservations", false, "Drop in-flight upload reservations")
	return cmd
}

func usageCmd(env *cliEnv) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show a tenant's quota usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := env.app(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			u, err := app.Ledger.Usage(ctx, tenant)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), u)
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant id")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func setTierCmd(env *cliEnv) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "set-tier <tier>",
		Short: "Move a tenant to another tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := env.app(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			u, err := app.Ledger.SetTier(ctx, tenant, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), u)
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "", "Tenant id")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

// requeuer is implemented by queues that park in-flight work in a separate list.
type requeuer interface {
	Requeue(ctx context.Context) (int, error)
}

func requeueCmd(env *cliEnv) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue",
		Short: "Move messages stranded by crashed workers back onto the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := env.app(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			r, ok := app.Queue.(requeuer)
			if !ok {
				return fmt.Errorf("queue %q does not support requeue", app.Config.QueueType)
			}
			n, err := r.Requeue(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d message(s)\n", n)
			return nil
		},
	}
}

func tokenCmd(env *cliEnv) *cobra.Command {
	var claims auth.Claims
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an HS256 bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := env.loadConfig()
			token, err := auth.SignJWT(cfg.JWTSecret, claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&claims.Sub, "sub", "", "Subject, used as the tenant id")
	cmd.Flags().StringVar(&claims.Email, "email", "", "Email claim")
	cmd.Flags().StringVar(&claims.Name, "name", "", "Name claim")
	_ = cmd.MarkFlagRequired("sub")
	return cmd
}

var _ requeuer = (*queue.Redis)(nil)
