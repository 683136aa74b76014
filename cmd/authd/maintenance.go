package main

import (
	"context"

	"github.com/google/uuid"
	"github.com/ovigia/authd"
	"github.com/spf13/cobra"
)

var systemActor = auth.ActorRef{ID: "authd-cli", Type: "system"}

// NewMigrateCmd creates the migrate subcommand
func NewMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			db, err := auth.OpenDB(cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := auth.Migrate(cmd.Context(), db)
			if err != nil {
				return err
			}

			cmd.Printf("database at version %d\n", version)
			return nil
		},
	}
}

// NewPruneTokensCmd creates the prune-tokens subcommand
func NewPruneTokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune-tokens",
		Short: "Delete expired verification and reset tokens",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.tokens.Prune(ctx)
				if err != nil {
					return err
				}
				cmd.Printf("pruned %d expired tokens\n", n)
				return nil
			})
		},
	}
}

// NewLockUserCmd creates the lock-user subcommand
func NewLockUserCmd() *cobra.Command {
	return statusCmd("lock-user", "Lock an account so it can no longer sign in", auth.LockUser)
}

// NewUnlockUserCmd creates the unlock-user subcommand
func NewUnlockUserCmd() *cobra.Command {
	return statusCmd("unlock-user", "Reactivate a locked account", auth.UnlockUser)
}

type statusBuilder func(auth.ActorRef, uuid.UUID, string) auth.UserStatusMessage

func statusCmd(use, short string, build statusBuilder) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   use + " <user id or email>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				user, err := a.lookupUser(ctx, args[0])
				if err != nil {
					return err
				}

				msg := build(systemActor, user.ID, reason)
				msg.OnResponse = func(u *auth.User) {
					cmd.Printf("%s is now %s\n", u.Email, u.Status)
				}
				return a.flows.UserStatus.Execute(ctx, msg)
			})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the transition")
	return cmd
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, newLogger(cfg.Log, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
