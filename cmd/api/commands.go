package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"taskTracker/internal/app"
	"taskTracker/internal/logger"
	"taskTracker/internal/middleware"
	"taskTracker/internal/migrations"
	"time"

	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.New(cfg).Init(ctx)
			if err != nil {
				logger.Error("Ошибка инициализации приложения", err)
				return err
			}
			return application.Run(ctx)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	var steps int

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Database.URL == "" {
				return errors.New("database.url не задан")
			}
			return migrations.Up(cfg.Database.URL)
		},
	}

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (all by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Database.URL == "" {
				return errors.New("database.url не задан")
			}
			return migrations.Down(cfg.Database.URL, steps)
		},
	}
	down.Flags().IntVar(&steps, "steps", 0, "number of migrations to roll back, 0 rolls back everything")

	cmd.AddCommand(up, down)
	return cmd
}

func tokenCmd() *cobra.Command {
	var owner string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an owner (local development)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Auth.JWTSecret == "" {
				return errors.New("auth.jwt_secret не задан")
			}

			token, err := middleware.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Issue(owner, ttl)
			if err != nil {
				return fmt.Errorf("выпуск токена: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner id written to the sub claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.MarkFlagRequired("owner")
	return cmd
}
