package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	jwttoken "roster/internal/jwt_token"
	"roster/internal/platform/postgres"
	"roster/pkg/domain"
)

func migrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("POSTGRES_URL is required")
			}
			log := newLogger(cfg)
			pool, err := postgres.New(cmd.Context(), cfg.Postgres)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := postgres.RunMigrations(cmd.Context(), pool)
			if err != nil {
				return err
			}
			log.Info("migrations applied", "count", len(applied), "files", applied)
			return nil
		},
	}
}

func closeEventCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "close-event <event-id>",
		Short: "Settle no-shows and missing check-outs for an event's ended shifts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventID, err := domain.ParseEventID(args[0])
			if err != nil {
				return err
			}
			cfg, err := load()
			if err != nil {
				return err
			}
			log := newLogger(cfg)
			ctx := cmd.Context()

			a, err := buildApp(ctx, cfg, log, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			runCtx, stop := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- a.dispatcher.Run(runCtx) }()

			summary, err := a.engine.CloseEvent(ctx, domain.SystemActor, eventID)
			stop()
			<-done
			a.close(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}

func tokenCmd(load configLoader) *cobra.Command {
	var (
		subject   string
		role      string
		expiresIn time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed bearer token for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			actor := domain.Actor{Subject: subject, Role: domain.Role(role)}
			if actor.Role != domain.RoleVolunteer && actor.Role != domain.RoleOrganizer {
				return fmt.Errorf("role must be %q or %q", domain.RoleVolunteer, domain.RoleOrganizer)
			}
			if actor.Role == domain.RoleVolunteer {
				if _, err := domain.ParseVolunteerID(subject); err != nil {
					return fmt.Errorf("volunteer subject must be a volunteer id: %w", err)
				}
			}
			svc := jwttoken.NewJWTService(cfg.Auth.JWTSigningKey, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
			token, err := svc.GenerateToken(actor, expiresIn)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject; a volunteer id for volunteers")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleVolunteer), "volunteer or organizer")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
