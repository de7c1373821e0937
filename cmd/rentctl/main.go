package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rentdesk/rentdesk/cmd/rentctl/cli"
	"github.com/rentdesk/rentdesk/internal/app"
	"github.com/rentdesk/rentdesk/internal/auth"
	"github.com/rentdesk/rentdesk/internal/platform/cache"
	"github.com/rentdesk/rentdesk/internal/platform/db"
)

// exitError carries a command's exit code through cobra.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "rentctl",
		Short:         "Operate the rentdesk ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(migrateCmd(), sweepCmd(), jobsCmd(), tokenCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "rentctl:", err)
		os.Exit(1)
	}
}

func exitWith(code int) error {
	if code == cli.ExitOK {
		return nil
	}
	return exitError{code: code}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			logger := app.NewLogger(cfg)
			pool, err := db.New(cmd.Context(), cfg.PGDSN, cfg.PGMaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()
			applied, err := db.Migrate(cmd.Context(), pool, logger)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", v)
			}
			return nil
		},
	}
}

func sweepCmd() *cobra.Command {
	var opts cli.SweepOptions
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the accrual sweep in-process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			logger := app.NewLogger(cfg)
			pool, err := db.New(cmd.Context(), cfg.PGDSN, cfg.PGMaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()
			redisClient, err := cache.New(cmd.Context(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			if err != nil {
				return err
			}
			defer redisClient.Close()

			service := app.NewLedgerService(cfg, pool, redisClient, logger)
			opts.Stdout = cmd.OutOrStdout()
			opts.Stderr = cmd.ErrOrStderr()
			return exitWith(cli.SweepCommand(cmd.Context(), service, opts))
		},
	}
	cmd.Flags().BoolVar(&opts.Force, "force", false, "run even if today's sweep already ran")
	cmd.Flags().BoolVar(&opts.JSONOutput, "json", false, "print the result as JSON")
	return cmd
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Enqueue and inspect background jobs",
	}

	var force bool
	trigger := &cobra.Command{
		Use:   "trigger <sweep|cleanup>",
		Short: "Enqueue a job on the worker queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobsCLI(func(c *cli.JobsCLI) error {
				info, err := c.Trigger(cmd.Context(), args[0], force)
				if errors.Is(err, asynq.ErrDuplicateTask) {
					fmt.Fprintln(cmd.OutOrStdout(), "job already queued")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
				return nil
			})
		},
	}
	trigger.Flags().BoolVar(&force, "force", false, "bypass the daily sweep gate")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobsCLI(func(c *cli.JobsCLI) error {
				s, err := c.InspectQueue()
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			})
		},
	}

	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobsCLI(func(c *cli.JobsCLI) error {
				tasks, err := c.ListScheduled(size)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", t.ID, t.Type, t.NextProcessAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	scheduled.Flags().IntVar(&size, "size", 10, "page size")

	cmd.AddCommand(trigger, stats, scheduled)
	return cmd
}

func withJobsCLI(fn func(*cli.JobsCLI) error) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	c := cli.NewJobsCLI(cfg.AsynqRedisOpts(), cfg.IdempotencyTTL)
	defer c.Close()
	return fn(c)
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage staff bearer tokens",
	}
	var opts cli.TokenOptions
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Print a signed token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			if opts.TTL == 0 {
				opts.TTL = cfg.AuthTokenTTL
			}
			opts.Stdout = cmd.OutOrStdout()
			opts.Stderr = cmd.ErrOrStderr()
			return exitWith(cli.TokenCommand(auth.NewTokenManager(cfg.AuthJWTSecret, cfg.AuthIssuer), opts))
		},
	}
	issue.Flags().StringVar(&opts.Subject, "subject", "", "staff member identifier")
	issue.Flags().StringVar(&opts.Role, "role", "frontdesk", "admin or frontdesk")
	issue.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (defaults to AUTH_TOKEN_TTL)")
	cmd.AddCommand(issue)
	return cmd
}
