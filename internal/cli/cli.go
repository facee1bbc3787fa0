// Package cli implements promptrctl, the operator tool for the access
// database. It shares configuration and storage with the server.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sakif/promptr-access/internal/apperror"
	"github.com/sakif/promptr-access/internal/billing"
	"github.com/sakif/promptr-access/internal/identity"
	"github.com/sakif/promptr-access/internal/model"
	"github.com/sakif/promptr-access/internal/repository"
	"github.com/sakif/promptr-access/internal/service"
	"github.com/sakif/promptr-access/internal/validation"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

// Env is what the commands run against. cmd/promptrctl fills it from
// configuration; tests pass fakes.
type Env struct {
	OpenRepo  func(ctx context.Context) (repository.UserAccessRepository, error)
	Payments  func() billing.Provider
	Directory func() identity.Directory
	SiteURL   string
	Logger    *slog.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand(env Env) *cobra.Command {
	root := &cobra.Command{
		Use:           "promptrctl",
		Short:         "Inspect and repair promptr subscription records",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	users := &cobra.Command{
		Use:   "users",
		Short: "List, inspect and change user access records",
	}
	users.AddCommand(
		usersListCmd(env),
		usersGetCmd(env),
		usersSetStatusCmd(env),
		usersDeleteCmd(env),
	)

	root.AddCommand(
		migrateCmd(env),
		users,
		reconcileCmd(env),
		versionCmd(),
	)
	return root
}

// withRepo opens the repository for the duration of fn.
func withRepo(cmd *cobra.Command, env Env, fn func(repository.UserAccessRepository) error) error {
	repo, err := env.OpenRepo(cmd.Context())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer repo.Close()
	return fn(repo)
}

func migrateCmd(env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Opening a repository applies pending migrations.
			return withRepo(cmd, env, func(repo repository.UserAccessRepository) error {
				if err := repo.Ping(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			})
		},
	}
}

func usersListCmd(env Env) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRepo(cmd, env, func(repo repository.UserAccessRepository) error {
				list, err := repo.List(cmd.Context(), repository.ListOptions{Limit: limit, Offset: offset})
				if err != nil {
					return err
				}
				printUsers(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of users to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of users to skip")
	return cmd
}

func usersGetCmd(env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "get <email | stripe customer id>",
		Short: "Show one user's record, including the full access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, env, func(repo repository.UserAccessRepository) error {
				key := strings.TrimSpace(args[0])
				var (
					ua  *model.UserAccess
					err error
				)
				if strings.HasPrefix(key, "cus_") {
					if errs := validation.CustomerIDErrors(key); len(errs) > 0 {
						return apperror.Invalid(errs)
					}
					ua, err = repo.GetByCustomerID(cmd.Context(), key)
				} else {
					ua, err = repo.GetByEmail(cmd.Context(), model.NormalizeEmail(key))
				}
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "id\t%s\n", ua.ID)
				fmt.Fprintf(w, "email\t%s\n", ua.Email)
				fmt.Fprintf(w, "status\t%s\n", ua.Status)
				fmt.Fprintf(w, "access_token\t%s\n", ua.AccessToken)
				fmt.Fprintf(w, "stripe_customer_id\t%s\n", orDash(ua.CustomerID()))
				fmt.Fprintf(w, "created_at\t%s\n", ua.CreatedAt.UTC().Format(time.RFC3339))
				fmt.Fprintf(w, "updated_at\t%s\n", ua.UpdatedAt.UTC().Format(time.RFC3339))
				return w.Flush()
			})
		},
	}
}

func usersSetStatusCmd(env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <email> <trialing|active|inactive>",
		Short: "Overwrite a user's local status",
		Long: "Overwrite a user's local status without touching Stripe. The next " +
			"subscription webhook for the customer will set it again; use reconcile " +
			"to pull the status from Stripe instead.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := model.Status(strings.ToLower(args[1]))
			if !status.Valid() {
				return fmt.Errorf("unknown status %q (want trialing, active or inactive)", args[1])
			}
			email := model.NormalizeEmail(args[0])
			return withRepo(cmd, env, func(repo repository.UserAccessRepository) error {
				if err := repo.SetStatusByEmail(cmd.Context(), email, status); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", email, status)
				return nil
			})
		},
	}
}

func usersDeleteCmd(env Env) *cobra.Command {
	var localOnly bool
	cmd := &cobra.Command{
		Use:   "delete <email>",
		Short: "Delete a user from Stripe, the database and the auth provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email := model.NormalizeEmail(args[0])
			return withRepo(cmd, env, func(repo repository.UserAccessRepository) error {
				if localOnly {
					removed, err := repo.DeleteByEmail(cmd.Context(), email)
					if err != nil {
						return err
					}
					if !removed {
						fmt.Fprintf(cmd.OutOrStdout(), "no record for %s\n", email)
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s from the database\n", email)
					return nil
				}

				accounts := service.NewAccountService(repo, env.Payments(), env.Directory(), env.Logger)
				report, err := accounts.SelfDelete(cmd.Context(), email)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, step := range report.Steps {
					fmt.Fprintln(out, step)
				}
				fmt.Fprintln(out, report.Message)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&localOnly, "local-only", false, "Only remove the database row")
	return cmd
}

func reconcileCmd(env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <email>",
		Short: "Set the local status from the user's newest Stripe subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd, env, func(repo repository.UserAccessRepository) error {
				subs := service.NewSubscriptionService(repo, env.Payments(), nil, env.SiteURL, env.Logger)
				status, err := subs.Reconcile(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", model.NormalizeEmail(args[0]), status)
				return nil
			})
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "promptrctl %s\n", Version)
			if GitCommit != "unknown" {
				fmt.Fprintf(cmd.OutOrStdout(), "Commit: %s\n", GitCommit)
			}
		},
	}
}

func printUsers(out io.Writer, list []model.UserAccess) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tSTATUS\tCUSTOMER\tTOKEN\tUPDATED")
	for _, ua := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			ua.Email,
			ua.Status,
			orDash(ua.CustomerID()),
			tokenPrefix(ua.AccessToken),
			ua.UpdatedAt.UTC().Format(time.RFC3339),
		)
	}
	w.Flush()
}

func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8] + "…"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
