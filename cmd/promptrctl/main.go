// Command promptrctl is the operator tool for the access database.
//
//	promptrctl migrate
//	promptrctl users list --limit 20
//	promptrctl users set-status bob@example.com active
//	promptrctl reconcile bob@example.com
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sakif/promptr-access/internal/billing"
	"github.com/sakif/promptr-access/internal/billing/stripe"
	"github.com/sakif/promptr-access/internal/cli"
	"github.com/sakif/promptr-access/internal/config"
	"github.com/sakif/promptr-access/internal/identity"
	"github.com/sakif/promptr-access/internal/repository"
	"github.com/sakif/promptr-access/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	// Operator output goes to stdout; logs stay out of the way on stderr.
	logger := cfg.NewLogger(os.Stderr)

	root := cli.NewRootCommand(cli.Env{
		OpenRepo: func(ctx context.Context) (repository.UserAccessRepository, error) {
			return server.OpenRepository(ctx, cfg, logger)
		},
		Payments: func() billing.Provider {
			return stripe.New(cfg.Stripe.SecretKey, nil)
		},
		Directory: func() identity.Directory {
			return server.NewDirectory(cfg)
		},
		SiteURL: cfg.SiteURL,
		Logger:  logger,
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
