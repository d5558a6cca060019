// Package cli implements posctl, the operator CLI for the colorstock backend.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"colorstock/backend/internal/config"
	"colorstock/backend/internal/httpapi"
	"colorstock/backend/internal/logger"
	"colorstock/backend/internal/service"
	"colorstock/backend/internal/store"
	pgstore "colorstock/backend/internal/store/postgres"
)

// Backend is a repository that can also run schema migrations.
type Backend interface {
	store.Repository
	Migrate(ctx context.Context, command string, args ...string) error
	Close() error
}

var _ Backend = (*pgstore.Store)(nil)

// Opener connects to the backend described by cfg.
type Opener func(ctx context.Context, cfg config.Config) (Backend, error)

func openPostgres(ctx context.Context, cfg config.Config) (Backend, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := pg.Migrate(ctx, "up"); err != nil {
			_ = pg.Close()
			return nil, err
		}
	}
	return pg, nil
}

var migrateCommands = map[string]bool{
	"up": true, "up-by-one": true, "down": true, "redo": true, "reset": true, "status": true, "version": true,
}

type app struct {
	open    Opener
	cfg     config.Config
	log     *logger.Logger
	backend Backend
}

// NewRootCommand builds posctl. A nil opener connects to postgres via DATABASE_URL.
func NewRootCommand(open Opener) *cobra.Command {
	if open == nil {
		open = openPostgres
	}
	a := &app{open: open}

	root := &cobra.Command{
		Use:           "posctl",
		Short:         "Operate the colorstock backend: migrations, reports and accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logger.New(logger.Options{
				ServiceName: "posctl",
				Level:       logger.ParseLevel(cfg.LogLevel),
				Format:      "console",
				Output:      cmd.ErrOrStderr(),
			})
			backend, err := a.open(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("open backend: %w", err)
			}
			a.backend = backend
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if a.backend == nil {
				return nil
			}
			return a.backend.Close()
		},
	}

	root.AddCommand(a.migrateCommand(), a.reportCommand(), a.lowStockCommand(), a.createAdminCommand())
	return root
}

func (a *app) migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <up|up-by-one|down|redo|reset|status|version>",
		Short: "Run schema migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := args[0]
			if !migrateCommands[command] {
				return fmt.Errorf("unknown migrate command %q", command)
			}
			if err := a.backend.Migrate(cmd.Context(), command); err != nil {
				return err
			}
			a.log.Info(a.log.WithField(cmd.Context(), "command", command), "migrate finished")
			return nil
		},
	}
}

func (a *app) reportCommand() *cobra.Command {
	var start, end string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print sales with revenue and profit totals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := service.New(a.backend, service.WithLogger(a.log))
			report, err := svc.ListSales(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tITEMS\tTOTAL\tPROFIT")
			for _, sale := range report.Sales {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", sale.ID, sale.CreatedAt.Format("2006-01-02 15:04"), len(sale.Items), sale.TotalAmount.StringFixed(2), sale.TotalProfit.StringFixed(2))
			}
			fmt.Fprintf(tw, "\t\t%d sales\t%s\t%s\n", report.Count, report.TotalRevenue.StringFixed(2), report.TotalProfit.StringFixed(2))
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "end date, inclusive (YYYY-MM-DD or RFC3339)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func (a *app) lowStockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "low-stock",
		Short: "List variants at or below their product's stock alert",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc := service.New(a.backend, service.WithLogger(a.log))
			entries, err := svc.LowStock(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRODUCT\tVARIANT\tAMOUNT\tALERT")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\n", e.ProductName, e.VariantID, e.Amount, e.MinStockAlert)
			}
			return tw.Flush()
		},
	}
}

func (a *app) createAdminCommand() *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account unless the email is already registered",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if email == "" {
				email = a.cfg.BootstrapAdminEmail
			}
			if password == "" {
				password = a.cfg.BootstrapAdminPassword
			}
			if email == "" || password == "" {
				return errors.New("--email and --password are required")
			}
			auth := httpapi.NewAuthManager(a.cfg.AuthSecret, a.cfg.AccessTokenTTL, a.backend)
			user, created, err := auth.EnsureAdmin(cmd.Context(), name, email, password)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", user.Email, user.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "account %s already exists with role %s\n", user.Email, user.Role)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "Administrator", "display name")
	cmd.Flags().StringVar(&email, "email", "", "admin email (defaults to BOOTSTRAP_ADMIN_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "admin password (defaults to BOOTSTRAP_ADMIN_PASSWORD)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Execute runs posctl against postgres and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand(nil).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "posctl:", err)
		os.Exit(1)
	}
}
