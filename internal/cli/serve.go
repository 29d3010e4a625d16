package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gkobilansky/form-goat/internal/identity"
	"github.com/gkobilansky/form-goat/internal/server"
	"github.com/gkobilansky/form-goat/internal/store"
)

var (
	port    int
	noSweep bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the form-goat HTTP server.

The server provides:
  - Assignment and event tracking endpoints
  - Results and admin API
  - Health check and Prometheus metrics
  - A background sweep that auto-completes tests with a winner

Example:
  fgoat serve --port 8080`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (default from config)")
	serveCmd.Flags().BoolVar(&noSweep, "no-sweep", false, "disable the auto-complete sweep")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if port != 0 {
		cfg.Port = port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withStore(func(s *store.SQLiteStore) error {
		svc, err := newService(s)
		if err != nil {
			return err
		}

		cookies := identity.NewCookies(cfg.VisitorCookie, cfg.VisitorTTL)
		srv := server.New(svc, server.Options{
			Port:      cfg.Port,
			Token:     cfg.AdminToken,
			TokenFile: getTokenFilePath(),
			Cookies:   cookies,
			Logger:    logger,
			DB:        s.DB(),
		})

		if !noSweep {
			sweepCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			go svc.RunSweeper(sweepCtx, cfg.SweepInterval)
		}

		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintf(cmd.OutOrStdout(), "form-goat running on http://localhost:%d\n", cfg.Port)
		fmt.Fprintf(cmd.OutOrStdout(), "Admin token: %s\n", srv.Token())
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

		return srv.Start(ctx)
	})
}

// getTokenFilePath returns the path to the token file
func getTokenFilePath() string {
	// Store token file alongside the database
	return filepath.Join(filepath.Dir(cfg.DBPath), ".fgoat-token")
}
