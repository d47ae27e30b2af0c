// cmd/serve.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mtrbls/llmhive/internal/config"
	"github.com/mtrbls/llmhive/internal/dispatch"
	"github.com/mtrbls/llmhive/internal/ledger"
	"github.com/mtrbls/llmhive/internal/liveness"
	"github.com/mtrbls/llmhive/internal/operator"
	"github.com/mtrbls/llmhive/internal/push"
	"github.com/mtrbls/llmhive/internal/queue"
	"github.com/mtrbls/llmhive/internal/registry"
)

var (
	servePort int
	serveDB   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the llmhive operator",
	Long: `Starts the coordinator process: worker registration and streams, the
inference relay, the liveness loop, and the job/payment ledger.

Configuration is read from ./llmhive.yaml (or --config), with LLMHIVE_*
environment variables as fallbacks.

Examples:
  # Run with defaults (port 8000, ledger at data/llmhive.db)
  llmhive serve

  # Run on a different port with an explicit ledger location
  llmhive serve --port 9000 --db /var/lib/llmhive/ledger.db`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.ServerPort = servePort
	}
	if serveDB != "" {
		cfg.Database.URL = serveDB
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	Debug("config: port=%d db=%s interval=%ds", cfg.ServerPort, cfg.Database.URL, cfg.HealthCheckInterval)

	store, err := ledger.Open(cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	reg := registry.New()
	jobQueue := queue.New()
	pushTable := push.NewTable(0)
	dispatcher := dispatch.New(reg, jobQueue, pushTable, store)

	server := operator.NewServer(operator.Config{
		Port:          cfg.ServerPort,
		PricePerToken: cfg.Pricing.PricePerToken,
	}, reg, jobQueue, pushTable, store, dispatcher)

	loop := liveness.New(liveness.Config{
		Interval:     cfg.HealthInterval(),
		ProbeTimeout: cfg.HealthTimeout(),
	}, reg, pushTable)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigs
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
		cancel()
	}()

	go loop.Start(ctx)

	color.New(color.FgCyan, color.Bold).Println("llmhive operator")
	fmt.Printf("   - Listening:  http://localhost:%d\n", server.Port())
	fmt.Printf("   - Ledger:     %s\n", cfg.Database.URL)
	fmt.Printf("   - Liveness:   every %s\n", loop.Interval())
	color.Green("Operator started, waiting for workers and requests...")

	return server.Start(ctx)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override the listen port")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "Override the ledger database location")
	rootCmd.AddCommand(serveCmd)
}
