package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/bootgate/internal/cli/health"
	"github.com/marmos91/bootgate/internal/cli/output"
	"github.com/marmos91/bootgate/internal/cli/timeutil"
	"github.com/marmos91/bootgate/internal/logger"
)

var (
	healthURL     string
	healthLive    bool
	healthTimeout time.Duration
	healthOutput  string
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query the readiness of a running service",
	Long: `Query /health/ready (or /health with --live) of a running bootgate
service and exit 0 only when it answers healthy. Suitable as a container
HEALTHCHECK.

Examples:
  # Readiness of the local service on service.port
  bootgate health

  # Liveness of another instance
  bootgate health --url http://orders:8000 --live

  # Dependency detail as JSON
  bootgate health --output json`,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().StringVar(&healthURL, "url", "", "service base URL (default: http://127.0.0.1:<service.port>)")
	healthCmd.Flags().BoolVar(&healthLive, "live", false, "check liveness instead of readiness")
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "request timeout")
	healthCmd.Flags().StringVarP(&healthOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

// errUnhealthy is returned so the process exits non-zero.
var errUnhealthy = errors.New("service is not healthy")

func runHealth(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(healthOutput)
	if err != nil {
		return err
	}

	base := healthURL
	if base == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		base = "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Service.Port))
	}

	path := health.ReadinessPath
	if healthLive {
		path = health.LivenessPath
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
	defer cancel()

	resp, err := health.Fetch(ctx, &http.Client{Timeout: healthTimeout}, base, path)
	if err != nil {
		return err
	}

	p := output.NewPrinter(cmd.OutOrStdout(), format, logger.IsTerminal(os.Stdout))
	if format != output.FormatTable {
		if err := p.Print(resp); err != nil {
			return err
		}
	} else {
		printHealthTable(p, resp)
	}

	if !resp.Healthy() {
		return errUnhealthy
	}
	return nil
}

func printHealthTable(p *output.Printer, resp *health.Response) {
	if resp.Data.Service != "" {
		p.Printf("Service: %s (up %s)\n", resp.Data.Service, timeutil.FormatUptime(resp.Data.Uptime))
	}
	if len(resp.Data.Dependencies) > 0 {
		_ = p.Print(resp)
	}
	if resp.Healthy() {
		p.Success("healthy")
		return
	}
	p.Warning(fmt.Sprintf("unhealthy: %s", resp.Error))
}
