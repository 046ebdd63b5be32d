package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fabian4/gateway-lite/internal/config"
	"github.com/fabian4/gateway-lite/internal/logging"
	"github.com/fabian4/gateway-lite/internal/server"
	"github.com/fabian4/gateway-lite/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	listen      string
	adminListen string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Minimal API gateway: route, authorize, forward",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, cmd)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "./cmd/config.yaml", "path to YAML config")
	pf.StringVar(&opts.listen, "listen", "", "override gateway listen address")
	pf.StringVar(&opts.adminListen, "admin-listen", "", "override admin listen address (\"off\" disables it)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the gateway (default)",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd.Context(), opts, cmd)
			},
		},
		&cobra.Command{
			Use:   "routes",
			Short: "Validate the config and print the route table",
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := loadConfig(opts, cmd)
				if err != nil {
					return err
				}
				return printRoutes(cmd.OutOrStdout(), c)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.Value)
			},
		},
	)
	return root
}

func loadConfig(opts *options, cmd *cobra.Command) (*config.Config, error) {
	c, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cmd.Flags().Changed("listen") {
		c.Listen = opts.listen
	}
	if cmd.Flags().Changed("admin-listen") {
		c.AdminListen = opts.adminListen
		if c.AdminListen == "off" {
			c.AdminListen = ""
		}
	}
	return c, nil
}

func runServe(ctx context.Context, opts *options, cmd *cobra.Command) error {
	c, err := loadConfig(opts, cmd)
	if err != nil {
		return err
	}
	log, err := logging.New(c.Log)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer func() { _ = log.Sync() }()

	srv, err := server.New(c, log)
	if err != nil {
		return err
	}
	log.Info("starting gateway",
		zap.String("version", version.Value),
		zap.String("config", opts.configPath),
		zap.Int("routes", len(c.Routes)),
		zap.Int("protected", c.ProtectedRoutes()),
	)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

func printRoutes(w io.Writer, c *config.Config) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "resolver: %s\n", c.Resolver)
	fmt.Fprintln(tw, "KEY\tUPSTREAM\tAUTH\tPROTO\tRATE")
	for _, r := range c.Routes {
		rate := "-"
		if r.RateLimit != nil {
			rate = fmt.Sprintf("%g/s burst %d", r.RateLimit.RequestsPerSecond, r.RateLimit.Burst)
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", r.Key, r.Upstream, r.RequiresAuth, r.Proto, rate)
	}
	return tw.Flush()
}
