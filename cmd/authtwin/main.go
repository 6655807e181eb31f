// authtwin runs the endpoint verification features against a live API or the
// in-process twin, and serves the upstream double and the API twin on their
// own.
//
// Usage:
//
//	authtwin run [paths]     Run feature files against base_url
//	authtwin mock            Serve the upstream double (/auth, /doAction)
//	authtwin twin            Serve the reference API twin
//	authtwin version         Print the version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/cucumber/godog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wondertwin-ai/authtwin/internal/apitwin"
	"github.com/wondertwin-ai/authtwin/internal/config"
	"github.com/wondertwin-ai/authtwin/internal/dispatch"
	"github.com/wondertwin-ai/authtwin/internal/mockbackend"
	"github.com/wondertwin-ai/authtwin/internal/report"
	"github.com/wondertwin-ai/authtwin/internal/scenario"
	"github.com/wondertwin-ai/authtwin/internal/steps"
	"github.com/wondertwin-ai/authtwin/pkg/twincore"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	configPath string
	verbose    bool
}

func (g *globalFlags) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	if g.verbose {
		cfg.Verbose = true
	}
	return cfg, twincore.NewLogger(os.Stdout, cfg.Verbose), nil
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "authtwin",
		Short:         "Black-box verification of a token LOGIN/ACTION/LOGOUT endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", config.DefaultFile, "Config file path (YAML)")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Debug logging")

	cmd.AddCommand(runCmd(g), mockCmd(g), twinCmd(g), versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the authtwin version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "authtwin version %s\n", version)
		},
	}
}

type runFlags struct {
	format      string
	concurrency int
	tags        string
	resultsDir  string
}

func runCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Run feature files against the configured endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			if f.resultsDir != "" {
				cfg.ResultsDir = f.resultsDir
			}
			if len(args) == 0 {
				args = []string{"features"}
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runFeatures(ctx, cfg, logger, f, args)
		},
	}
	cmd.Flags().StringVar(&f.format, "format", "pretty", "godog output format (pretty, progress, cucumber, junit)")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 1, "Scenarios run in parallel")
	cmd.Flags().StringVarP(&f.tags, "tags", "t", "", "Tag expression selecting scenarios")
	cmd.Flags().StringVar(&f.resultsDir, "results-dir", "", "Directory for attachments and scenario results")
	return cmd
}

// upstream is the double the run programs, plus the listener it serves on
// when it lives in this process.
type upstream struct {
	controller mockbackend.Controller
	server     *mockbackend.Server
}

func newUpstream(cfg *config.Config, logger *slog.Logger) upstream {
	switch {
	case !cfg.Mock.Enabled:
		return upstream{controller: mockbackend.Disabled{}}
	case cfg.Mock.AdminURL != "":
		return upstream{controller: mockbackend.NewRemote(cfg.Mock.AdminURL)}
	default:
		srv := mockbackend.NewServer(&twincore.Config{Name: "mock", Port: cfg.Mock.Port, Verbose: cfg.Verbose}, logger)
		return upstream{controller: srv.Controller(), server: srv}
	}
}

func newSink(cfg *config.Config, logger *slog.Logger) (report.Sink, error) {
	sinks := report.Multi{report.LogSink{Logger: logger}}
	if cfg.ResultsDir != "" {
		ds, err := report.NewDirSink(cfg.ResultsDir, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ds)
	}
	return sinks, nil
}

func runFeatures(ctx context.Context, cfg *config.Config, logger *slog.Logger, f *runFlags, paths []string) error {
	sink, err := newSink(cfg, logger)
	if err != nil {
		return err
	}
	up := newUpstream(cfg, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if up.server != nil {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Mock.Port))
		if err != nil {
			return fmt.Errorf("listen mock: %w", err)
		}
		g.Go(func() error { return up.server.ServeListener(ctx, ln) })
	}

	runner := scenario.NewRunner(scenario.Deps{
		Dispatcher:         dispatch.New(cfg.EndpointURL(), cfg.APIKey, cfg.Timeout, logger),
		Mock:               up.controller,
		APIKey:             cfg.APIKey,
		NegativeKeyMarkers: cfg.NegativeKeyMarkers,
		Sink:               sink,
		Logger:             logger,
	})

	g.Go(func() error {
		defer cancel()
		suite := steps.NewSuite("authtwin", runner, &godog.Options{
			Format:         f.format,
			Paths:          paths,
			Tags:           f.tags,
			Concurrency:    f.concurrency,
			Strict:         true,
			DefaultContext: ctx,
		})
		if status := suite.Run(); status != 0 {
			return fmt.Errorf("feature run failed with status %d", status)
		}
		return nil
	})

	return g.Wait()
}

func mockCmd(g *globalFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "mock",
		Short: "Serve the upstream double",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("port") {
				port = cfg.Mock.Port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mockbackend.NewServer(&twincore.Config{Name: "mock", Port: port, Verbose: cfg.Verbose}, logger)
			return srv.Serve(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", config.DefaultMockPort, "Listen port")
	return cmd
}

func twinCmd(g *globalFlags) *cobra.Command {
	var (
		port        int
		upstreamURL string
	)
	cmd := &cobra.Command{
		Use:   "twin",
		Short: "Serve the reference API twin",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			if upstreamURL == "" {
				upstreamURL = cfg.MockURL()
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			t := apitwin.New(apitwin.Config{
				Twin:            twincore.Config{Name: "api", Port: port, Verbose: cfg.Verbose},
				APIKey:          cfg.APIKey,
				EndpointPath:    cfg.EndpointPath,
				UpstreamURL:     upstreamURL,
				UpstreamTimeout: cfg.Timeout,
			}, logger)
			return t.Serve(ctx)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Listen port")
	cmd.Flags().StringVar(&upstreamURL, "upstream", "", "Base URL of the upstream double (default: mock URL from config)")
	return cmd
}
