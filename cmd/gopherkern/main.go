// Command gopherkern boots the hosted kernel and runs its init program.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zjuxlh1993/15410-1/kernel/config"
	"github.com/zjuxlh1993/15410-1/kernel/kfmt"
	"github.com/zjuxlh1993/15410-1/kernel/kmain"
	"github.com/zjuxlh1993/15410-1/kernel/metrics"
	"github.com/zjuxlh1993/15410-1/progs"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "gopherkern: %v\n", err)
		os.Exit(1)
	}
}

// run parses args, boots the machine and runs it until init finishes or
// ctx is cancelled. Console output goes to stdout, logs to stderr.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("gopherkern", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		configPath   = fs.String("config", "", "Path to configuration file (optional).")
		printConfig  = fs.Bool("print-config", false, "Print the effective configuration and exit.")
		initCmd      = fs.String("init", "", "Override the init command line.")
		logLevel     = fs.String("log-level", "", "Override the log level.")
		listPrograms = fs.Bool("list-programs", false, "List the built-in programs and exit.")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *listPrograms {
		for _, e := range progs.All() {
			fmt.Fprintln(stdout, e.Name)
		}
		return nil
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	// Command line flags override config file values.
	if *initCmd != "" {
		cfg.Boot.Init = *initCmd
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if *printConfig {
		return config.Write(stdout, cfg)
	}

	kfmt.ConfigureLogging(kfmt.LogOptions{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Color:  cfg.Logging.Color,
		Async:  cfg.Logging.Async,
		Writer: stderr,
	})
	defer kfmt.CloseLogging()

	logger := kfmt.Logger("main")
	logger.Info().
		Str("config", *configPath).
		Str("init", cfg.Boot.Init).
		Bool("metrics", cfg.Metrics.Enabled).
		Msg("starting gopherkern")

	machine, err := kmain.Boot(cfg, stdout)
	if err != nil {
		return fmt.Errorf("boot failed: %w", err)
	}
	defer machine.Release()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return machine.Run(gctx)
	})

	if cfg.Metrics.Enabled {
		srv := metricsServer(cfg.Metrics, machine.MetricsSources())

		g.Go(func() error {
			logger.Info().Str("address", cfg.Metrics.Listen).Str("path", cfg.Metrics.Path).Msg("serving metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				machine.Shutdown()
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-machine.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logStop(ctx, logger, err)
	return err
}

func logStop(ctx context.Context, logger *log.Logger, err error) {
	switch {
	case err != nil:
		logger.Error().Err(err).Msg("gopherkern stopped with an error")
	case ctx.Err() != nil:
		logger.Info().Msg("received shutdown signal; machine powered off")
	default:
		logger.Info().Msg("machine powered off")
	}
}

// metricsServer returns an HTTP server exposing the kernel collector
// alongside the Go runtime and process collectors.
func metricsServer(cfg config.MetricsConfig, src metrics.Sources) *http.Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		metrics.NewKernelCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "<html><head><title>gopherkern</title></head><body><h1>gopherkern</h1><p><a href=%q>Metrics</a></p></body></html>\n",
			strings.TrimSpace(cfg.Path))
	})

	return &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
