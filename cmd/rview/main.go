// Package main provides rview, a terminal front end that pages through the
// images of a directory using the prefetch cache.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	internal "github.com/ZanzyTHEbar/rview/viewer"
	"github.com/ZanzyTHEbar/rview/viewer/config"
	"github.com/ZanzyTHEbar/rview/viewer/filesystem"
	"github.com/ZanzyTHEbar/rview/viewer/filesystem/common"
	"github.com/ZanzyTHEbar/rview/viewer/imaging"
	rviewprom "github.com/ZanzyTHEbar/rview/viewer/metrics/prometheus"
	"github.com/ZanzyTHEbar/rview/viewer/ports"
	"github.com/ZanzyTHEbar/rview/viewer/prefetch"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// browseOptions selects which images are viewed and in which order.
type browseOptions struct {
	start   int
	count   int
	reverse bool
}

// run is main without the process globals. It returns the exit code.
func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	flagSet := flag.NewFlagSet(internal.DefaultAppCMDShortCut, flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	flagSet.Usage = func() {
		fmt.Fprintf(errOut, "usage: %s [flags] <dir>\n", internal.DefaultAppCMDShortCut)
		flagSet.PrintDefaults()
	}

	configPath := flagSet.StringP("config", "c", "", "Config file (default: search ., .., etc/rview, then "+internal.DefaultGlobalConfigFile+")")
	flagSet.Int("window", prefetch.DefaultWindowSize, "Number of images kept warm around the current one")
	flagSet.Int("workers", prefetch.DefaultWorkerCount, "Number of decode workers")
	flagSet.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flagSet.String("log-format", "console", "Log format (console, json)")
	flagSet.Bool("metrics", false, "Serve Prometheus metrics")
	flagSet.String("metrics-addr", ":9090", "Address of the metrics endpoint")

	var opts browseOptions
	flagSet.IntVarP(&opts.start, "start", "s", 0, "Index of the first image to view")
	flagSet.IntVarP(&opts.count, "count", "n", 0, "Number of images to view (0 = all)")
	flagSet.BoolVarP(&opts.reverse, "reverse", "r", false, "Browse backwards from --start")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return 2
	}
	dir := flagSet.Arg(0)

	loader := config.NewLoader()
	if err := loader.BindFlags(flagSet); err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintln(errOut, "error:", err)
		return 1
	}

	logger := internal.NewLoggerTo(errOut, cfg.Logging.Level, cfg.Logging.Format)
	if used := loader.ConfigFileUsed(); used != "" {
		logger.Debug().Str("file", used).Msg("Configuration loaded")
	}

	if err := browse(ctx, cfg, dir, opts, &textPresenter{out: out}, logger); err != nil {
		logger.Error().Err(err).Msg("Browsing failed")
		return 1
	}
	return 0
}

// browse enumerates dir and shows the selected images through presenter.
func browse(ctx context.Context, cfg *config.Config, dir string, opts browseOptions, presenter *textPresenter, logger zerolog.Logger) error {
	enumerator := filesystem.NewImageEnumerator(cfg.Viewer.Extensions, cfg.Viewer.IgnoreFile, logger)
	paths, err := enumerator.Enumerate(ctx, dir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return fmt.Errorf("no images in %s", dir)
	}
	presenter.total = len(paths)

	local := common.NewPrefetchMetrics()
	sinks := []prefetch.Metrics{local}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		sinks = append(sinks, rviewprom.NewPrefetchMetrics(reg))

		stopServer := serveMetrics(cfg.Metrics.Address, reg, logger)
		defer stopServer()
	}

	cache, err := prefetch.New(imaging.NewStdDecoder(),
		prefetch.Config{
			WindowSize:  cfg.Prefetch.WindowSize,
			WorkerCount: cfg.Prefetch.WorkerCount,
		},
		prefetch.WithLogger(logger),
		prefetch.WithMetrics(prefetch.MultiMetrics(sinks...)),
	)
	if err != nil {
		return err
	}
	defer cache.Close()

	if err := cache.SetWorkingSet(paths); err != nil {
		return err
	}
	logger.Info().
		Str("dir", dir).
		Int("images", len(paths)).
		Int("window", cfg.Prefetch.WindowSize).
		Int("workers", cfg.Prefetch.WorkerCount).
		Msg("Browsing")

	err = view(ctx, cache, paths, selection(len(paths), opts), presenter, common.NewErrorUtils(logger))
	presenter.Summary(local.GetMetrics())
	return err
}

// view requests each selected image in turn. Failed decodes are shown as
// placeholders and browsing continues; any other error stops it.
func view(ctx context.Context, cache *prefetch.Cache, paths []string, order []int, presenter ports.Presenter, errUtils *common.ErrorUtils) error {
	for _, idx := range order {
		start := time.Now()
		buf, err := cache.Get(ctx, paths[idx])
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errUtils.IsRetryableError(err) {
				return errUtils.LogAndWrapError(err, zerolog.ErrorLevel, "failed to view %s", paths[idx])
			}
			presenter.Placeholder(idx, paths[idx], err)
			continue
		}
		presenter.Show(idx, buf, time.Since(start))
	}
	return nil
}

// selection returns the indices to view: count images from start, walking
// backwards when reverse is set. start is clamped into range and count <= 0
// means until the end.
func selection(total int, opts browseOptions) []int {
	if total == 0 {
		return nil
	}
	start := max(0, min(opts.start, total-1))

	remaining := total - start
	if opts.reverse {
		remaining = start + 1
	}
	n := remaining
	if opts.count > 0 {
		n = min(opts.count, remaining)
	}

	order := make([]int, n)
	for i := range order {
		if opts.reverse {
			order[i] = start - i
		} else {
			order[i] = start + i
		}
	}
	return order
}

// serveMetrics serves reg on addr until the returned func is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Info().Str("address", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
