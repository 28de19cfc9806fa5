package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"cf-ips-to-hcloud-fw/internal/client"
	"cf-ips-to-hcloud-fw/internal/config"
	"cf-ips-to-hcloud-fw/internal/logging"
	"cf-ips-to-hcloud-fw/internal/metrics"
	"cf-ips-to-hcloud-fw/internal/reconciler"
	"cf-ips-to-hcloud-fw/internal/scheduler"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "local"

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// dependencies are the outbound services, replaced in tests.
type dependencies struct {
	cidrSource scheduler.CIDRSource
	newClient  reconciler.ClientFactory
}

func defaultDependencies() dependencies {
	v := buildVersion()
	return dependencies{
		cidrSource: client.NewCloudflareClient(),
		newClient: func(token config.Secret) reconciler.FirewallAPI {
			return client.NewHetznerClient(token.Reveal(), v)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDependencies())
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, deps dependencies) int {
	opts, err := config.LoadOptions()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	fs := newFlagSet(opts, stderr)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if opts.ShowVersion {
		fmt.Fprintln(stdout, buildVersion())
		return exitOK
	}
	if opts.ConfigFile == "" {
		fmt.Fprintln(stderr, "the following arguments are required: -c/--config")
		fs.Usage()
		return exitUsage
	}

	logger := logging.New(logging.Config{Debug: opts.Debug, Output: stderr})

	projects, err := config.LoadProjects(opts.ConfigFile)
	if errors.Is(err, config.ErrNoProjects) {
		logger.Warn(err.Error() + " - exiting")
		return exitOK
	}
	if err != nil {
		logger.Error(err.Error())
		return exitError
	}

	syncer := scheduler.NewSyncer(projects, deps.cidrSource, reconciler.New(deps.newClient, logger), logger)
	recorder := metrics.NewRecorder(opts.MetricsTextfile, logger)
	sched := scheduler.New(syncer, recorder, logger)

	if opts.Schedule == "" {
		if err := sched.RunOnce(ctx); err != nil {
			return exitError
		}
		return exitOK
	}

	if err := sched.Start(ctx, opts.Schedule); err != nil {
		logger.Error(err.Error())
		return exitError
	}
	return exitOK
}

func newFlagSet(opts *config.Options, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("cf-ips-to-hcloud-fw", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Update Hetzner Cloud firewall rules with Cloudflare IP ranges")
		fmt.Fprintln(stderr)
		fmt.Fprintln(stderr, "Usage: cf-ips-to-hcloud-fw -c CONFIGFILE [-d] [-s SCHEDULE] [-m PATH]")
		fs.PrintDefaults()
	}

	for _, name := range []string{"c", "config"} {
		fs.StringVar(&opts.ConfigFile, name, opts.ConfigFile, "config file")
	}
	for _, name := range []string{"d", "debug"} {
		fs.BoolVar(&opts.Debug, name, opts.Debug, "debug logging with source locations")
	}
	for _, name := range []string{"v", "version"} {
		fs.BoolVar(&opts.ShowVersion, name, false, "print version and exit")
	}
	for _, name := range []string{"s", "schedule"} {
		fs.StringVar(&opts.Schedule, name, opts.Schedule, "keep running and sync on this cron schedule")
	}
	for _, name := range []string{"m", "metrics-textfile"} {
		fs.StringVar(&opts.MetricsTextfile, name, opts.MetricsTextfile, "write Prometheus metrics to this file after each run")
	}
	return fs
}

// buildVersion prefers the -ldflags value and falls back to the module
// version recorded by "go install".
func buildVersion() string {
	if version != "local" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}
