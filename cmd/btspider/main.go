package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/btspider/config"
	"github.com/opd-ai/btspider/server"
	"github.com/opd-ai/btspider/status"
)

// CLI configuration
type CLIConfig struct {
	envFile   string
	host      string
	port      int
	ports     string
	workers   int
	dataFile  string
	statsFile string
	proxy     string
	logLevel  string
	logFile   string
	status    bool
	help      bool

	// set records which flags were given explicitly.
	set map[string]bool
}

// parseCLIFlags parses args and returns the configuration.
func parseCLIFlags(args []string, output io.Writer) (*CLIConfig, error) {
	cli := &CLIConfig{set: make(map[string]bool)}
	fs := flag.NewFlagSet("btspider", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&cli.envFile, "env", ".env", "Environment file with BTSPIDER_* settings")

	// Network configuration
	fs.StringVar(&cli.host, "host", "0.0.0.0", "UDP listen address")
	fs.IntVar(&cli.port, "port", 6882, "Primary UDP listen port")
	fs.StringVar(&cli.ports, "ports", "", "Additional comma-separated UDP ports, one routing table each")

	// Crawler configuration
	fs.IntVar(&cli.workers, "workers", 4, "Number of task workers")
	fs.StringVar(&cli.dataFile, "data-file", "", "Metadata log base path (date suffix is appended)")
	fs.StringVar(&cli.statsFile, "stats-file", "", "Status board file")
	fs.StringVar(&cli.proxy, "proxy", "", "Proxy URL for metadata connections (socks5:// or http://)")

	// Logging configuration
	fs.StringVar(&cli.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&cli.logFile, "log-file", "", "Log file path (default: stderr)")

	fs.BoolVar(&cli.status, "status", false, "Show the status board of a running crawler and exit on interrupt")
	fs.BoolVar(&cli.help, "help", false, "Show help message")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { cli.set[f.Name] = true })
	return cli, nil
}

// applyFlags copies explicitly given flags over the loaded configuration.
func applyFlags(cli *CLIConfig, c *config.Config) error {
	if cli.set["host"] {
		c.Set("server.host", cli.host)
	}
	if cli.set["port"] {
		if cli.port < config.MinPort || cli.port > config.MaxPort {
			return fmt.Errorf("invalid port %d: must be between %d and %d", cli.port, config.MinPort, config.MaxPort)
		}
		c.Set("server.port", cli.port)
	}
	if cli.set["ports"] {
		var ports []string
		for _, p := range strings.Split(cli.ports, ",") {
			if p = strings.TrimSpace(p); p == "" {
				continue
			}
			if _, err := strconv.Atoi(p); err != nil {
				return fmt.Errorf("invalid port %q in -ports", p)
			}
			ports = append(ports, p)
		}
		c.Set("server.ports", ports)
	}
	if cli.set["workers"] {
		if cli.workers < config.MinWorkers || cli.workers > config.MaxWorkers {
			return fmt.Errorf("invalid worker count %d", cli.workers)
		}
		c.Set("worker.worker_num", cli.workers)
	}
	if cli.set["data-file"] {
		c.Set("data_file", cli.dataFile)
	}
	if cli.set["stats-file"] {
		c.Set("stats_file", cli.statsFile)
	}
	if cli.set["proxy"] {
		c.Set("metadata.proxy", cli.proxy)
	}
	if cli.set["log-level"] {
		c.Set("log_level", cli.logLevel)
	}
	if cli.set["log-file"] {
		c.Set("log_file", cli.logFile)
	}
	return nil
}

// setupLogging configures the global logger. The returned closer releases
// the log file, if any.
func setupLogging(level, file string) (io.Closer, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if file == "" {
		logrus.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logrus.SetOutput(f)
	return f, nil
}

// printUsage prints the usage information.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "BTSpider - BitTorrent DHT crawler")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s [options]\n", os.Args[0])
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Every setting can also be given as BTSPIDER_<KEY> in the environment or")
	fmt.Fprintln(w, "the -env file, e.g. BTSPIDER_WORKER_RUNNING_MAX=500. Flags win.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s -port 6882 -ports 6883,6884\n", os.Args[0])
	fmt.Fprintf(w, "  %s -status\n", os.Args[0])
}

func run(ctx context.Context, cli *CLIConfig) error {
	cfg, err := config.Load(cli.envFile)
	if err != nil {
		return err
	}
	if err := applyFlags(cli, cfg); err != nil {
		return err
	}

	closer, err := setupLogging(cfg.String("log_level", "info"), cfg.String("log_file", ""))
	if err != nil {
		return err
	}
	defer closer.Close()

	if cli.status {
		return status.Watch(ctx, os.Stdout, cfg.String("stats_file", ""), time.Second, nil)
	}

	opts, err := server.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	srv, err := server.New(opts)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "run",
		"name":     cfg.String("name", "BTSpider"),
		"ports":    opts.Ports,
	}).Info("Starting crawler")

	return srv.Run(ctx)
}

func main() {
	cli, err := parseCLIFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}
	if cli.help {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cli); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Error("Crawler exited with error")
		fmt.Fprintf(os.Stderr, "btspider: %v\n", err)
		stop()
		os.Exit(1)
	}
}
