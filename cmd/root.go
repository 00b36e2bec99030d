package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/andresmejia3/faceapi/internal/faceq"
	"github.com/andresmejia3/faceapi/internal/metrics"
	"github.com/andresmejia3/faceapi/internal/store"
	"github.com/andresmejia3/faceapi/internal/worker"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// requiresDB marks commands that cannot run without the results journal.
const requiresDB = "requires-db"

// Options holds shared configuration for the detect, register, identify and watch commands
type Options struct {
	Queue       faceq.Config
	Engine      string
	PersonGroup string
	MetricsAddr string
	Verbose     bool
	NthFrame    int
}

var (
	// DB is the global database connection shared by subcommands. It is nil
	// when no database is configured and the command does not require one.
	DB *store.Store
	// dbURL is the connection string
	dbURL string

	opts = Options{Queue: faceq.DefaultConfig()}

	logger     = logr.Discard()
	flushLogs  = func() {}
	metricsSrv *http.Server
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "faceapi",
	Short:   "Asynchronous face detection, registration and identification",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupLogging(opts.Verbose); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		if opts.MetricsAddr != "" {
			startMetricsServer(opts.MetricsAddr)
		}

		url, configured := resolveDBURL(dbURL)
		if !configured && cmd.Annotations[requiresDB] == "" {
			// Results are only printed, not journaled
			return nil
		}

		// Initialize DB connection
		var err error
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), url)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
		if metricsSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			metricsSrv.Shutdown(ctx)
			cancel()
		}
		flushLogs()
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	def := worker.DefaultConfig()
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dbURL, "db", "", "PostgreSQL connection string for the results journal (default: POSTGRES_* environment, else none)")
	pf.StringVar(&opts.Engine, "engine", strings.Join(def.Command, " "), "Face engine command line")
	pf.StringVar(&opts.PersonGroup, "person-group", def.PersonGroup, "Person group used by register and identify")
	pf.IntVar(&opts.Queue.RequestCapacity, "queue-capacity", opts.Queue.RequestCapacity, "Number of requests that may wait for the engine")
	pf.IntVar(&opts.Queue.ResultCapacity, "result-capacity", opts.Queue.ResultCapacity, "Number of completed results that may wait for collection")
	pf.BoolVar(&opts.Queue.ReportFailures, "report-failures", false, "Report failed operations instead of dropping them")
	pf.StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable debug logging")
}

// resolveDBURL returns the connection string to use and whether one was
// configured. Without a flag it is built from the POSTGRES_* environment.
func resolveDBURL(flag string) (string, bool) {
	if flag != "" {
		return flag, true
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		name := os.Getenv("POSTGRES_DB")
		port := os.Getenv("POSTGRES_PORT")
		if port == "" {
			port = "5432"
		}
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name), true
	}
	// Fallback to local default for commands that need a database
	return "postgres://localhost:5432/faceapi", false
}

func setupLogging(verbose bool) error {
	var (
		zapLog *zap.Logger
		err    error
	)
	if verbose {
		zapLog, err = zap.NewDevelopment()
	} else {
		cfg := zap.NewProductionConfig()
		cfg.Encoding = "console"
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		zapLog, err = cfg.Build()
	}
	if err != nil {
		return err
	}
	logger = zapr.NewLogger(zapLog)
	flushLogs = func() { zapLog.Sync() }
	return nil
}

func startMetricsServer(addr string) {
	metrics.Register(prometheus.DefaultRegisterer)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "metrics server stopped", "addr", addr)
		}
	}()
	fmt.Fprintf(os.Stderr, "📈 Serving metrics on %s/metrics\n", addr)
}

// engineConfig turns the --engine and --person-group flags into a worker.Config.
func engineConfig(o Options) (worker.Config, error) {
	cfg := worker.DefaultConfig()
	cfg.Command = strings.Fields(o.Engine)
	if len(cfg.Command) == 0 {
		return cfg, errors.New("--engine must not be empty")
	}
	if o.PersonGroup == "" {
		return cfg, errors.New("--person-group must not be empty")
	}
	cfg.PersonGroup = o.PersonGroup
	return cfg, nil
}
