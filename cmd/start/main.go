// Package start implements the "start" subcommand: read configuration,
// open the chunked transaction-file database, and run its single
// message-processing drain loop until a shutdown signal arrives. The
// signal handling and graceful-shutdown shape is grounded on
// cmd/marketstore/marketstore.go's SIGUSR1/SIGINT handler and
// executor/wal.go's TriggerShutdown/FinishAndWait latch.
package start

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arborstore/tfdb/internal/appendqueue"
	"github.com/arborstore/tfdb/internal/chunk"
	"github.com/arborstore/tfdb/internal/config"
	"github.com/arborstore/tfdb/internal/log"
	"github.com/arborstore/tfdb/internal/metrics"
	"github.com/arborstore/tfdb/internal/streamindex"
	"github.com/arborstore/tfdb/internal/streamstore"
	"github.com/arborstore/tfdb/internal/tfdb"
)

const (
	usage                 = "start"
	short                 = "Start a tfdb event store server"
	long                  = "This command opens the database directory and runs its write drain loop and metrics endpoint"
	example               = "tfdb start --config <path>"
	defaultConfigFilePath = "./tfdb.yml"
	configDesc            = "set the path for the YAML configuration file"

	diskUsageMonitorInterval = 10 * time.Minute
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"boot", "up"},
		Example:    example,
		RunE:       executeStart,
	}
	configFilePath string
)

//nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

func executeStart(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}
	cmd.SilenceUsage = true

	log.Info("using %v for configuration", configFilePath)
	cfg, err := config.Parse(data)
	if err != nil {
		return fmt.Errorf("failed to parse configuration file: %w", err)
	}
	config.Instance = *cfg

	log.Info("opening database at %s", cfg.RootDirectory)
	start := time.Now()
	db, err := tfdb.Open(cfg.RootDirectory, tfdb.Options{
		ChunkSize:  cfg.ChunkSize,
		Naming:     chunk.NewVersioned("chunk-"),
		VerifyHash: true,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	log.Info("database opened in %s", time.Since(start))

	idx := streamindex.New()
	streamstore.Rebuild(db, idx)
	store := streamstore.New(db, idx)

	queue := appendqueue.New()
	go store.DrainLoop(ctx, queue)

	go metrics.StartDiskUsageMonitor(cfg.RootDirectory, diskUsageMonitorInterval)

	log.Info("launching prometheus metrics server...")
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(cfg.ListenPort, nil); err != nil {
			log.Error("metrics server error: %v", err)
		}
	}()

	return waitForShutdown(cfg, queue, cancel)
}

// waitForShutdown blocks on SIGUSR1 (stack dump) and SIGINT/SIGTERM
// (graceful shutdown after StopGracePeriod), the same pprof-dump-then-drain
// shutdown shape cmd/marketstore/marketstore.go uses.
func waitForShutdown(cfg *config.Config, queue *appendqueue.Queue, cancel context.CancelFunc) error {
	const signalChanLen = 10
	signalChan := make(chan os.Signal, signalChanLen)
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)

	for s := range signalChan {
		switch s {
		case syscall.SIGUSR1:
			log.Info("dumping stack traces due to SIGUSR1 request")
			if err := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1); err != nil {
				log.Error("failed to write goroutine pprof: %v", err)
			}
		case syscall.SIGINT, syscall.SIGTERM:
			log.Info("initiating graceful shutdown due to '%v' request", s)
			log.Info("waiting a grace period of %v to shutdown...", cfg.StopGracePeriod)
			time.Sleep(cfg.StopGracePeriod)
			queue.Close()
			cancel()
			log.Info("exiting...")
			return nil
		}
	}
	return nil
}
