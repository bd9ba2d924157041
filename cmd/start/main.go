package start

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ledgerd/bookie/internal/di"
	"github.com/ledgerd/bookie/metrics"
	"github.com/ledgerd/bookie/utils"
	"github.com/ledgerd/bookie/utils/log"
)

const (
	usage                 = "start"
	short                 = "Start a bookie"
	long                  = "This command replays the journals of a bookie and starts accepting entries"
	example               = "bookie start --config <path>"
	defaultConfigFilePath = "./bookie.yml"
	configDesc            = "set the path for the bookie YAML configuration file"
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
	// configFilePath set flag for a path to the config file.
	configFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	utils.InstanceConfig.StartTime = time.Now()
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

// executeStart implements the start command.
func executeStart(cmd *cobra.Command, _ []string) error {
	globalCtx, globalCancel := context.WithCancel(context.Background())
	defer globalCancel()

	// Attempt to read config file.
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return fmt.Errorf("failed to read configuration file error: %w", err)
	}

	// Don't output command usage if args(=only the filepath to bookie.yml at the moment) are correct
	cmd.SilenceUsage = true

	log.Info("using %v for configuration", configFilePath)

	config, err := utils.ParseConfig(data)
	if err != nil {
		return fmt.Errorf("failed to parse configuration file error: %w", err)
	}
	log.SetLevel(config.LogLevel)
	config.StartTime = utils.InstanceConfig.StartTime
	utils.InstanceConfig = *config

	c := di.NewContainer(config)

	log.Info("initializing bookie...")
	start := time.Now()

	journals := c.GetJournals()
	if err := replayJournals(c); err != nil {
		return fmt.Errorf("journal replay failed: %w", err)
	}
	for _, j := range journals {
		if err := j.Start(); err != nil {
			c.Shutdown()
			return fmt.Errorf("start journal %s: %w", j.Dir(), err)
		}
	}

	if config.DiskUsageInterval > 0 {
		for _, dir := range c.GetAbsJournalDirs() {
			go metrics.StartDiskUsageMonitor(globalCtx, metrics.JournalDiskUsageBytes.WithLabelValues(dir),
				dir, config.DiskUsageInterval)
		}
	}

	startupTime := time.Since(start)
	metrics.StartupTime.Set(startupTime.Seconds())
	log.Info("startup time: %s", startupTime)

	// Set monitoring handler.
	log.Info("launching prometheus metrics server...")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              config.ListenURL,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Listen for signals until a shutdown is requested or a journal dies.
	const defaultSignalChanLen = 10
	signalChan := make(chan os.Signal, defaultSignalChanLen)
	signal.Notify(signalChan, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalChan)

	var runErr error
loop:
	for {
		select {
		case s := <-signalChan:
			switch s {
			case syscall.SIGUSR1:
				log.Info("dumping stack traces due to SIGUSR1 request")
				if err := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1); err != nil {
					log.Error("failed to write goroutine pprof: %v", err)
				}
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("initiating graceful shutdown due to '%v' request", s)
				log.Info("waiting a grace period of %v to shutdown...", config.StopGracePeriod)
				time.Sleep(config.StopGracePeriod)
				break loop
			}
		case <-c.JournalDied():
			runErr = errors.New("a journal stopped unexpectedly")
			log.Error("%v, shutting down", runErr)
			break loop
		case err := <-serverErr:
			runErr = fmt.Errorf("failed to start server - error: %w", err)
			break loop
		}
	}

	globalCancel()
	c.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics server shutdown: %v", err)
	}
	log.Info("exiting...")
	return runErr
}

// replayJournals replays every journal on the recovery pool.
func replayJournals(c *di.Container) error {
	p := c.GetRecoveryPool()
	cc := make(chan interface{})
	go func() {
		defer close(cc)
		for _, j := range c.GetJournals() {
			cc <- j
		}
	}()
	p.Work(cc)
	return p.Wait()
}
