package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/srand/fgmachine/pkg/agent"
	"github.com/srand/fgmachine/pkg/coordinator"
	"github.com/srand/fgmachine/pkg/events"
	"github.com/srand/fgmachine/pkg/history"
	"github.com/srand/fgmachine/pkg/log"
	"github.com/srand/fgmachine/pkg/machine"
	"github.com/srand/fgmachine/pkg/metrics"
	"github.com/srand/fgmachine/pkg/project"
	"github.com/srand/fgmachine/pkg/results"
	"github.com/srand/fgmachine/pkg/utils"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

var rootCmd = &cobra.Command{
	Use:   "fgmachine",
	Short: "Experiment runner agent for the FGLab coordinator",
	Run: func(cmd *cobra.Command, args []string) {
		// Load agent configuration from flags, file or environment.
		config, err := LoadConfig()
		if err != nil {
			log.Fatal(err)
		}

		log.SetVerbosity(config.Verbosity)
		config.Log()

		if err := config.Validate(); err != nil {
			log.Fatal(err)
		}

		if err := run(config); err != nil {
			log.Fatal(err)
		}
	},
}

func run(config *agent.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fs := utils.NewOsFs()

	catalog, err := project.LoadCatalog(fs, config.Projects)
	if err != nil {
		return err
	}
	log.Info("Projects:")
	for _, id := range catalog.IDs() {
		log.Infof("  %s", id)
	}

	client, err := coordinator.NewHttpClient(coordinator.HttpClientConfig{
		Url:      config.CoordinatorUrl,
		Timeout:  config.ReportTimeout,
		Compress: config.CompressReports,
	})
	if err != nil {
		return err
	}

	identity, _ := machine.Bootstrap(ctx, machine.NewIdentityStore(fs, config.Specs), client, config.MachineUrl)

	store := history.NewNopStore()
	if config.History != "" {
		store, err = history.NewBadgerStore(config.History)
		if err != nil {
			return err
		}
	}
	defer store.Close()

	publisher := events.NewNopPublisher()
	if config.NatsUrl != "" {
		publisher, err = events.NewNatsPublisher(config.NatsUrl, config.NatsSubject)
		if err != nil {
			return err
		}
	}
	defer publisher.Close()

	harvester := results.NewHarvester(fs)
	harvester.MaxSize = config.ResultsMaxBytes()

	fgmachine := agent.New(config, agent.Dependencies{
		Catalog:   catalog,
		Client:    client,
		Identity:  identity,
		Harvester: harvester,
		Events:    publisher,
		History:   store,
		Metrics:   metrics.New(),
	})

	address, err := config.ListenAddress()
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:    address,
		Handler: agent.NewHttpHandler(fgmachine),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Listening on http", address)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(sctx); err != nil {
			log.Warn("HTTP server shutdown:", err)
		}
		return fgmachine.Shutdown(sctx)
	})

	return g.Wait()
}

func init() {
	rootCmd.Flags().StringP("coordinator-url", "c", "", "Coordinator (FGLab) URL")
	rootCmd.Flags().StringP("machine-url", "m", "", "URL at which the coordinator reaches this machine")
	rootCmd.Flags().StringP("listen", "l", "", "Address to listen on (default: port of the machine URL)")
	rootCmd.Flags().IntP("capacity", "n", 1, "Machine capacity")
	rootCmd.Flags().StringP("projects", "p", "projects.json", "Project catalog (.json or .yaml)")
	rootCmd.Flags().StringP("specs", "s", "specs.json", "Cached machine identity")
	rootCmd.Flags().String("history", "", "Experiment history database directory, or \"memory\"")
	rootCmd.Flags().String("nats-url", "", "NATS server for experiment events")
	rootCmd.Flags().String("nats-subject", "fgmachine.experiments", "Subject prefix for experiment events")
	rootCmd.Flags().Bool("compress-reports", true, "Compress reports with gzip")
	rootCmd.Flags().String("results-max-size", "", "Ignore result files larger than this, e.g. 50MB")
	rootCmd.Flags().Duration("report-timeout", 30*time.Second, "Timeout of a single report to the coordinator")
	rootCmd.Flags().CountP("verbose", "v", "Verbosity (repeatable)")

	viper.BindPFlag("coordinator_url", rootCmd.Flags().Lookup("coordinator-url"))
	viper.BindPFlag("machine_url", rootCmd.Flags().Lookup("machine-url"))
	viper.BindPFlag("listen", rootCmd.Flags().Lookup("listen"))
	viper.BindPFlag("max_capacity", rootCmd.Flags().Lookup("capacity"))
	viper.BindPFlag("projects", rootCmd.Flags().Lookup("projects"))
	viper.BindPFlag("specs", rootCmd.Flags().Lookup("specs"))
	viper.BindPFlag("history", rootCmd.Flags().Lookup("history"))
	viper.BindPFlag("nats_url", rootCmd.Flags().Lookup("nats-url"))
	viper.BindPFlag("nats_subject", rootCmd.Flags().Lookup("nats-subject"))
	viper.BindPFlag("compress_reports", rootCmd.Flags().Lookup("compress-reports"))
	viper.BindPFlag("results_max_size", rootCmd.Flags().Lookup("results-max-size"))
	viper.BindPFlag("report_timeout", rootCmd.Flags().Lookup("report-timeout"))
	viper.BindPFlag("verbosity", rootCmd.Flags().Lookup("verbose"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
