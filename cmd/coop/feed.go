package coop

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mariukha/CoopManager/pkg/changefeed"
	"github.com/mariukha/CoopManager/pkg/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	// Register built-in sinks
	_ "github.com/mariukha/CoopManager/pkg/changefeed/sink/clickhouse"
	_ "github.com/mariukha/CoopManager/pkg/changefeed/sink/kafka"
	_ "github.com/mariukha/CoopManager/pkg/changefeed/sink/mqtt"
	_ "github.com/mariukha/CoopManager/pkg/changefeed/sink/nats"
)

var feedCmd = &cobra.Command{
	Use:     "feed",
	Aliases: []string{"f"},
	Short:   "Stream row changes to the configured sinks",
	Long:    `Reads the logical replication stream of the cooperative tables and publishes every change to NATS, Kafka, MQTT, ClickHouse or the log.`,
	RunE:    runFeed,
}

func init() {
	f := feedCmd.Flags()
	f.String("feed.replication.connString", "", "PostgreSQL replication connection string")
	f.String("feed.replication.publication", "", "Publication to create or update")
	f.String("feed.replication.slot", "", "Logical replication slot")

	viper.BindPFlags(f)
}

func runFeed(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{Addr: cfg.Metrics.Addr, Logger: logger})
	}

	err := changefeed.Run(ctx, cfg.Feed, logger)
	cancel()
	wg.Wait()
	if err != nil {
		logger.Error("change feed stopped", zap.Error(err))
		return err
	}
	logger.Info("change feed stopped")
	return nil
}
