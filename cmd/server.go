package cmd

import (
	"context"
	"log/slog"

	"github.com/orgboard/orgsync/internal/api"
	"github.com/orgboard/orgsync/internal/config"
	"github.com/orgboard/orgsync/internal/pubsub"
	"github.com/orgboard/orgsync/internal/services"
	"github.com/orgboard/orgsync/internal/telemetry"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the orgsync API server and sync orchestrators",
	Run: func(cmd *cobra.Command, args []string) {
		conf := config.ReadConfig()

		shutdownTelemetry := telemetry.NewProvider(conf.OTEL_EXPORTER_OTLP_ENDPOINT)
		defer shutdownTelemetry()

		svc := services.NewServices(conf)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Local writes observed through postgres NOTIFY nudge the matching
		// orchestrator so outward pushes do not wait for the next tick.
		ps := pubsub.NewPubSub(conf)
		ps.Subscribe(func(event pubsub.EntityChangeEvent) {
			switch event.Table {
			case "events":
				svc.CalendarSync.Trigger()
			case "transactions":
				svc.LedgerSync.Trigger()
			}
		})
		if err := ps.Start(); err != nil {
			slog.Error("Failed to start entity change listener", slog.Any("error", err))
		}
		defer ps.Stop()

		go svc.CalendarSync.Run(ctx)
		go svc.LedgerSync.Run(ctx)

		s := api.New(conf, svc)
		s.Start()
	},
}

// Register the "server" command
func init() {
	rootCmd.AddCommand(serverCmd)
}
