package cmd

import (
	"context"
	"time"

	"github.com/carloop/obdcan"
	"github.com/carloop/obdcan/pkg/events"
	"github.com/carloop/obdcan/pkg/history"
	"github.com/carloop/obdcan/pkg/obd2"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(clearCmd)
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "clear trouble codes and turn off the check engine light",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		client, err := initCAN(ctx, s, obd2.ResponseIDs()...)
		if err != nil {
			return err
		}
		defer client.Close()

		pub := connectEvents(s)
		defer pub.Disconnect()

		if err := runClear(ctx, client, pub); err != nil {
			pub.Error("clear")
			log.WithError(err).Error("error while clearing codes, is the ignition on?")
			return err
		}
		printGreen("Success!\n")
		pub.Cleared()
		if s.HistoryPath != "" {
			store, err := history.Open(s.HistoryPath)
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Clear()
		}
		return nil
	},
}

func runClear(ctx context.Context, client *obdcan.Client, pub *events.Publisher) error {
	session := obd2.NewSession(ctx, client)
	defer session.Close()
	clearer := obd2.NewCodeClearer(session)

	log.Info("clearing codes...")
	pub.Clear()
	if err := clearer.Start(); err != nil {
		return err
	}
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for !clearer.Done() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			clearer.Process()
		}
	}
	return clearer.Err()
}
