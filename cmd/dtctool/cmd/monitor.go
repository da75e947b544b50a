package cmd

import (
	"context"
	"time"

	"github.com/carloop/obdcan"
	"github.com/carloop/obdcan/pkg/events"
	"github.com/carloop/obdcan/pkg/obd2"
	"github.com/manifoldco/promptui"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	monitorCmd.Flags().Duration("interval", 0, "poll interval, 0 shows the interactive menu")
	rootCmd.AddCommand(monitorCmd)
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "interactively read or clear codes, or poll on an interval",
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

		if interval, _ := cmd.Flags().GetDuration("interval"); interval > 0 {
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return pollLoop(gctx, s, client, pub, interval)
			})
			return g.Wait()
		}
		return menuLoop(ctx, s, client, pub)
	},
}

// menuLoop offers the read and clear actions interactively.
func menuLoop(ctx context.Context, s *settings, client *obdcan.Client, pub *events.Publisher) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		sel := promptui.Select{
			Label: "Action",
			Items: []string{"Read codes", "Clear codes", "Quit"},
		}
		_, choice, err := sel.Run()
		if err != nil {
			// ctrl-c inside the prompt
			return nil
		}
		switch choice {
		case "Read codes":
			codes, err := runRead(ctx, client, pub)
			if err != nil {
				pub.Error("read")
				log.WithError(err).Error("error while reading codes, is the ignition on?")
				continue
			}
			reportCodes(codes)
			pub.Result(obd2.FormatDTCs(codes))
			if err := reportHistory(s, codes); err != nil {
				log.WithError(err).Warn("failed to update code history")
			}
		case "Clear codes":
			if err := runClear(ctx, client, pub); err != nil {
				pub.Error("clear")
				log.WithError(err).Error("error while clearing codes, is the ignition on?")
				continue
			}
			printGreen("Success!\n")
			pub.Cleared()
		case "Quit":
			return nil
		}
	}
}

// pollLoop reads codes on a fixed interval and reports changes between
// runs through the history store and the event publisher.
func pollLoop(ctx context.Context, s *settings, client *obdcan.Client, pub *events.Publisher, interval time.Duration) error {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		codes, err := runRead(ctx, client, pub)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			pub.Error("read")
			log.WithError(err).Warn("read failed, will try again next interval")
		} else {
			reportCodes(codes)
			pub.Result(obd2.FormatDTCs(codes))
			if err := reportHistory(s, codes); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}
