package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go"
	"github.com/carloop/obdcan"
	"github.com/carloop/obdcan/pkg/events"
	"github.com/carloop/obdcan/pkg/history"
	"github.com/carloop/obdcan/pkg/obd2"
	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	printGreen  = color.New(color.FgGreen).PrintfFunc()
	printRed    = color.New(color.FgRed).PrintfFunc()
	printYellow = color.New(color.FgYellow).PrintfFunc()
)

func init() {
	readCmd.Flags().Uint("retries", 0, "retry a failed read this many times")
	rootCmd.AddCommand(readCmd)
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "read stored, pending and cleared trouble codes",
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

		retries, _ := cmd.Flags().GetUint("retries")
		var codes []obd2.DTC
		err = retry.Do(
			func() error {
				codes, err = runRead(ctx, client, pub)
				return err
			},
			retry.Attempts(retries+1),
			retry.Delay(500*time.Millisecond),
			retry.LastErrorOnly(true),
			retry.RetryIf(obdcan.IsRecoverable),
			retry.OnRetry(func(n uint, err error) {
				log.WithError(err).Warnf("read attempt %d failed, retrying", n+1)
			}),
		)
		if err != nil {
			pub.Error("read")
			return fmt.Errorf("error while reading codes, is the ignition on? %w", err)
		}

		reportCodes(codes)
		pub.Result(obd2.FormatDTCs(codes))
		return reportHistory(s, codes)
	},
}

// runRead drives one full CodeReader run on a plain polling loop.
func runRead(ctx context.Context, client *obdcan.Client, pub *events.Publisher) ([]obd2.DTC, error) {
	session := obd2.NewSession(ctx, client)
	defer session.Close()
	reader := obd2.NewCodeReader(session)

	log.Info("reading codes...")
	pub.Start()
	if err := reader.Start(); err != nil {
		return nil, err
	}
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for !reader.Done() {
		select {
		case <-ctx.Done():
			return nil, obdcan.Unrecoverable(ctx.Err())
		case <-tick.C:
			reader.Process()
		}
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	return reader.Codes(), nil
}

func reportCodes(codes []obd2.DTC) {
	if len(codes) == 0 {
		printGreen("No fault codes. Fantastic!\n")
		return
	}
	log.Infof("read %d codes", len(codes))
	for _, code := range codes {
		switch code.Status {
		case obd2.Stored:
			printRed("%s (%s)\n", code.String(), code.Status.Label())
		case obd2.Pending:
			printYellow("%s (%s)\n", code.String(), code.Status.Label())
		default:
			fmt.Printf("%s (%s)\n", code.String(), code.Status.Label())
		}
	}
}

// reportHistory diffs the fresh read against the last run and stores it.
func reportHistory(s *settings, codes []obd2.DTC) error {
	if s.HistoryPath == "" {
		return nil
	}
	store, err := history.Open(s.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	rendered := make([]string, 0, len(codes))
	for _, c := range codes {
		rendered = append(rendered, c.Suffixed())
	}
	appeared, resolved, err := store.Diff(rendered)
	if err != nil {
		return err
	}
	for _, c := range appeared {
		printRed("new since last read: %s\n", c)
	}
	for _, c := range resolved {
		printGreen("resolved since last read: %s\n", c)
	}
	return store.Replace(rendered)
}
