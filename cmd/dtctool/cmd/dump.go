package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(dumpCmd)
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "print raw bus traffic until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		client, err := initCAN(ctx, s)
		if err != nil {
			return err
		}
		defer client.Close()

		sub := client.Subscribe(ctx)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			case frame, ok := <-sub.C():
				if !ok {
					return nil
				}
				fmt.Println(frame.ColorString())
			}
		}
	},
}
