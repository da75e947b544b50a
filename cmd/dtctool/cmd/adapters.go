package cmd

import (
	"fmt"

	"github.com/carloop/obdcan"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(adaptersCmd)
}

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "list available CAN adapters",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, a := range obdcan.ListAdapters() {
			fmt.Println(a.String())
		}
	},
}
