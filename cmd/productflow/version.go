package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/productflow"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of productflow",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "productflow version %s\n", strings.TrimSpace(productflow.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
