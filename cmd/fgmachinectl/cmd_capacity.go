package main

import (
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

var capacityCmd = &cobra.Command{
	Use:   "capacity [project]",
	Short: "Show how many experiments of a project can be started",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		PrintJson(MustCall(http.MethodGet, "/projects/"+url.PathEscape(args[0])+"/capacity", nil))
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show available capacity and running experiments",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		PrintJson(MustCall(http.MethodGet, "/status", nil))
	},
}

func init() {
	rootCmd.AddCommand(capacityCmd)
	rootCmd.AddCommand(statusCmd)
}
