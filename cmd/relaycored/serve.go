package main

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run one of the datapath cores against real sockets",
}

func init() {
	serveCmd.AddCommand(serveRelayCmd)
	serveCmd.AddCommand(serveDHCPCmd)
}
