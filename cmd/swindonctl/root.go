//go:build cli

// cmd/swindonctl/root.go
// swindonctl is an operator CLI for exercising a running Gateway's Admin
// API and WebSocket front door from a terminal, grounded on the teacher's
// (now superseded) cmd/flarego/root.go cobra layout: a root command with a
// persistent --addr flag, subcommands registered from their own init().
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/swindon-rs/swindon-gateway/pkg/version"
)

var adminAddr string

var rootCmd = &cobra.Command{
	Use:   "swindonctl",
	Short: "Operate a swindon-gateway node from the command line",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminAddr, "addr", "http://127.0.0.1:8080", "Gateway base URL (Admin API + WebSocket)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print swindonctl's version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
