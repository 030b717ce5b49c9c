// Shopbot - WhatsApp storefront assistant
// License: MIT
//
// Copyright (c) 2026 Shopbot contributors

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shopbot/pkg/config"
	"shopbot/pkg/logger"
)

const version = "0.1.0"
const logo = "🛍"

var (
	globalConfigPathOverride string
	debugMode                bool
)

func main() {
	root := &cobra.Command{
		Use:           "shopbot",
		Short:         "WhatsApp storefront assistant",
		Long:          "Shopbot answers WhatsApp customers with catalog products, FAQ answers and shared Facebook post lookups.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debugMode {
				config.SetDebugMode(true)
				logger.SetLevel(logger.DEBUG)
			}
		},
	}

	root.PersistentFlags().StringVar(&globalConfigPathOverride, "config", "", "path to config.json (default: ~/.shopbot/config.json)")
	root.PersistentFlags().BoolVarP(&debugMode, "debug", "d", false, "enable debug logging")

	root.AddCommand(runCmd())
	root.AddCommand(catalogCmd())
	root.AddCommand(remindersCmd())
	root.AddCommand(configCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s shopbot v%s\n", logo, version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
