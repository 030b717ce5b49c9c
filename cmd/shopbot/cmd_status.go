package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"shopbot/pkg/logger"
	"shopbot/pkg/server"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config, database and live gateway status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			configPath := getConfigPath()
			fmt.Printf("%s shopbot Status\n\n", logo)
			printPathStatus("Config", configPath)
			printPathStatus("Database", cfg.DatabasePath())
			if cfg.WhatsApp.Transport == "bridge" {
				fmt.Println("Transport: bridge", cfg.WhatsApp.BridgeURL)
			} else {
				fmt.Println("Transport: whatsmeow")
				printPathStatus("Device store", cfg.DeviceStorePath())
			}
			fmt.Printf("Reminders: %v\n", cfg.Reminder.Enabled)
			fmt.Printf("Logging: %v\n", cfg.Logging.Enabled)
			if cfg.Logging.Enabled {
				fmt.Printf("Log File: %s\n", cfg.LogFilePath())
			}

			base := fmt.Sprintf("http://%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
			st, err := fetchStatus(base)
			if err != nil {
				fmt.Printf("\nGateway: not reachable at %s (%v)\n", base, err)
				return nil
			}
			fmt.Printf("\nGateway: %s\n", base)
			fmt.Printf("Session: %s", st.Session.State)
			if st.Session.Initializing {
				fmt.Print(" (initializing)")
			}
			if st.Session.Pairing {
				fmt.Printf(" (waiting for QR scan, see %s/qr.png)", base)
			}
			fmt.Println()
			if !st.Session.Since.IsZero() {
				fmt.Printf("Since: %s\n", st.Session.Since.Local().Format(time.RFC3339))
			}
			fmt.Printf("Reconnects: %d\n", st.Session.Reconnects)
			if st.Reminders != nil {
				fmt.Printf("Scheduled reminders: %d (runs %d, failures %d)\n",
					st.Reminders.EnabledJobs, st.Reminders.TotalRuns, st.Reminders.TotalFailures)
			}
			return nil
		},
	}
}

func fetchStatus(base string) (*server.StatusResponse, error) {
	var st server.StatusResponse
	resp, err := resty.New().
		SetTimeout(3 * time.Second).
		SetLogger(logger.Printf{Component: "cli"}).
		R().
		SetResult(&st).
		Get(base + "/status")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode())
	}
	return &st, nil
}

func printPathStatus(label, path string) {
	if _, err := os.Stat(path); err == nil {
		fmt.Println(label+":", path, "✓")
	} else {
		fmt.Println(label+":", path, "✗")
	}
}
