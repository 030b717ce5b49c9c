package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"shopbot/pkg/config"
	"shopbot/pkg/configops"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect, edit and validate the config file",
		Example: "  shopbot config set delivery.min_delay_ms 2000\n" +
			"  shopbot config set links.markers fb.me,fb.watch --list\n" +
			"  shopbot config get pages.page_ids\n" +
			"  shopbot config check\n" +
			"  shopbot config reload",
	}

	var asList, noReload bool
	set := &cobra.Command{
		Use:   "set <path> <value>",
		Short: "Set a config value and trigger a hot reload",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configops.NormalizePath(args[0])
			if err := configops.Set(getConfigPath(), path, configops.ParseValue(args[1], asList)); err != nil {
				return err
			}
			fmt.Printf("✓ Updated %s\n", path)
			if noReload {
				return nil
			}
			if err := configops.SignalReload(getConfigPath()); err != nil {
				if errors.Is(err, configops.ErrNotRunning) {
					fmt.Println("Gateway not running; change applies on next start")
					return nil
				}
				return err
			}
			fmt.Println("✓ Gateway reload triggered")
			return nil
		},
	}
	set.Flags().BoolVar(&asList, "list", false, "treat the value as a comma-separated list")
	set.Flags().BoolVar(&noReload, "no-reload", false, "do not signal a running gateway")
	cmd.AddCommand(set)

	cmd.AddCommand(&cobra.Command{
		Use:   "get <path>",
		Short: "Print a config value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgMap, err := configops.LoadMap(getConfigPath())
			if err != nil {
				return err
			}
			path := configops.NormalizePath(args[0])
			v, ok := configops.GetPath(cfgMap, path)
			if !ok {
				return fmt.Errorf("path not found: %s", path)
			}
			data, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the current config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(getConfigPath())
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}
			validationErrors := config.Validate(cfg)
			if len(validationErrors) == 0 {
				fmt.Println("✓ Config validation passed")
				return nil
			}
			fmt.Println("✗ Config validation failed:")
			for _, ve := range validationErrors {
				fmt.Printf("  - %v\n", ve)
			}
			return fmt.Errorf("%d config problem(s)", len(validationErrors))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := getConfigPath()
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("Config already exists at %s\n", path)
				return nil
			}
			if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("✓ Config written to %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reload",
		Short: "Ask the running gateway to reload its config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := configops.SignalReload(getConfigPath()); err != nil {
				return err
			}
			fmt.Println("✓ Gateway reload triggered")
			return nil
		},
	})
	return cmd
}
