package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"shopbot/pkg/bus"
	"shopbot/pkg/config"
	"shopbot/pkg/configops"
	"shopbot/pkg/cron"
	"shopbot/pkg/delivery"
	"shopbot/pkg/faq"
	"shopbot/pkg/links"
	"shopbot/pkg/logger"
	"shopbot/pkg/messaging"
	"shopbot/pkg/pages"
	"shopbot/pkg/router"
	"shopbot/pkg/server"
	"shopbot/pkg/session"
	"shopbot/pkg/store"
)

const (
	mediaDownloadTimeout = 30 * time.Second
	shutdownTimeout      = 10 * time.Second
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to WhatsApp and serve customers in the foreground",
		Long:  "Connect to WhatsApp and serve customers in the foreground.\nSend SIGHUP to reload logging and scheduler settings.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway()
		},
	}
}

func runGateway() error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open catalog database: %w", err)
	}
	defer db.Close()

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	var qrWriter io.Writer
	if cfg.WhatsApp.PrintQR {
		qrWriter = os.Stdout
	}
	sess := session.NewManager(session.Options{
		Connector:      buildConnector(cfg),
		Bus:            msgBus,
		ReconnectDelay: cfg.ReconnectDelay(),
		ConnectTimeout: seconds(cfg.WhatsApp.ConnectTimeoutSec),
		QRWriter:       qrWriter,
	})

	linkTimeout := seconds(cfg.Links.TimeoutSec)
	resolver := links.NewResolver(links.Options{
		MaxRedirects: cfg.Links.MaxRedirects,
		Timeout:      linkTimeout,
		UserAgent:    cfg.Links.UserAgent,
		Reel:         links.NewPageReelResolver(linkTimeout, cfg.Links.UserAgent, nil),
	})
	lookup := pages.NewGraphLookup(pages.Options{
		BaseURL:     cfg.Pages.GraphAPIBase,
		AccessToken: cfg.Pages.AccessToken,
		PageIDs:     cfg.Pages.PageIDs,
		Timeout:     seconds(cfg.Pages.TimeoutSec),
	})

	pacing := delivery.Jitter{Min: millis(cfg.Delivery.MinDelayMS), Max: millis(cfg.Delivery.MaxDelayMS)}
	var limiter *rate.Limiter
	if cfg.Delivery.SendsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Delivery.SendsPerSecond), cfg.Delivery.SendBurst)
	}
	sequencer := delivery.NewSequencer(sess, delivery.Options{
		Delay:         pacing,
		ImageBaseURL:  cfg.Delivery.ImageBaseURL,
		ImageFilename: cfg.Delivery.ImageFilename,
		ClosingPrompt: cfg.Delivery.ClosingPrompt,
		Limiter:       limiter,
	})

	reminders := cron.NewService(cfg.ReminderStorePath(), func(ctx context.Context, job cron.Job) error {
		return sess.SendText(ctx, job.Payload.To, job.Payload.Message)
	})
	configureCronRuntime(reminders, cfg)

	rt := router.New(router.Deps{
		Catalog:   db,
		Contacts:  db,
		Links:     resolver,
		Pages:     lookup,
		FAQ:       faq.NewResponder(db, sess),
		Delivery:  sequencer,
		Sender:    sess,
		Reminders: reminders,
	}, router.Options{
		Markers:         cfg.Links.Markers,
		NotFoundReply:   cfg.Pages.NotFoundReply,
		ReceiptDelay:    pacing,
		ReminderEnabled: cfg.Reminder.Enabled,
		ReminderDelay:   cfg.Reminder.Delay,
		ReminderMessage: cfg.Reminder.Message,
	})

	srv := server.NewServer(server.Options{
		Host:    cfg.Gateway.Host,
		Port:    cfg.Gateway.Port,
		Session: sess,
		Jobs:    reminders,
		Bus:     msgBus,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pidFile := configops.PIDFile(getConfigPath())
	if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644); err != nil {
		fmt.Printf("Warning: failed to write PID file: %v\n", err)
	} else {
		defer os.Remove(pidFile)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("start admin server: %w", err)
	}
	fmt.Printf("✓ Admin server on %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)

	if err := reminders.Start(ctx); err != nil {
		fmt.Printf("Error starting reminder scheduler: %v\n", err)
	} else {
		fmt.Println("✓ Reminder scheduler started")
	}

	rt.Run(ctx, msgBus)

	go func() {
		if err := sess.Start(ctx); err != nil {
			logger.ErrorCF("gateway", "WhatsApp session failed to start", map[string]interface{}{
				logger.FieldError: err.Error(),
			})
			return
		}
		fmt.Println("✓ WhatsApp session ready")
	}()

	fmt.Printf("✓ Connecting to WhatsApp via %s\n", cfg.WhatsApp.Transport)
	fmt.Println("Press Ctrl+C to stop. Send SIGHUP to reload config.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)
	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			reloadRuntime(reminders)
			continue
		}
		break
	}

	fmt.Println("\nShutting down...")
	cancel()
	rt.Stop()
	reminders.Stop()
	sess.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.WarnCF("gateway", "Admin server shutdown failed", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
	fmt.Println("✓ Gateway stopped")
	return nil
}

// reloadRuntime applies the settings that can change without reconnecting and
// re-reads the reminder store edited by `shopbot reminders`. Transport,
// database and pipeline settings need a restart.
func reloadRuntime(reminders *cron.Service) {
	fmt.Println("\n↻ Reloading config...")
	newCfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		fmt.Printf("✗ Reload failed (load config): %v\n", err)
		return
	}
	if errs := config.Validate(newCfg); len(errs) > 0 {
		fmt.Printf("✗ Reload failed (validate): %v\n", errs[0])
		return
	}
	configureLogging(newCfg)
	configureCronRuntime(reminders, newCfg)
	if err := reminders.Reload(); err != nil {
		fmt.Printf("✗ Reminder store reload failed: %v\n", err)
	}
	fmt.Println("✓ Logging and scheduler settings reloaded")
}

func buildConnector(cfg *config.Config) messaging.Connector {
	if cfg.WhatsApp.Transport == "bridge" {
		return messaging.NewBridgeConnector(cfg.WhatsApp.BridgeURL)
	}
	return messaging.NewWhatsmeowConnector(cfg.DeviceStorePath(), mediaDownloadTimeout)
}
