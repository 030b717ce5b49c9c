package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"shopbot/pkg/configops"
	"shopbot/pkg/cron"
)

func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Inspect and manage scheduled follow-up reminders",
	}

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List scheduled reminders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := openReminders()
			if err != nil {
				return err
			}
			jobs := cs.ListJobs(all)
			if len(jobs) == 0 {
				fmt.Println("No reminders.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTO\tSCHEDULE\tENABLED\tNEXT RUN\tLAST STATUS")
			for _, job := range jobs {
				next := "-"
				if job.State.NextRunAtMS != nil {
					next = time.UnixMilli(*job.State.NextRunAtMS).Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\n", job.ID, job.Payload.To, describeSchedule(job.Schedule), job.Enabled, next, job.State.LastStatus)
			}
			return w.Flush()
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include disabled reminders")
	cmd.AddCommand(list)

	var schedule, tz string
	add := &cobra.Command{
		Use:   "add <to> <message>",
		Short: "Schedule a message to a chat, once or on a recurring schedule",
		Long: `Schedule a message to a chat address or phone number.

--schedule accepts "in 2h" or an RFC 3339 time for a single send, "every 72h"
for a fixed interval, or a five-field cron expression such as "0 10 * * 1"
evaluated in --tz.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := cron.ParseSchedule(schedule, tz, time.Now())
			if err != nil {
				return err
			}
			cs, err := openReminders()
			if err != nil {
				return err
			}
			job, err := addReminder(cs, args[0], args[1], sched)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Scheduled %s (%s)\n", job.ID, describeSchedule(job.Schedule))
			notifyGateway()
			return nil
		},
	}
	add.Flags().StringVar(&schedule, "schedule", "", `when to send: "in 2h", "every 72h", an RFC 3339 time or a cron expression`)
	add.Flags().StringVar(&tz, "tz", "", "IANA time zone for cron expressions (default: local)")
	_ = add.MarkFlagRequired("schedule")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a reminder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cs, err := openReminders()
			if err != nil {
				return err
			}
			if !cs.RemoveJob(args[0]) {
				return fmt.Errorf("reminder %s not found", args[0])
			}
			fmt.Printf("✓ Removed reminder %s\n", args[0])
			notifyGateway()
			return nil
		},
	})

	for _, enabled := range []bool{true, false} {
		use, short := "enable <id>", "Re-enable a reminder"
		if !enabled {
			use, short = "disable <id>", "Disable a reminder without deleting it"
		}
		cmd.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cs, err := openReminders()
				if err != nil {
					return err
				}
				job, err := cs.EnableJob(args[0], enabled)
				if err != nil {
					return err
				}
				fmt.Printf("✓ Reminder %s enabled=%v\n", job.ID, job.Enabled)
				notifyGateway()
				return nil
			},
		})
	}
	return cmd
}

// openReminders loads the job store without starting the scheduler. Edits made
// here reach a running gateway through notifyGateway.
func openReminders() (*cron.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cron.NewService(cfg.ReminderStorePath(), nil), nil
}

// addReminder stores a message job. One-shot jobs are dropped once sent.
func addReminder(cs *cron.Service, to, message string, sched cron.Schedule) (*cron.Job, error) {
	if message == "" {
		return nil, errors.New("message is empty")
	}
	return cs.AddJob("message:"+to, sched, cron.Payload{
		Kind:    cron.PayloadMessage,
		Message: message,
		To:      to,
	}, sched.Kind == cron.KindAt)
}

func describeSchedule(s cron.Schedule) string {
	switch s.Kind {
	case cron.KindAt:
		return "once at " + time.UnixMilli(*s.AtMS).Local().Format("2006-01-02 15:04")
	case cron.KindEvery:
		return "every " + (time.Duration(*s.EveryMS) * time.Millisecond).String()
	default:
		if s.TZ != "" {
			return fmt.Sprintf("cron %q in %s", s.Expr, s.TZ)
		}
		return fmt.Sprintf("cron %q", s.Expr)
	}
}

// notifyGateway asks a running gateway to reload the job store so it does not
// overwrite the edit with its own copy.
func notifyGateway() {
	if err := configops.SignalReload(getConfigPath()); err != nil {
		if errors.Is(err, configops.ErrNotRunning) {
			return
		}
		fmt.Printf("⚠ Could not notify the gateway, restart it to apply the change: %v\n", err)
		return
	}
	fmt.Println("✓ Gateway reload triggered")
}
